package service

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	id := uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(id)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxSeen)
	}
	if n := k.size(); n != 0 {
		t.Fatalf("expected entries to be released, got %d", n)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	a, b := uuid.New(), uuid.New()

	unlockA := k.Lock(a)
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock(b)
		unlockB()
		close(done)
	}()
	<-done
	if n := k.size(); n != 1 {
		t.Fatalf("expected only the held key, got %d", n)
	}
	unlockA()
	if n := k.size(); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}
}
