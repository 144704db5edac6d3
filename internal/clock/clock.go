// Package clock provides the time and identifier sources every service
// takes as a dependency.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

// System reads the wall clock in UTC.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a settable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// IDGenerator returns a new version-4 UUID.
type IDGenerator func() uuid.UUID

func NewID() uuid.UUID {
	return uuid.New()
}

// Sequence returns an IDGenerator yielding ids in order, then random ones.
func Sequence(ids ...uuid.UUID) IDGenerator {
	var (
		mu   sync.Mutex
		next int
	)
	return func() uuid.UUID {
		mu.Lock()
		defer mu.Unlock()
		if next < len(ids) {
			id := ids[next]
			next++
			return id
		}
		return uuid.New()
	}
}
