package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

func TestInlineRunsSynchronously(t *testing.T) {
	var got Job
	q := NewInline(func(ctx context.Context, job Job) error {
		got = job
		return nil
	})
	job := DocumentJob(uuid.New(), uuid.New(), time.Now())
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got.DocumentID != job.DocumentID {
		t.Fatalf("expected job to run inline")
	}
}

func TestWorkerPoolDrainsOnStop(t *testing.T) {
	var mu sync.Mutex
	seen := 0
	pool := NewWorkerPool(func(ctx context.Context, job Job) error {
		mu.Lock()
		seen++
		mu.Unlock()
		if job.Kind == KindProfile {
			return errors.New("boom")
		}
		return nil
	}, 2, 8)
	pool.Start(context.Background())

	for i := 0; i < 6; i++ {
		job := DocumentJob(uuid.New(), uuid.New(), time.Now())
		if i%2 == 0 {
			job = ProfileJob(uuid.New(), time.Now())
		}
		if err := pool.Enqueue(context.Background(), job); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	pool.Stop()

	if seen != 6 {
		t.Fatalf("expected 6 jobs handled, got %d", seen)
	}
	if err := pool.Enqueue(context.Background(), ProfileJob(uuid.New(), time.Now())); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	done := make(chan struct{})
	calls := 0
	pool := NewWorkerPool(func(ctx context.Context, job Job) error {
		calls++
		if calls == 1 {
			panic("bad job")
		}
		close(done)
		return nil
	}, 1, 2)
	pool.Start(context.Background())
	_ = pool.Enqueue(context.Background(), ProfileJob(uuid.New(), time.Now()))
	_ = pool.Enqueue(context.Background(), ProfileJob(uuid.New(), time.Now()))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
	pool.Stop()
}

type fakeBroker struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (b *fakeBroker) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, kafka.Message{Topic: topic, Key: key, Value: value, Offset: int64(len(b.messages))})
	return nil
}

func (b *fakeBroker) FetchMessage(ctx context.Context) (kafka.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		b.cancel()
		return kafka.Message{}, context.Canceled
	}
	msg := b.messages[0]
	b.messages = b.messages[1:]
	return msg, nil
}

func (b *fakeBroker) CommitMessage(ctx context.Context, msg kafka.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed = append(b.committed, msg.Offset)
	return nil
}

func TestKafkaRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := &fakeBroker{cancel: cancel}
	q := NewKafka(broker, "kyc.verification.jobs")

	profileID := uuid.New()
	if err := q.Enqueue(ctx, DocumentJob(profileID, uuid.New(), time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if string(broker.messages[0].Key) != profileID.String() {
		t.Fatalf("expected profile id key, got %q", broker.messages[0].Key)
	}
	broker.messages = append(broker.messages, kafka.Message{Value: []byte("{not json"), Offset: 1})

	var handled []Job
	err := Consume(ctx, broker, func(ctx context.Context, job Job) error {
		handled = append(handled, job)
		return nil
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(handled) != 1 || handled[0].ProfileID != profileID {
		t.Fatalf("unexpected handled jobs %+v", handled)
	}
	if len(broker.committed) != 2 {
		t.Fatalf("expected both offsets committed, got %v", broker.committed)
	}
}
