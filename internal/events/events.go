// Package events publishes domain events after their transaction commits.
// Publishing is best effort: failures are logged by the caller and never
// undo the committed change.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

const (
	UserRegistered   = "user.registered"
	UserActivated    = "user.activated"
	KYCStatusChanged = "kyc.status_changed"
	CohortJoined     = "cohort.joined"
)

type Event struct {
	ID          uuid.UUID      `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func New(typ string, aggregateID uuid.UUID, at time.Time, payload map[string]any) Event {
	return Event{
		ID:          uuid.New(),
		Type:        typ,
		AggregateID: aggregateID.String(),
		OccurredAt:  at,
		Payload:     payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Kafka writes events keyed by aggregate id.
type Kafka struct {
	producer MessageProducer
	topic    string
}

func NewKafka(producer MessageProducer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

func (k *Kafka) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	headers := map[string]string{
		"event_type": e.Type,
		"event_id":   e.ID.String(),
	}
	if err := k.producer.ProduceMessage(ctx, k.topic, []byte(e.AggregateID), value, headers); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

type Log struct{}

func (Log) Publish(ctx context.Context, e Event) error {
	util.Info("Domain event",
		util.String("event_type", e.Type),
		util.String("aggregate_id", e.AggregateID),
		util.Any("payload", e.Payload))
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
