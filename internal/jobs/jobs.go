// Package jobs queues KYC verification work. Producers enqueue after
// their transaction commits; a Handler runs each job.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDocument Kind = "document"
	KindProfile  Kind = "profile"
)

type Job struct {
	Kind       Kind      `json:"kind"`
	ProfileID  uuid.UUID `json:"profile_id"`
	DocumentID uuid.UUID `json:"document_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func DocumentJob(profileID, documentID uuid.UUID, at time.Time) Job {
	return Job{Kind: KindDocument, ProfileID: profileID, DocumentID: documentID, EnqueuedAt: at}
}

func ProfileJob(profileID uuid.UUID, at time.Time) Job {
	return Job{Kind: KindProfile, ProfileID: profileID, EnqueuedAt: at}
}

type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

var ErrClosed = errors.New("job queue closed")

// Inline runs jobs on the caller's goroutine.
type Inline struct {
	handler Handler
}

func NewInline(h Handler) *Inline {
	return &Inline{handler: h}
}

func (q *Inline) Enqueue(ctx context.Context, job Job) error {
	return q.handler(ctx, job)
}
