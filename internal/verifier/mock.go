package verifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// Mock scores documents from a per-type table. Errors queued with FailNext
// are returned before any score.
type Mock struct {
	mu            sync.Mutex
	defaultScore  int
	scores        map[models.DocumentType]int
	failures      map[models.DocumentType][]error
	sanctionsHit  bool
	documentCalls int
	profileCalls  int
}

func NewMock(defaultScore int) *Mock {
	return &Mock{
		defaultScore: clampScore(defaultScore),
		scores:       make(map[models.DocumentType]int),
		failures:     make(map[models.DocumentType][]error),
	}
}

func (m *Mock) Name() string { return ProviderMock }

func (m *Mock) SetScore(t models.DocumentType, score int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[t] = clampScore(score)
}

// FailNext makes the next call for t return err.
func (m *Mock) FailNext(t models.DocumentType, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[t] = append(m.failures[t], err)
}

func (m *Mock) SetSanctionsHit(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sanctionsHit = hit
}

func (m *Mock) DocumentCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documentCalls
}

func (m *Mock) ProfileCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profileCalls
}

func (m *Mock) VerifyDocument(ctx context.Context, doc Document) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documentCalls++

	if queued := m.failures[doc.Type]; len(queued) > 0 {
		m.failures[doc.Type] = queued[1:]
		return Result{}, queued[0]
	}

	score, ok := m.scores[doc.Type]
	if !ok {
		score = m.defaultScore
	}
	util.Debug("Mock document verification",
		util.String("document_type", string(doc.Type)),
		util.Int("score", score))

	return Result{
		Success:   true,
		Score:     score,
		Reference: "mock-" + uuid.NewString(),
		ExtractedData: map[string]any{
			"document_type": string(doc.Type),
			"mime_type":     doc.MimeType,
		},
		Details: map[string]any{
			"provider": ProviderMock,
			"score":    score,
		},
	}, nil
}

func (m *Mock) VerifyProfile(ctx context.Context, subject Subject) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileCalls++

	if m.sanctionsHit {
		return Result{
			Success:   false,
			Score:     0,
			Reference: "mock-screening-" + subject.ProfileID.String(),
			Details:   map[string]any{"provider": ProviderMock, "total_hits": 1},
			Reason:    fmt.Sprintf("sanctions match for %s", subject.FullName()),
		}, nil
	}
	return Result{
		Success:   true,
		Score:     100,
		Reference: "mock-screening-" + subject.ProfileID.String(),
		Details:   map[string]any{"provider": ProviderMock, "total_hits": 0},
	}, nil
}
