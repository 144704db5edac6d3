// Package verifier talks to KYC verification providers. Providers return
// a Result for a definitive answer, including rejections, and an
// apperr provider error when no answer was obtained.
package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

const (
	ProviderMock            = "mock"
	ProviderSmileIdentity   = "smile_identity"
	ProviderOnfido          = "onfido"
	ProviderComplyAdvantage = "comply_advantage"
)

// Subject is the aggregated identity of a profile.
type Subject struct {
	ProfileID   uuid.UUID
	FirstName   string
	MiddleName  string
	LastName    string
	DateOfBirth time.Time
	Nationality string
	Country     string
	IDType      models.IdentityDocType
	IDNumber    string
	IDCountry   string
}

func (s Subject) FullName() string {
	parts := []string{s.FirstName, s.MiddleName, s.LastName}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

type Document struct {
	ID       uuid.UUID
	Type     models.DocumentType
	MimeType string
	Content  []byte
	Subject  Subject
}

// Result is a provider verdict. Score is 0..100.
type Result struct {
	Success       bool
	Score         int
	Reference     string
	ExtractedData map[string]any
	Details       map[string]any
	Reason        string
}

type Verifier interface {
	Name() string
	VerifyDocument(ctx context.Context, doc Document) (Result, error)
	VerifyProfile(ctx context.Context, subject Subject) (Result, error)
}

func clampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// idTypeCode maps identity document types to the provider-neutral codes
// used by Smile Identity and Onfido.
func idTypeCode(t models.IdentityDocType) string {
	switch t {
	case models.DocPassport:
		return "PASSPORT"
	case models.DocNationalID:
		return "NATIONAL_ID"
	case models.DocDriverLicense:
		return "DRIVERS_LICENSE"
	case models.DocResidencePermit:
		return "RESIDENCE_PERMIT"
	}
	return strings.ToUpper(string(t))
}

func unsupported(provider, op string) string {
	return fmt.Sprintf("%s does not support %s", provider, op)
}
