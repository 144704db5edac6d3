package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/jobs"
	"github.com/franckdigital/xamila-backend-sub001/internal/metrics"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
	"github.com/franckdigital/xamila-backend-sub001/internal/verifier"
)

// VerificationGateway runs verification jobs against the configured
// providers and writes the verdicts back. Provider calls happen outside
// the profile lock; the verdict is applied only if the document is still
// the one that was sent.
type VerificationGateway struct {
	profiles  *ProfileService
	documents *DocumentService
	verifier  verifier.Verifier
	screener  verifier.Verifier
	clock     clock.Clock
	logger    *zap.Logger
}

// NewVerificationGateway takes the document verifier and the sanctions
// screener; either may be nil to leave that work to manual review.
func NewVerificationGateway(
	profiles *ProfileService,
	documents *DocumentService,
	documentVerifier verifier.Verifier,
	screener verifier.Verifier,
	clk clock.Clock,
	logger *zap.Logger,
) *VerificationGateway {
	return &VerificationGateway{
		profiles:  profiles,
		documents: documents,
		verifier:  documentVerifier,
		screener:  screener,
		clock:     clk,
		logger:    logger,
	}
}

func (g *VerificationGateway) Handle(ctx context.Context, job jobs.Job) error {
	switch job.Kind {
	case jobs.KindDocument:
		return g.VerifyDocument(ctx, job.ProfileID, job.DocumentID)
	case jobs.KindProfile:
		return g.ScreenProfile(ctx, job.ProfileID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func subjectOf(p *models.KYCProfile) verifier.Subject {
	s := verifier.Subject{
		ProfileID:   p.ID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DateOfBirth: p.DateOfBirth,
		Nationality: p.Nationality,
		Country:     p.Country,
		IDType:      p.IdentityDocType,
		IDNumber:    p.IdentityDocNumber,
		IDCountry:   p.IdentityDocIssuingCountry,
	}
	if p.MiddleName != nil {
		s.MiddleName = *p.MiddleName
	}
	return s
}

// VerifyDocument verifies one Pending document.
func (g *VerificationGateway) VerifyDocument(ctx context.Context, profileID, documentID uuid.UUID) error {
	if g.verifier == nil {
		return nil
	}

	var (
		doc     *models.KYCDocument
		subject verifier.Subject
	)
	_, _, err := g.profiles.withProfile(ctx, profileID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		d, err := tx.KYC().GetDocument(ctx, documentID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load document: %w", err)
		}
		if d.ProfileID != p.ID || d.VerificationStatus != models.DocPending {
			return nil
		}
		d.VerificationStatus = models.DocProcessing
		if err := tx.KYC().UpdateDocument(ctx, d); err != nil {
			return fmt.Errorf("mark document processing: %w", err)
		}
		doc = d
		subject = subjectOf(p)
		return nil
	})
	if err != nil {
		return err
	}
	if doc == nil {
		g.logger.Debug("Skipping verification of document no longer pending",
			util.String("document_id", documentID.String()))
		return nil
	}

	result, verr := g.callDocument(ctx, doc, subject)

	_, _, err = g.profiles.withProfile(ctx, profileID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		current, err := tx.KYC().GetDocument(ctx, documentID)
		if errors.Is(err, repository.ErrNotFound) {
			g.logger.Info("Discarding verification result of a replaced document",
				util.String("document_id", documentID.String()))
			return nil
		}
		if err != nil {
			return fmt.Errorf("load document: %w", err)
		}
		if current.VerificationStatus != models.DocProcessing {
			return nil
		}

		now := g.clock.Now()
		description := g.applyVerdict(current, result, verr, now)
		if err := tx.KYC().UpdateDocument(ctx, current); err != nil {
			return fmt.Errorf("update document: %w", err)
		}

		docs, err := tx.KYC().ListDocuments(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		if p.KYCStatus == models.KYCPending || p.KYCStatus == models.KYCUnderReview {
			deriveSubStatuses(p, docs)
			// Screening results carry the profile provenance when enabled.
			if verr == nil && g.screener == nil {
				p.VerificationProvider = g.verifier.Name()
				p.VerificationReference = result.Reference
			}
			p.UpdatedAt = now
			if err := g.profiles.saveTx(ctx, tx, p); err != nil {
				return err
			}
		}

		newValues := map[string]any{
			"document_id":         current.ID.String(),
			"document_type":       string(current.DocumentType),
			"verification_status": string(current.VerificationStatus),
			"provider":            g.verifier.Name(),
		}
		if current.AutoVerificationScore != nil {
			newValues["score"] = *current.AutoVerificationScore
		}
		if err := g.profiles.logTx(ctx, tx, p.ID, models.ActionAutoVerification, description, Actor{},
			map[string]any{"verification_status": string(models.DocProcessing)}, newValues, now); err != nil {
			return err
		}
		return g.profiles.aggregateTx(ctx, tx, p, docs, now, cs)
	})
	return err
}

func (g *VerificationGateway) callDocument(ctx context.Context, doc *models.KYCDocument, subject verifier.Subject) (verifier.Result, error) {
	content, err := g.documents.Content(ctx, doc)
	if err != nil {
		return verifier.Result{}, err
	}
	started := time.Now()
	result, err := g.verifier.VerifyDocument(ctx, verifier.Document{
		ID:       doc.ID,
		Type:     doc.DocumentType,
		MimeType: doc.MimeType,
		Content:  content,
		Subject:  subject,
	})
	metrics.ObserveVerification(g.verifier.Name(), "document", err, started)
	if err != nil {
		g.logger.Warn("Document verification failed",
			util.String("document_id", doc.ID.String()),
			util.String("provider", g.verifier.Name()),
			util.Bool("transient", apperr.IsTransient(err)),
			util.ErrorField(err))
	}
	return result, err
}

// applyVerdict writes the provider outcome onto doc and returns the audit
// description. Errors send the document back to Pending for manual review.
func (g *VerificationGateway) applyVerdict(doc *models.KYCDocument, result verifier.Result, verr error, now time.Time) string {
	threshold := g.profiles.cfg.AutoReject
	if verr != nil {
		doc.VerificationStatus = models.DocPending
		doc.VerificationDetails = map[string]any{
			"provider":  g.verifier.Name(),
			"error":     verr.Error(),
			"transient": apperr.IsTransient(verr),
			"timeout":   apperr.IsTimeout(verr),
		}
		return fmt.Sprintf("Verification of %s failed, left for manual review", doc.DocumentType)
	}

	score := result.Score
	doc.AutoVerificationScore = &score
	doc.ExtractedData = result.ExtractedData
	details := map[string]any{"provider": g.verifier.Name()}
	for k, v := range result.Details {
		details[k] = v
	}
	if result.Reference != "" {
		details["reference"] = result.Reference
	}
	doc.VerificationDetails = details

	if result.Success && score >= threshold {
		doc.VerificationStatus = models.DocVerified
		doc.VerifiedAt = &now
		doc.RejectionReason = nil
		return fmt.Sprintf("%s verified with score %d", doc.DocumentType, score)
	}

	var reason string
	switch {
	case !result.Success && result.Reason != "":
		reason = fmt.Sprintf("%s: %s", doc.DocumentType, result.Reason)
	case !result.Success:
		reason = fmt.Sprintf("%s: rejected by %s", doc.DocumentType, g.verifier.Name())
	default:
		reason = fmt.Sprintf("%s: verification score %d below threshold %d", doc.DocumentType, score, threshold)
	}
	doc.VerificationStatus = models.DocRejected
	doc.VerifiedAt = nil
	doc.RejectionReason = &reason
	return reason
}

// ScreenProfile runs sanctions screening on a submitted profile.
func (g *VerificationGateway) ScreenProfile(ctx context.Context, profileID uuid.UUID) error {
	if g.screener == nil {
		return nil
	}
	p, err := g.profiles.GetByID(ctx, profileID)
	if err != nil {
		return err
	}
	if p.ScreeningStatus != models.SubSubmitted {
		return nil
	}

	started := time.Now()
	result, verr := g.screener.VerifyProfile(ctx, subjectOf(p))
	metrics.ObserveVerification(g.screener.Name(), "profile", verr, started)

	_, _, err = g.profiles.withProfile(ctx, profileID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		if p.ScreeningStatus != models.SubSubmitted {
			return nil
		}
		now := g.clock.Now()
		newValues := map[string]any{"provider": g.screener.Name()}
		var description string
		switch {
		case verr != nil:
			// Screening stays Submitted so a reviewer decides.
			newValues["error"] = verr.Error()
			description = "Sanctions screening failed, left for manual review"
			g.logger.Warn("Sanctions screening failed",
				util.String("profile_id", p.ID.String()),
				util.ErrorField(verr))
		case result.Success:
			p.ScreeningStatus = models.SubVerified
			description = "Sanctions screening clear"
		default:
			p.ScreeningStatus = models.SubRejected
			description = "Sanctions screening hit"
			if result.Reason != "" {
				description += ": " + result.Reason
			}
		}
		if verr == nil {
			p.VerificationProvider = g.screener.Name()
			p.VerificationReference = result.Reference
			newValues["screening_status"] = string(p.ScreeningStatus)
			newValues["reference"] = result.Reference
			newValues["score"] = result.Score
			p.UpdatedAt = now
			if err := g.profiles.saveTx(ctx, tx, p); err != nil {
				return err
			}
		}
		if err := g.profiles.logTx(ctx, tx, p.ID, models.ActionAutoVerification, description, Actor{},
			map[string]any{"screening_status": string(models.SubSubmitted)}, newValues, now); err != nil {
			return err
		}
		docs, err := tx.KYC().ListDocuments(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		return g.profiles.aggregateTx(ctx, tx, p, docs, now, cs)
	})
	return err
}
