package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/jobs"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

func withScreening(cfg *config.Config) {
	cfg.KYC.ScreeningProvider = "mock"
}

func TestTransientFailureLeavesDocumentPending(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	if _, err := h.profiles().Create(h.ctx, p.User.ID, completeInput(h.clock.Now()), Actor{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.verifier.FailNext(models.DocumentSelfie, apperr.Provider(true, "provider unavailable", nil))

	doc := h.upload(p.User.ID, models.DocumentSelfie)
	if doc.VerificationStatus != models.DocPending {
		t.Fatalf("expected pending after a transient failure, got %s", doc.VerificationStatus)
	}
	if doc.VerificationDetails["transient"] != true || doc.AutoVerificationScore != nil {
		t.Fatalf("expected transient details without score, got %+v", doc.VerificationDetails)
	}

	h.upload(p.User.ID, models.DocumentIdentityFront)
	h.upload(p.User.ID, models.DocumentProofOfAddress)

	// Submission requeues the pending selfie; its verdict completes the
	// review after the profile has moved to UnderReview.
	profile, err := h.profiles().Submit(h.ctx, p.User.ID, Actor{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if profile.KYCStatus != models.KYCApproved {
		t.Fatalf("expected approval once the selfie verified, got %s", profile.KYCStatus)
	}
	if profile.VerificationProvider != "mock" || !strings.HasPrefix(profile.VerificationReference, "mock-") {
		t.Fatalf("expected document verification provenance, got %q %q", profile.VerificationProvider, profile.VerificationReference)
	}
	stored, err := h.profiles().GetByID(h.ctx, profile.ID)
	if err != nil || stored.VerificationReference != profile.VerificationReference {
		t.Fatalf("expected provenance to be persisted, got %+v %v", stored, err)
	}
	if calls := h.verifier.DocumentCalls(); calls != 4 {
		t.Fatalf("expected 4 document calls, got %d", calls)
	}
	history := h.actions(p.User.ID)
	n := len(history)
	if history[n-3] != models.ActionProfileSubmitted || history[n-2] != models.ActionAutoVerification || history[n-1] != models.ActionProfileApproved {
		t.Fatalf("unexpected history tail %v", history[n-3:])
	}
}

func TestPermanentFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	if _, err := h.profiles().Create(h.ctx, p.User.ID, completeInput(h.clock.Now()), Actor{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.verifier.FailNext(models.DocumentIdentityFront, apperr.Provider(false, "unsupported document", nil))

	doc := h.upload(p.User.ID, models.DocumentIdentityFront)
	if doc.VerificationStatus != models.DocPending || doc.VerificationDetails["transient"] != false {
		t.Fatalf("expected pending with permanent failure details, got %s %+v", doc.VerificationStatus, doc.VerificationDetails)
	}
}

func TestStaleJobIsIgnored(t *testing.T) {
	h := newHarness(t, manualReview)
	p := h.customer("a@x.io", "+33612345678")
	profile, err := h.profiles().Create(h.ctx, p.User.ID, completeInput(h.clock.Now()), Actor{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first := h.upload(p.User.ID, models.DocumentSelfie)
	h.upload(p.User.ID, models.DocumentSelfie)

	job := jobs.DocumentJob(profile.ID, first.ID, h.clock.Now())
	if err := h.gateway().Handle(h.ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.verifier.DocumentCalls() != 0 {
		t.Fatalf("expected no provider call for a replaced document, got %d", h.verifier.DocumentCalls())
	}

	if err := h.gateway().Handle(h.ctx, jobs.Job{Kind: "unknown", ProfileID: profile.ID}); err == nil {
		t.Fatal("expected an error for an unknown job kind")
	}
	if err := h.gateway().Handle(h.ctx, jobs.DocumentJob(h.factory.deps.NewID(), first.ID, h.clock.Now())); !errors.Is(err, apperr.ErrKYCNotFound) {
		t.Fatalf("expected kyc not found for an unknown profile, got %v", err)
	}
}

func TestScreeningHitRejects(t *testing.T) {
	h := newHarness(t, withScreening)
	p := h.customer("a@x.io", "+33612345678")
	h.verifier.SetSanctionsHit(true)
	h.kycReady(p.User.ID)

	profile, err := h.profiles().Submit(h.ctx, p.User.ID, Actor{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if profile.KYCStatus != models.KYCRejected || profile.ScreeningStatus != models.SubRejected {
		t.Fatalf("expected rejection on screening hit, got %s %s", profile.KYCStatus, profile.ScreeningStatus)
	}
	if profile.RejectionReason == nil || *profile.RejectionReason != "sanctions screening hit" {
		t.Fatalf("unexpected reason %v", profile.RejectionReason)
	}
	if h.verifier.ProfileCalls() != 1 {
		t.Fatalf("expected one screening call, got %d", h.verifier.ProfileCalls())
	}
}

func TestScreeningClearApproves(t *testing.T) {
	h := newHarness(t, withScreening)
	p := h.customer("a@x.io", "+33612345678")
	h.kycReady(p.User.ID)

	profile, err := h.profiles().Submit(h.ctx, p.User.ID, Actor{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if profile.KYCStatus != models.KYCApproved || profile.ScreeningStatus != models.SubVerified {
		t.Fatalf("expected approval with clear screening, got %s %s", profile.KYCStatus, profile.ScreeningStatus)
	}
	if profile.VerificationProvider != "mock" || !strings.HasPrefix(profile.VerificationReference, "mock-screening-") {
		t.Fatalf("expected screening reference, got %q %q", profile.VerificationProvider, profile.VerificationReference)
	}
}

func TestScreeningReviewerCannotApproveHit(t *testing.T) {
	h := newHarness(t, withScreening, manualReview)
	p := h.customer("a@x.io", "+33612345678")
	h.verifier.SetSanctionsHit(true)
	profile := h.kycReady(p.User.ID)

	submitted, err := h.profiles().Submit(h.ctx, p.User.ID, Actor{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.KYCStatus != models.KYCRejected {
		t.Fatalf("expected screening hit to reject, got %s", submitted.KYCStatus)
	}
	_, err = h.profiles().Approve(h.ctx, profile.ID, Actor{}, "")
	expectCode(t, err, apperr.ErrKYCTransitionForbidden)
}
