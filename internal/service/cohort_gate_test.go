package service

import (
	"testing"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

func (h *harness) cohort(code string, month int, active bool) *models.Cohort {
	h.t.Helper()
	c, err := h.cohorts().CreateCohort(h.ctx, CohortInput{Code: code, Name: "Cohort " + code, Month: month, Year: 2026, Active: active})
	if err != nil {
		h.t.Fatalf("create cohort %s: %v", code, err)
	}
	return c
}

func expectAccess(t *testing.T, h *harness, p *Principal, wantOK bool, wantMsg string) {
	t.Helper()
	ok, msg, err := h.cohorts().ChallengeAccess(h.ctx, p)
	if err != nil {
		t.Fatalf("challenge access: %v", err)
	}
	if ok != wantOK || msg != wantMsg {
		t.Fatalf("expected (%v, %q), got (%v, %q)", wantOK, wantMsg, ok, msg)
	}
}

func TestChallengeAccessCachesDecision(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	c1 := h.cohort("C1", 3, true)

	expectAccess(t, h, p, false, "no cohort assigned")
	if _, err := h.cohorts().JoinByCode(h.ctx, p.User.ID, " c1 "); err != nil {
		t.Fatalf("join: %v", err)
	}
	expectAccess(t, h, p, true, "via cohort(s): C1")

	// A toggle that bypasses the gate is only seen once the cached
	// decision lapses.
	if err := h.store.Cohorts().SetActive(h.ctx, c1.ID, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	expectAccess(t, h, p, true, "via cohort(s): C1")
	h.clock.Advance(2*time.Minute + time.Second)
	expectAccess(t, h, p, false, "all cohorts deactivated")

	if _, err := h.cohorts().SetActive(h.ctx, c1.ID, true); err != nil {
		t.Fatalf("set active: %v", err)
	}
	expectAccess(t, h, p, true, "via cohort(s): C1")
	if _, err := h.cohorts().SetActive(h.ctx, c1.ID, false); err != nil {
		t.Fatalf("set inactive: %v", err)
	}
	expectAccess(t, h, p, false, "all cohorts deactivated")

	err := h.cohorts().RequireChallengeAccess(h.ctx, p)
	expectCode(t, err, apperr.ErrAccessDenied)
	e, _ := apperr.As(err)
	if e.Message != "all cohorts deactivated" {
		t.Fatalf("unexpected denial message %q", e.Message)
	}
}

func TestChallengeAccessListsActiveCohorts(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	h.cohort("MAR26", 3, true)
	h.cohort("APR26", 4, true)
	old := h.cohort("JAN26", 1, true)
	for _, code := range []string{"MAR26", "APR26", "JAN26"} {
		if _, err := h.cohorts().JoinByCode(h.ctx, p.User.ID, code); err != nil {
			t.Fatalf("join %s: %v", code, err)
		}
	}
	if _, err := h.cohorts().SetActive(h.ctx, old.ID, false); err != nil {
		t.Fatalf("set inactive: %v", err)
	}
	expectAccess(t, h, p, true, "via cohort(s): APR26, MAR26")

	listed, err := h.cohorts().ListForUser(h.ctx, p.User.ID)
	if err != nil || len(listed) != 3 || listed[0].Code != "APR26" {
		t.Fatalf("expected 3 cohorts newest first, got %v %v", listed, err)
	}

	expectAccess(t, h, nil, false, "unauthenticated")
}

func TestJoinByCodeErrors(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	h.cohort("OPEN", 5, true)
	h.cohort("CLOSED", 6, false)

	_, err := h.cohorts().JoinByCode(h.ctx, p.User.ID, "nope")
	expectCode(t, err, &apperr.Error{Kind: apperr.KindValidation, Code: apperr.CodeInvalidCode})
	_, err = h.cohorts().JoinByCode(h.ctx, p.User.ID, "   ")
	expectCode(t, err, &apperr.Error{Kind: apperr.KindValidation, Code: apperr.CodeInvalidCode})
	_, err = h.cohorts().JoinByCode(h.ctx, p.User.ID, "closed")
	expectCode(t, err, &apperr.Error{Kind: apperr.KindAccessDenied, Code: apperr.CodeInactive})

	if _, err := h.cohorts().JoinByCode(h.ctx, p.User.ID, "OPEN"); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, err = h.cohorts().JoinByCode(h.ctx, p.User.ID, "open")
	expectCode(t, err, &apperr.Error{Kind: apperr.KindConflict, Code: apperr.CodeAlreadyMember})
}

func TestCreateCohortValidation(t *testing.T) {
	h := newHarness(t)
	h.cohort("MAY26", 5, true)

	cases := []struct {
		name  string
		in    CohortInput
		field string
	}{
		{"bad code", CohortInput{Code: "may 26", Month: 5, Year: 2026}, "code"},
		{"long code", CohortInput{Code: "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456", Month: 5, Year: 2026}, "code"},
		{"month", CohortInput{Code: "X1", Month: 13, Year: 2026}, "month"},
		{"year", CohortInput{Code: "X1", Month: 1, Year: 1999}, "year"},
		{"duplicate", CohortInput{Code: "may26", Month: 5, Year: 2026}, "code"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := h.cohorts().CreateCohort(h.ctx, c.in)
			e, ok := apperr.As(err)
			if !ok || e.Field != c.field {
				t.Fatalf("expected error on %s, got %v", c.field, err)
			}
		})
	}

	c, err := h.cohorts().CreateCohort(h.ctx, CohortInput{Code: "jun-26", Month: 6, Year: 2026})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Code != "JUN-26" || c.Name != "JUN-26" || c.Active {
		t.Fatalf("unexpected cohort %+v", c)
	}
	if _, err := h.cohorts().SetActive(h.ctx, h.factory.deps.NewID(), true); !isValidation(err) {
		t.Fatalf("expected validation error for unknown cohort, got %v", err)
	}
}

func isValidation(err error) bool {
	e, ok := apperr.As(err)
	return ok && e.Kind == apperr.KindValidation
}
