package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/service"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// UserHandler handles cohort membership and challenge access for the
// signed-in user
type UserHandler struct {
	responder
	cohorts *service.CohortGate
	tokens  AccessAuthenticator
}

// NewUserHandler creates a new user handler
func NewUserHandler(cohorts *service.CohortGate, tokens AccessAuthenticator, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		responder: responder{logger: logger},
		cohorts:   cohorts,
		tokens:    tokens,
	}
}

type joinCohortRequest struct {
	Code string `json:"code"`
}

type accessResponse struct {
	HasAccess bool   `json:"has_access"`
	Message   string `json:"message"`
}

// RegisterRoutes registers all user routes
func (h *UserHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(Authenticate(h.tokens, h.logger))

		r.Get("/user/cohort-access", h.CohortAccess)
		r.Post("/user/join-cohort", h.JoinCohort)
		r.Get("/user/cohorts", h.ListCohorts)

		r.With(h.requireChallengeAccess).Get("/challenges/access-check", h.ChallengeAccessCheck)
	})
}

// requireChallengeAccess guards savings-challenge endpoints.
func (h *UserHandler) requireChallengeAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.cohorts.RequireChallengeAccess(r.Context(), PrincipalFrom(r.Context())); err != nil {
			h.fail(w, r, err, "Challenge access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CohortAccess reports whether the caller may use savings challenges
func (h *UserHandler) CohortAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ok, msg, err := h.cohorts.ChallengeAccess(ctx, PrincipalFrom(ctx))
	if err != nil {
		h.fail(w, r, err, "Failed to check cohort access")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(accessResponse{HasAccess: ok, Message: msg}, ""))
}

// JoinCohort handles joining a cohort by its code
func (h *UserHandler) JoinCohort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	principal := PrincipalFrom(ctx)

	var req joinCohortRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}

	cohort, err := h.cohorts.JoinByCode(ctx, principal.User.ID, req.Code)
	if err != nil {
		h.fail(w, r, err, "Failed to join cohort")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(cohort, "Joined cohort "+cohort.Code))
	h.logger.Info("User joined cohort via HTTP",
		util.String("user_id", principal.User.ID.String()),
		util.String("cohort", cohort.Code),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "JoinCohort"),
	)
}

// ListCohorts handles the caller's cohorts, newest first
func (h *UserHandler) ListCohorts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	cohorts, err := h.cohorts.ListForUser(ctx, principal.User.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to list cohorts")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(cohorts, ""))
}

// ChallengeAccessCheck is a sample endpoint behind the challenge guard
func (h *UserHandler) ChallengeAccessCheck(w http.ResponseWriter, r *http.Request) {
	ok, msg, err := h.cohorts.ChallengeAccess(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err, "Failed to check cohort access")
		return
	}
	if !ok {
		h.fail(w, r, apperr.AccessDenied(msg), "Challenge access denied")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(accessResponse{HasAccess: ok, Message: msg}, "Challenge access granted"))
}
