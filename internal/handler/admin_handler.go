package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/service"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// AdminHandler handles KYC review, cohort management and account
// administration
type AdminHandler struct {
	responder
	profiles *service.ProfileService
	cohorts  *service.CohortGate
	identity *service.IdentityService
	auth     *service.AuthOrchestrator
	tokens   AccessAuthenticator
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	profiles *service.ProfileService,
	cohorts *service.CohortGate,
	identity *service.IdentityService,
	auth *service.AuthOrchestrator,
	tokens AccessAuthenticator,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		responder: responder{logger: logger},
		profiles:  profiles,
		cohorts:   cohorts,
		identity:  identity,
		auth:      auth,
		tokens:    tokens,
	}
}

type reviewRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

type cohortPatchRequest struct {
	Active *bool `json:"active"`
}

type rolePatchRequest struct {
	Role string `json:"role"`
}

type flagsPatchRequest struct {
	Paye             *bool `json:"paye"`
	CertOfCompletion *bool `json:"cert_of_completion"`
	IsVerified       *bool `json:"is_verified"`
}

// RegisterRoutes registers all admin routes
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Use(Authenticate(h.tokens, h.logger))
		r.Use(requireAdmin(h.logger))

		r.Get("/kyc/{profileID}", h.GetProfile)
		r.Post("/kyc/{profileID}/approve", h.ApproveProfile)
		r.Post("/kyc/{profileID}/reject", h.RejectProfile)
		r.Post("/kyc/{profileID}/suspend", h.SuspendProfile)

		r.Post("/cohorts", h.CreateCohort)
		r.Patch("/cohorts/{cohortID}", h.UpdateCohort)

		r.Post("/users/{userID}/revoke-tokens", h.RevokeTokens)
		r.Post("/users/{userID}/deactivate", h.DeactivateUser)
		r.Delete("/users/{userID}", h.DeleteUser)
		r.Patch("/users/{userID}/role", h.SetRole)
		r.Patch("/users/{userID}/flags", h.SetFlags)
	})
}

// GetProfile handles reviewer access to any profile
func (h *AdminHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profileID, err := parseUUID("profile_id", chi.URLParam(r, "profileID"))
	if err != nil {
		h.fail(w, r, err, "Invalid profile id")
		return
	}
	profile, err := h.profiles.GetByID(r.Context(), profileID)
	if err != nil {
		h.fail(w, r, err, "Failed to get kyc profile")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(profile, ""))
}

// reviewInput reads the profile id and the optional note or reason.
func (h *AdminHandler) reviewInput(w http.ResponseWriter, r *http.Request) (uuid.UUID, reviewRequest, bool) {
	var req reviewRequest
	profileID, err := parseUUID("profile_id", chi.URLParam(r, "profileID"))
	if err != nil {
		h.fail(w, r, err, "Invalid profile id")
		return uuid.Nil, req, false
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			h.fail(w, r, err, "Invalid request body")
			return uuid.Nil, req, false
		}
	}
	return profileID, req, true
}

func (h *AdminHandler) reviewed(w http.ResponseWriter, r *http.Request, action string, profile *models.KYCProfile, startTime time.Time) {
	h.respondWithJSON(w, http.StatusOK, successResponse(profile, "KYC profile "+string(profile.KYCStatus)))
	h.logger.Info("KYC review via HTTP",
		util.String("profile_id", profile.ID.String()),
		util.String("action", action),
		util.String("reviewer_id", PrincipalFrom(r.Context()).User.ID.String()),
		util.Duration("duration", time.Since(startTime)),
	)
}

// ApproveProfile handles manual approval of a profile under review
func (h *AdminHandler) ApproveProfile(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	profileID, req, ok := h.reviewInput(w, r)
	if !ok {
		return
	}
	profile, err := h.profiles.Approve(r.Context(), profileID, actor(r), req.Note)
	if err != nil {
		h.fail(w, r, err, "Failed to approve kyc profile")
		return
	}
	h.reviewed(w, r, "approve", profile, startTime)
}

// RejectProfile handles manual rejection; a reason is required
func (h *AdminHandler) RejectProfile(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	profileID, req, ok := h.reviewInput(w, r)
	if !ok {
		return
	}
	profile, err := h.profiles.Reject(r.Context(), profileID, actor(r), req.Reason)
	if err != nil {
		h.fail(w, r, err, "Failed to reject kyc profile")
		return
	}
	h.reviewed(w, r, "reject", profile, startTime)
}

// SuspendProfile handles suspension of an approved profile
func (h *AdminHandler) SuspendProfile(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	profileID, req, ok := h.reviewInput(w, r)
	if !ok {
		return
	}
	profile, err := h.profiles.Suspend(r.Context(), profileID, actor(r), req.Reason)
	if err != nil {
		h.fail(w, r, err, "Failed to suspend kyc profile")
		return
	}
	h.reviewed(w, r, "suspend", profile, startTime)
}

// CreateCohort handles cohort creation
func (h *AdminHandler) CreateCohort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.CohortInput
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	cohort, err := h.cohorts.CreateCohort(ctx, req)
	if err != nil {
		h.fail(w, r, err, "Failed to create cohort")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(cohort, "Cohort created"))
	h.logger.Info("Cohort created via HTTP", util.String("cohort", cohort.Code), util.Bool("active", cohort.Active))
}

// UpdateCohort toggles a cohort's active flag
func (h *AdminHandler) UpdateCohort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cohortID, err := parseUUID("cohort_id", chi.URLParam(r, "cohortID"))
	if err != nil {
		h.fail(w, r, err, "Invalid cohort id")
		return
	}
	var req cohortPatchRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	if req.Active == nil {
		h.fail(w, r, apperr.Validation("active", "is required"), "Nothing to update")
		return
	}

	cohort, err := h.cohorts.SetActive(ctx, cohortID, *req.Active)
	if err != nil {
		h.fail(w, r, err, "Failed to update cohort")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(cohort, "Cohort updated"))
}

func (h *AdminHandler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseUUID("user_id", chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err, "Invalid user id")
		return uuid.Nil, false
	}
	return id, true
}

// RevokeTokens handles revoking every session of a user
func (h *AdminHandler) RevokeTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	n, err := h.auth.RevokeSessions(r.Context(), userID, clientMeta(r))
	if err != nil {
		h.fail(w, r, err, "Failed to revoke tokens")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int64{"revoked": n}, "Tokens revoked"))
}

// DeactivateUser handles disabling an account and its sessions
func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.identity.Deactivate(r.Context(), userID); err != nil {
		h.fail(w, r, err, "Failed to deactivate user")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "User deactivated"))
	h.logger.Info("User deactivated via HTTP", util.String("user_id", userID.String()))
}

// DeleteUser removes an account and everything attached to it
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.identity.Delete(r.Context(), userID); err != nil {
		h.fail(w, r, err, "Failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logger.Info("User deleted via HTTP",
		util.String("user_id", userID.String()),
		util.String("admin_id", PrincipalFrom(r.Context()).User.ID.String()),
	)
}

// SetRole handles role changes
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req rolePatchRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	user, err := h.identity.SetRole(r.Context(), userID, models.Role(strings.ToLower(strings.TrimSpace(req.Role))))
	if err != nil {
		h.fail(w, r, err, "Failed to set role")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(user, "Role updated"))
	h.logger.Info("User role changed via HTTP", util.String("user_id", userID.String()), util.String("role", string(user.Role)))
}

// SetFlags handles paye, cert_of_completion and is_verified overrides
func (h *AdminHandler) SetFlags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req flagsPatchRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}

	user, err := h.identity.SetFlags(ctx, userID, req.Paye, req.CertOfCompletion)
	if err != nil {
		h.fail(w, r, err, "Failed to update user")
		return
	}
	if req.IsVerified != nil {
		if user, err = h.identity.SetVerified(ctx, userID, *req.IsVerified); err != nil {
			h.fail(w, r, err, "Failed to update user")
			return
		}
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(user, "User updated"))
}
