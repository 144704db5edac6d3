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

// AuthHandler handles registration, OTP verification, login and the
// password flows.
type AuthHandler struct {
	responder
	auth     *service.AuthOrchestrator
	profiles *service.ProfileService
	tokens   AccessAuthenticator
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth *service.AuthOrchestrator, profiles *service.ProfileService, tokens AccessAuthenticator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		responder: responder{logger: logger},
		auth:      auth,
		profiles:  profiles,
		tokens:    tokens,
	}
}

type verifyOtpRequest struct {
	UserID   string `json:"user_id"`
	EmailOTP string `json:"email_otp"`
	SMSOTP   string `json:"sms_otp"`
}

type resendOtpRequest struct {
	UserID  string `json:"user_id"`
	OTPType string `json:"otp_type"`
}

// loginRequest accepts a phone number in either field.
type loginRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type sessionResponse struct {
	AccessToken   string           `json:"access_token"`
	RefreshToken  string           `json:"refresh_token,omitempty"`
	TokenType     string           `json:"token_type"`
	ExpiresAt     time.Time        `json:"expires_at"`
	User          *models.User     `json:"user"`
	NextStep      string           `json:"next_step,omitempty"`
	KYCStatus     models.KYCStatus `json:"kyc_status"`
	KYCCompletion *int             `json:"kyc_completion,omitempty"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/verify-otp", h.VerifyOtp)
		r.Post("/resend-otp", h.ResendOtp)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/password/forgot", h.ForgotPassword)
		r.Post("/password/reset", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.tokens, h.logger))
			r.Post("/password/change", h.ChangePassword)
			r.Get("/me", h.Me)
		})
	})
}

func parseUUID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.Validation(field, "must be a UUID")
	}
	return id, nil
}

// Register handles account creation
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.RegisterInput
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}

	res, err := h.auth.Register(ctx, req)
	if err != nil {
		h.fail(w, r, err, "Failed to register")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(res, "Verification codes sent"))
	h.logger.Info("User registered via HTTP",
		util.String("user_id", res.UserID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// VerifyOtp handles the registration code pair
func (h *AuthHandler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyOtpRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	userID, err := parseUUID("user_id", req.UserID)
	if err != nil {
		h.fail(w, r, err, "Invalid user id")
		return
	}
	if strings.TrimSpace(req.EmailOTP) == "" || strings.TrimSpace(req.SMSOTP) == "" {
		h.fail(w, r, apperr.Validation("otp", "email_otp and sms_otp are required"), "Missing codes")
		return
	}

	res, err := h.auth.VerifyOtp(ctx, userID, req.EmailOTP, req.SMSOTP, clientMeta(r))
	if err != nil {
		h.fail(w, r, err, "Failed to verify codes")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(sessionResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		TokenType:    res.Tokens.TokenType,
		ExpiresAt:    res.Tokens.AccessExpiresAt,
		User:         res.User,
		NextStep:     res.NextStep,
		KYCStatus:    res.KYCStatus,
	}, "Account verified"))
	h.logger.Info("User verified via HTTP",
		util.String("user_id", userID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "VerifyOtp"),
	)
}

// ResendOtp handles reissuing registration codes
func (h *AuthHandler) ResendOtp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resendOtpRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	userID, err := parseUUID("user_id", req.UserID)
	if err != nil {
		h.fail(w, r, err, "Invalid user id")
		return
	}
	channel := models.Channel(strings.ToLower(strings.TrimSpace(req.OTPType)))
	if channel == "" {
		channel = models.ChannelBoth
	}

	if err := h.auth.ResendOtp(ctx, userID, channel); err != nil {
		h.fail(w, r, err, "Failed to resend codes")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"message": "verification codes sent"}, "Verification codes sent"))
}

// Login handles email or phone and password authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	principal := strings.TrimSpace(req.Email)
	if principal == "" {
		principal = strings.TrimSpace(req.Phone)
	}
	if principal == "" || req.Password == "" {
		h.fail(w, r, apperr.Validation("email", "email or phone and password are required"), "Missing credentials")
		return
	}

	res, err := h.auth.Login(ctx, principal, req.Password, clientMeta(r))
	if err != nil {
		h.fail(w, r, err, "Login failed")
		return
	}

	completion := res.KYCCompletion
	h.respondWithJSON(w, http.StatusOK, successResponse(sessionResponse{
		AccessToken:   res.Tokens.AccessToken,
		RefreshToken:  res.Tokens.RefreshToken,
		TokenType:     res.Tokens.TokenType,
		ExpiresAt:     res.Tokens.AccessExpiresAt,
		User:          res.User,
		KYCStatus:     res.KYCStatus,
		KYCCompletion: &completion,
	}, "Login successful"))
	h.logger.Info("User logged in via HTTP",
		util.String("user_id", res.User.ID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Login"),
	)
}

// Refresh handles access token renewal
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		h.fail(w, r, apperr.Validation("refresh_token", "is required"), "Missing refresh token")
		return
	}

	pair, err := h.auth.Refresh(ctx, req.RefreshToken, clientMeta(r))
	if err != nil {
		h.fail(w, r, err, "Failed to refresh token")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(pair, "Token refreshed"))
}

// Logout revokes one refresh token
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		h.fail(w, r, apperr.Validation("refresh_token", "is required"), "Missing refresh token")
		return
	}

	if err := h.auth.Logout(ctx, req.RefreshToken); err != nil {
		h.fail(w, r, err, "Failed to log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword answers the same way whether or not the account exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req forgotPasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.fail(w, r, apperr.Validation("email", "is required"), "Missing email")
		return
	}

	if err := h.auth.ForgotPassword(ctx, req.Email); err != nil {
		h.fail(w, r, err, "Failed to start password reset")
		return
	}
	h.respondWithJSON(w, http.StatusAccepted, successResponse(nil, "If the account exists, a reset code has been sent"))
}

// ResetPassword handles a reset code and the new password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resetPasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" {
		h.fail(w, r, apperr.Validation("code", "email and code are required"), "Missing reset code")
		return
	}

	if err := h.auth.ResetPassword(ctx, req.Email, req.Code, req.NewPassword, clientMeta(r)); err != nil {
		h.fail(w, r, err, "Failed to reset password")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Password reset, please log in again"))
}

// ChangePassword handles a password change by the signed-in user
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err, "Invalid request body")
		return
	}

	if err := h.auth.ChangePassword(ctx, principal.User, req.CurrentPassword, req.NewPassword, clientMeta(r)); err != nil {
		h.fail(w, r, err, "Failed to change password")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Password changed, please log in again"))
}

// Me returns the signed-in user with its KYC snapshot
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	status, completion, err := h.profiles.Snapshot(ctx, principal.User.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to load profile")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"user":           principal.User,
		"kyc_status":     status,
		"kyc_completion": completion,
	}, ""))
}
