package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/authtoken"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/hashing"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// ClientMeta describes the caller of a request for auditing.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
	SessionID        uuid.UUID `json:"-"`
}

// Principal is an authenticated caller.
type Principal struct {
	User      *models.User
	SessionID uuid.UUID
	Claims    *authtoken.Claims
}

// TokenService issues access/refresh pairs. Only the SHA-256 digest of a
// refresh token is stored.
type TokenService struct {
	store  repository.Store
	signer *authtoken.Signer
	cfg    config.JWTConfig
	clock  clock.Clock
	newID  clock.IDGenerator
	logger *zap.Logger
}

func NewTokenService(
	store repository.Store,
	signer *authtoken.Signer,
	cfg config.JWTConfig,
	clk clock.Clock,
	newID clock.IDGenerator,
	logger *zap.Logger,
) *TokenService {
	return &TokenService{store: store, signer: signer, cfg: cfg, clock: clk, newID: newID, logger: logger}
}

// externalToken folds malformed and bad-signature failures into Invalid.
func externalToken(err error) error {
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindToken {
		return err
	}
	switch e.Code {
	case apperr.CodeMalformed, apperr.CodeSignatureInvalid:
		return apperr.Token(apperr.CodeInvalid, e)
	}
	return err
}

// IssuePair opens a new login session.
func (s *TokenService) IssuePair(ctx context.Context, user *models.User, meta ClientMeta) (*TokenPair, error) {
	return s.IssuePairTx(ctx, s.store, user, meta)
}

func (s *TokenService) IssuePairTx(ctx context.Context, tx repository.Repos, user *models.User, meta ClientMeta) (*TokenPair, error) {
	return s.issue(ctx, tx.RefreshTokens(), user, s.newID(), meta)
}

func (s *TokenService) issue(ctx context.Context, repo repository.RefreshTokenRepository, user *models.User, sessionID uuid.UUID, meta ClientMeta) (*TokenPair, error) {
	access, accessClaims, err := s.signer.Issue(user, sessionID, s.cfg.AccessTokenTTL, authtoken.TypeAccess)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	refresh, refreshClaims, err := s.signer.Issue(user, sessionID, s.cfg.RefreshTokenTTL, authtoken.TypeRefresh)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	record := &models.RefreshToken{
		ID:        s.newID(),
		UserID:    user.ID,
		SessionID: sessionID,
		Token:     hashing.TokenDigest(refresh),
		ExpiresAt: refreshClaims.ExpiresAt.Time,
		CreatedAt: s.clock.Now(),
		IPAddress: optional(meta.IPAddress),
		UserAgent: optional(meta.UserAgent),
	}
	if err := repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		SessionID:        sessionID,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. With rotation
// the presented token is revoked and a new one issued in the same session.
func (s *TokenService) Refresh(ctx context.Context, raw string, meta ClientMeta) (*TokenPair, error) {
	claims, err := s.signer.Verify(raw, authtoken.TypeRefresh)
	if err != nil {
		return nil, externalToken(err)
	}

	var pair *TokenPair
	err = s.store.WithTx(ctx, func(tx repository.Repos) error {
		record, err := tx.RefreshTokens().GetByToken(ctx, hashing.TokenDigest(raw))
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Token(apperr.CodeUnknown, nil)
		}
		if err != nil {
			return fmt.Errorf("load refresh token: %w", err)
		}
		now := s.clock.Now()
		if record.IsRevoked {
			return apperr.Token(apperr.CodeRevoked, nil)
		}
		if !now.Before(record.ExpiresAt) {
			return apperr.Token(apperr.CodeExpired, nil)
		}

		user, err := tx.Users().GetByID(ctx, record.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Token(apperr.CodeUnknown, nil)
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if !user.IsActive {
			return apperr.Token(apperr.CodeInactiveUser, nil)
		}

		if s.cfg.RotateRefresh {
			if err := tx.RefreshTokens().Revoke(ctx, record.ID); err != nil {
				return fmt.Errorf("revoke rotated token: %w", err)
			}
			pair, err = s.issue(ctx, tx.RefreshTokens(), user, record.SessionID, meta)
			return err
		}

		if err := tx.RefreshTokens().Touch(ctx, record.ID, now); err != nil {
			return fmt.Errorf("touch refresh token: %w", err)
		}
		access, accessClaims, err := s.signer.Issue(user, record.SessionID, s.cfg.AccessTokenTTL, authtoken.TypeAccess)
		if err != nil {
			return apperr.Internal(err)
		}
		pair = &TokenPair{
			AccessToken:     access,
			TokenType:       "Bearer",
			AccessExpiresAt: accessClaims.ExpiresAt.Time,
			SessionID:       record.SessionID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Refreshed tokens",
		util.String("user_id", claims.Subject),
		util.String("session_id", pair.SessionID.String()),
		util.Bool("rotated", s.cfg.RotateRefresh))
	return pair, nil
}

// Revoke is idempotent; unknown tokens are ignored.
func (s *TokenService) Revoke(ctx context.Context, raw string) error {
	record, err := s.store.RefreshTokens().GetByToken(ctx, hashing.TokenDigest(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load refresh token: %w", err)
	}
	if record.IsRevoked {
		return nil
	}
	if err := s.store.RefreshTokens().Revoke(ctx, record.ID); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll revokes every refresh token of the user.
func (s *TokenService) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.RevokeAllTx(ctx, s.store, userID)
}

func (s *TokenService) RevokeAllTx(ctx context.Context, tx repository.Repos, userID uuid.UUID) (int64, error) {
	n, err := tx.RefreshTokens().RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke tokens: %w", err)
	}
	s.logger.Info("Revoked refresh tokens", util.String("user_id", userID.String()), util.Int64("count", n))
	return n, nil
}

// AuthenticateAccess resolves a bearer access token to an active user.
func (s *TokenService) AuthenticateAccess(ctx context.Context, raw string) (*Principal, error) {
	claims, err := s.signer.Verify(raw, authtoken.TypeAccess)
	if err != nil {
		return nil, externalToken(err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, apperr.Token(apperr.CodeInvalid, err)
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, apperr.Token(apperr.CodeInvalid, err)
	}

	user, err := s.store.Users().GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Token(apperr.CodeInvalid, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, apperr.Token(apperr.CodeInactiveUser, nil)
	}
	return &Principal{User: user, SessionID: sessionID, Claims: claims}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
