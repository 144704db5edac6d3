package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/hashing"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/phone"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

var ErrUserNotFound = errors.New("user not found")

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const maxNameLength = 150

type CreateUserInput struct {
	Email     string
	Password  string
	Phone     string
	FirstName string
	LastName  string
	Role      models.Role
}

// IdentityService owns user records and credentials.
type IdentityService struct {
	store  repository.Store
	hasher *hashing.Hasher
	phones *phone.Normalizer
	policy config.HashingConfig
	tokens *TokenService
	clock  clock.Clock
	newID  clock.IDGenerator
	logger *zap.Logger

	decoyOnce sync.Once
	decoyHash string
}

func NewIdentityService(
	store repository.Store,
	hasher *hashing.Hasher,
	phones *phone.Normalizer,
	policy config.HashingConfig,
	tokens *TokenService,
	clk clock.Clock,
	newID clock.IDGenerator,
	logger *zap.Logger,
) *IdentityService {
	return &IdentityService{
		store:  store,
		hasher: hasher,
		phones: phones,
		policy: policy,
		tokens: tokens,
		clock:  clk,
		newID:  newID,
		logger: logger,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckPassword applies the configured password policy.
func (s *IdentityService) CheckPassword(password string) error {
	if utf8.RuneCountInString(password) < s.policy.MinLength {
		return apperr.WeakPassword(fmt.Sprintf("must be at least %d characters", s.policy.MinLength))
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	switch {
	case s.policy.RequireUpper && !upper:
		return apperr.WeakPassword("must contain an uppercase letter")
	case s.policy.RequireLower && !lower:
		return apperr.WeakPassword("must contain a lowercase letter")
	case s.policy.RequireDigit && !digit:
		return apperr.WeakPassword("must contain a digit")
	case s.policy.RequireSymbol && !symbol:
		return apperr.WeakPassword("must contain a symbol")
	}
	return nil
}

func cleanName(field, value string) (string, error) {
	value = util.CollapseSpaces(value)
	if value == "" {
		return "", apperr.Validation(field, "is required")
	}
	if utf8.RuneCountInString(value) > maxNameLength {
		return "", apperr.Validation(field, "is too long")
	}
	if util.ContainsSuspicious(value) {
		return "", apperr.Validation(field, "contains invalid characters")
	}
	return value, nil
}

// NormalizePhone returns the E.164 form of raw or a phone validation error.
func (s *IdentityService) NormalizePhone(raw string) (string, error) {
	normalized, err := s.phones.Normalize(raw)
	if err != nil {
		return "", apperr.Validation("phone", "invalid phone number")
	}
	return normalized, nil
}

func (s *IdentityService) prepareUser(in CreateUserInput) (*models.User, error) {
	email := NormalizeEmail(in.Email)
	if !emailPattern.MatchString(email) {
		return nil, apperr.Validation("email", "invalid email address")
	}
	if err := s.CheckPassword(in.Password); err != nil {
		return nil, err
	}
	first, err := cleanName("first_name", in.FirstName)
	if err != nil {
		return nil, err
	}
	last, err := cleanName("last_name", in.LastName)
	if err != nil {
		return nil, err
	}

	var phoneNumber *string
	if strings.TrimSpace(in.Phone) != "" {
		normalized, err := s.NormalizePhone(in.Phone)
		if err != nil {
			return nil, err
		}
		phoneNumber = &normalized
	}

	role := in.Role
	if role == "" {
		role = models.RoleCustomer
	}
	if !role.IsValid() {
		return nil, apperr.Validation("role", "unknown role")
	}

	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := s.clock.Now()
	return &models.User{
		ID:           s.newID(),
		Email:        email,
		Phone:        phoneNumber,
		PasswordHash: hash,
		Role:         role,
		FirstName:    first,
		LastName:     last,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// CreateUser stores a new inactive user.
func (s *IdentityService) CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error) {
	var user *models.User
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		user, err = s.CreateUserTx(ctx, tx, in)
		return err
	})
	return user, err
}

func (s *IdentityService) CreateUserTx(ctx context.Context, tx repository.Repos, in CreateUserInput) (*models.User, error) {
	user, err := s.prepareUser(in)
	if err != nil {
		return nil, err
	}
	if err := tx.Users().Create(ctx, user); err != nil {
		if field, ok := repository.IsConflict(err); ok {
			return nil, apperr.Conflict(field)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("User created",
		util.String("user_id", user.ID.String()),
		util.String("role", string(user.Role)))
	return user, nil
}

func (s *IdentityService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.store.Users().GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// FindByEmailOrPhone resolves a login principal, trying email first.
func (s *IdentityService) FindByEmailOrPhone(ctx context.Context, principal string) (*models.User, error) {
	return s.findTx(ctx, s.store, principal)
}

func (s *IdentityService) findTx(ctx context.Context, tx repository.Repos, principal string) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	switch email := NormalizeEmail(principal); {
	case emailPattern.MatchString(email):
		user, err = tx.Users().GetByEmail(ctx, email)
	case phone.LooksLikePhone(principal):
		normalized, nerr := s.phones.Normalize(principal)
		if nerr != nil {
			return nil, ErrUserNotFound
		}
		user, err = tx.Users().GetByPhone(ctx, normalized)
	default:
		return nil, ErrUserNotFound
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// PrincipalKey is the canonical form of a login principal: the normalized
// email or the E.164 phone number.
func (s *IdentityService) PrincipalKey(principal string) string {
	email := NormalizeEmail(principal)
	if !emailPattern.MatchString(email) && phone.LooksLikePhone(principal) {
		if normalized, err := s.phones.Normalize(principal); err == nil {
			return normalized
		}
	}
	return email
}

// mutate loads the user under a row lock, applies fn and saves.
func (s *IdentityService) mutate(ctx context.Context, tx repository.Repos, id uuid.UUID, fn func(u *models.User) error) (*models.User, error) {
	user, err := tx.Users().LockByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	if err := fn(user); err != nil {
		return nil, err
	}
	user.UpdatedAt = s.clock.Now()
	if err := tx.Users().Update(ctx, user); err != nil {
		if field, ok := repository.IsConflict(err); ok {
			return nil, apperr.Conflict(field)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (s *IdentityService) SetPassword(ctx context.Context, id uuid.UUID, password string) error {
	return s.store.WithTx(ctx, func(tx repository.Repos) error {
		return s.SetPasswordTx(ctx, tx, id, password)
	})
}

// SetPasswordTx replaces the password hash and revokes every refresh token.
func (s *IdentityService) SetPasswordTx(ctx context.Context, tx repository.Repos, id uuid.UUID, password string) error {
	if err := s.CheckPassword(password); err != nil {
		return err
	}
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		return apperr.Internal(err)
	}
	if _, err := s.mutate(ctx, tx, id, func(u *models.User) error {
		u.PasswordHash = hash
		return nil
	}); err != nil {
		return err
	}
	_, err = s.tokens.RevokeAllTx(ctx, tx, id)
	return err
}

// VerifyPassword reports whether password matches. A matching password
// stored under old parameters or pepper is rehashed.
func (s *IdentityService) VerifyPassword(ctx context.Context, user *models.User, password string) bool {
	ok, err := s.hasher.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Warn("Unreadable password hash", util.String("user_id", user.ID.String()), util.ErrorField(err))
		return false
	}
	if ok && s.hasher.NeedsRehash(user.PasswordHash) {
		if hash, err := s.hasher.HashPassword(password); err == nil {
			err = s.store.WithTx(ctx, func(tx repository.Repos) error {
				_, err := s.mutate(ctx, tx, user.ID, func(u *models.User) error {
					u.PasswordHash = hash
					return nil
				})
				return err
			})
			if err != nil {
				s.logger.Warn("Failed to upgrade password hash", util.ErrorField(err))
			}
		}
	}
	return ok
}

// BurnPasswordCheck spends the cost of one password verification, so an
// unknown principal takes as long to reject as a wrong password.
func (s *IdentityService) BurnPasswordCheck(password string) {
	s.decoyOnce.Do(func() {
		s.decoyHash, _ = s.hasher.HashPassword(s.newID().String())
	})
	if s.decoyHash != "" {
		_, _ = s.hasher.VerifyPassword(password, s.decoyHash)
	}
}

// ActivateTx marks both channels verified and the account active.
func (s *IdentityService) ActivateTx(ctx context.Context, tx repository.Repos, id uuid.UUID) (*models.User, error) {
	return s.mutate(ctx, tx, id, func(u *models.User) error {
		u.EmailVerified = true
		u.PhoneVerified = true
		u.IsActive = true
		return nil
	})
}

func (s *IdentityService) Activate(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user *models.User
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		user, err = s.ActivateTx(ctx, tx, id)
		return err
	})
	return user, err
}

func (s *IdentityService) RecordLogin(ctx context.Context, id uuid.UUID, ip string) error {
	return s.store.WithTx(ctx, func(tx repository.Repos) error {
		_, err := s.mutate(ctx, tx, id, func(u *models.User) error {
			now := s.clock.Now()
			u.LastLoginAt = &now
			u.LastLoginIP = optional(ip)
			return nil
		})
		return err
	})
}

// SetRole changes the role and revokes every refresh token, since access
// tokens embed the role.
func (s *IdentityService) SetRole(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error) {
	if !role.IsValid() {
		return nil, apperr.Validation("role", "unknown role")
	}
	var user *models.User
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		user, err = s.mutate(ctx, tx, id, func(u *models.User) error {
			u.Role = role
			return nil
		})
		if err != nil {
			return err
		}
		_, err = s.tokens.RevokeAllTx(ctx, tx, id)
		return err
	})
	return user, err
}

func (s *IdentityService) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx repository.Repos) error {
		if _, err := s.mutate(ctx, tx, id, func(u *models.User) error {
			u.IsActive = false
			return nil
		}); err != nil {
			return err
		}
		_, err := s.tokens.RevokeAllTx(ctx, tx, id)
		return err
	})
}

// SetFlags sets paye and cert_of_completion; nil leaves a flag unchanged.
func (s *IdentityService) SetFlags(ctx context.Context, id uuid.UUID, paye, certOfCompletion *bool) (*models.User, error) {
	var user *models.User
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		user, err = s.mutate(ctx, tx, id, func(u *models.User) error {
			if paye != nil {
				u.Paye = *paye
			}
			if certOfCompletion != nil {
				u.CertOfCompletion = *certOfCompletion
			}
			return nil
		})
		return err
	})
	return user, err
}

// MarkVerifiedTx sets is_verified after KYC approval.
func (s *IdentityService) MarkVerifiedTx(ctx context.Context, tx repository.Repos, id uuid.UUID) error {
	_, err := s.mutate(ctx, tx, id, func(u *models.User) error {
		u.IsVerified = true
		return nil
	})
	return err
}

// SetVerified is the explicit admin override of is_verified.
func (s *IdentityService) SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*models.User, error) {
	var user *models.User
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		user, err = s.mutate(ctx, tx, id, func(u *models.User) error {
			u.IsVerified = verified
			return nil
		})
		return err
	})
	return user, err
}

// Delete removes the user and, by cascade, everything they own.
func (s *IdentityService) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.store.Users().Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	s.logger.Info("User deleted", util.String("user_id", id.String()))
	return nil
}
