package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/events"
	"github.com/franckdigital/xamila-backend-sub001/internal/metrics"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

const (
	msgUnauthenticated  = "unauthenticated"
	msgAllDeactivated   = "all cohorts deactivated"
	msgNoCohortAssigned = "no cohort assigned"
	accessGrantedPrefix = "via cohort(s): "
	maxCohortNameLength = 200
	cohortCodeMaxLength = 32
	firstCohortYear     = 2000
	lastCohortYear      = 2100
)

var cohortCodePattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)

type CohortInput struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Month  int    `json:"month"`
	Year   int    `json:"year"`
	Active bool   `json:"active"`
}

// CohortGate decides savings-challenge access from cohort membership.
// Decisions are cached per session for a short TTL.
type CohortGate struct {
	store  repository.Store
	cache  repository.SessionCache
	ttl    time.Duration
	events events.Publisher
	clock  clock.Clock
	newID  clock.IDGenerator
	logger *zap.Logger
}

func NewCohortGate(
	store repository.Store,
	cache repository.SessionCache,
	ttl time.Duration,
	publisher events.Publisher,
	clk clock.Clock,
	newID clock.IDGenerator,
	logger *zap.Logger,
) *CohortGate {
	return &CohortGate{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		events: publisher,
		clock:  clk,
		newID:  newID,
		logger: logger,
	}
}

func normalizeCohortCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ChallengeAccess reports whether the principal may use savings challenges
// and why.
func (g *CohortGate) ChallengeAccess(ctx context.Context, principal *Principal) (bool, string, error) {
	if principal == nil || principal.User == nil {
		return false, msgUnauthenticated, nil
	}
	userID := principal.User.ID
	now := g.clock.Now()

	entry, err := g.cache.GetAccess(ctx, principal.SessionID, userID)
	if err != nil {
		g.logger.Warn("Challenge access cache read failed", util.String("user_id", userID.String()), util.ErrorField(err))
	}
	if entry != nil && entry.ExpiresAt.After(now) {
		metrics.CohortAccessChecks.WithLabelValues("hit", fmt.Sprint(entry.Authorized)).Inc()
		return entry.Authorized, entry.Message, nil
	}

	cohorts, err := g.store.Cohorts().ListForUser(ctx, userID)
	if err != nil {
		return false, "", fmt.Errorf("list cohorts: %w", err)
	}
	var codes []string
	for _, c := range cohorts {
		if c.Active {
			codes = append(codes, c.Code)
		}
	}

	var (
		authorized bool
		message    string
	)
	switch {
	case len(codes) > 0:
		sort.Strings(codes)
		authorized, message = true, accessGrantedPrefix+strings.Join(codes, ", ")
		err = g.cache.SetAccess(ctx, principal.SessionID, userID, repository.AccessEntry{
			Authorized: true,
			Message:    message,
			ExpiresAt:  now.Add(g.ttl),
		})
	case len(cohorts) > 0:
		message = msgAllDeactivated
		err = g.cache.PurgeAccess(ctx, userID)
	default:
		message = msgNoCohortAssigned
		err = g.cache.PurgeAccess(ctx, userID)
	}
	if err != nil {
		g.logger.Warn("Challenge access cache write failed", util.String("user_id", userID.String()), util.ErrorField(err))
	}
	metrics.CohortAccessChecks.WithLabelValues("miss", fmt.Sprint(authorized)).Inc()
	return authorized, message, nil
}

// RequireChallengeAccess returns ChallengeAccessDenied unless access holds.
func (g *CohortGate) RequireChallengeAccess(ctx context.Context, principal *Principal) error {
	ok, message, err := g.ChallengeAccess(ctx, principal)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.AccessDenied(message)
	}
	return nil
}

// JoinByCode adds the user to the active cohort identified by code.
func (g *CohortGate) JoinByCode(ctx context.Context, userID uuid.UUID, code string) (*models.Cohort, error) {
	code = normalizeCohortCode(code)
	if code == "" {
		return nil, apperr.InvalidCohortCode()
	}
	cohort, err := g.store.Cohorts().GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.InvalidCohortCode()
	}
	if err != nil {
		return nil, fmt.Errorf("load cohort: %w", err)
	}
	if !cohort.Active {
		return nil, apperr.CohortInactive()
	}

	now := g.clock.Now()
	if err := g.store.Cohorts().AddMember(ctx, cohort.ID, userID, now); err != nil {
		if _, ok := repository.IsConflict(err); ok {
			return nil, apperr.AlreadyMember()
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("add cohort member: %w", err)
	}
	g.purge(ctx, userID)

	g.logger.Info("User joined cohort",
		util.String("user_id", userID.String()),
		util.String("cohort", cohort.Code))
	if g.events != nil {
		e := events.New(events.CohortJoined, userID, now, map[string]any{
			"cohort_id": cohort.ID.String(),
			"code":      cohort.Code,
		})
		if err := g.events.Publish(context.WithoutCancel(ctx), e); err != nil {
			g.logger.Warn("Failed to publish event", util.String("type", e.Type), util.ErrorField(err))
		}
	}
	return cohort, nil
}

func (g *CohortGate) CreateCohort(ctx context.Context, in CohortInput) (*models.Cohort, error) {
	code := normalizeCohortCode(in.Code)
	if code == "" || len(code) > cohortCodeMaxLength || !cohortCodePattern.MatchString(code) {
		return nil, apperr.Validation("code", "must be 1-32 letters, digits, '-' or '_'")
	}
	name, err := cleanField("name", in.Name, maxCohortNameLength)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = code
	}
	if in.Month < 1 || in.Month > 12 {
		return nil, apperr.Validation("month", "must be between 1 and 12")
	}
	if in.Year < firstCohortYear || in.Year > lastCohortYear {
		return nil, apperr.Validation("year", "is out of range")
	}

	cohort := &models.Cohort{
		ID:        g.newID(),
		Code:      code,
		Name:      name,
		Month:     in.Month,
		Year:      in.Year,
		Active:    in.Active,
		CreatedAt: g.clock.Now(),
	}
	if err := g.store.Cohorts().Create(ctx, cohort); err != nil {
		if field, ok := repository.IsConflict(err); ok {
			return nil, apperr.Conflict(field)
		}
		return nil, fmt.Errorf("create cohort: %w", err)
	}
	g.logger.Info("Cohort created", util.String("cohort", code), util.Bool("active", in.Active))
	return cohort, nil
}

// SetActive toggles a cohort and drops the cached decision of every member.
func (g *CohortGate) SetActive(ctx context.Context, cohortID uuid.UUID, active bool) (*models.Cohort, error) {
	err := g.store.Cohorts().SetActive(ctx, cohortID, active)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Validation("cohort_id", "unknown cohort")
	}
	if err != nil {
		return nil, fmt.Errorf("toggle cohort: %w", err)
	}
	members, err := g.store.Cohorts().MemberIDs(ctx, cohortID)
	if err != nil {
		return nil, fmt.Errorf("list cohort members: %w", err)
	}
	for _, id := range members {
		g.purge(ctx, id)
	}
	g.logger.Info("Cohort toggled",
		util.String("cohort_id", cohortID.String()),
		util.Bool("active", active),
		util.Int("members", len(members)))
	return g.store.Cohorts().GetByID(ctx, cohortID)
}

func (g *CohortGate) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Cohort, error) {
	cohorts, err := g.store.Cohorts().ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cohorts: %w", err)
	}
	return cohorts, nil
}

func (g *CohortGate) purge(ctx context.Context, userID uuid.UUID) {
	if err := g.cache.PurgeAccess(context.WithoutCancel(ctx), userID); err != nil {
		g.logger.Warn("Failed to purge challenge access cache",
			util.String("user_id", userID.String()),
			util.ErrorField(err))
	}
}
