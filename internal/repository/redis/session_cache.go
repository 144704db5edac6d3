package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/client"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

const (
	sessionDataPrefix  = "session_data:"
	userSessionsPrefix = "user_sessions:"
)

// SessionCache implements repository.SessionCache. Entries live under
// session_data:{sid}:challenge_access_{uid}; user_sessions:{uid} indexes
// the sessions holding an entry so a purge reaches all of them.
type SessionCache struct {
	client *client.RedisClient
	// retention bounds how long Redis keeps entries past their ExpiresAt.
	retention time.Duration
}

var _ repository.SessionCache = (*SessionCache)(nil)

func NewSessionCache(client *client.RedisClient, retention time.Duration) *SessionCache {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &SessionCache{client: client, retention: retention}
}

func sessionKey(sessionID, userID uuid.UUID) string {
	return sessionDataPrefix + sessionID.String() + ":" + repository.AccessKey(userID)
}

func (c *SessionCache) GetAccess(ctx context.Context, sessionID, userID uuid.UUID) (*repository.AccessEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Client.Get(ctx, sessionKey(sessionID, userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		util.Error("Failed to get session data",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get session data: %w", err)
	}

	var entry repository.AccessEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	return &entry, nil
}

func (c *SessionCache) SetAccess(ctx context.Context, sessionID, userID uuid.UUID, entry repository.AccessEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	pipe := c.client.Client.TxPipeline()
	pipe.Set(ctx, sessionKey(sessionID, userID), data, c.retention)
	userSessionsKey := userSessionsPrefix + userID.String()
	pipe.SAdd(ctx, userSessionsKey, sessionID.String())
	pipe.Expire(ctx, userSessionsKey, c.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to set session data",
			zap.String("user_id", userID.String()),
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to set session data: %w", err)
	}
	return nil
}

func (c *SessionCache) PurgeAccess(ctx context.Context, userID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	userSessionsKey := userSessionsPrefix + userID.String()
	sessions, err := c.client.Client.SMembers(ctx, userSessionsKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := []string{userSessionsKey}
	for _, sid := range sessions {
		parsed, err := uuid.Parse(sid)
		if err != nil {
			continue
		}
		keys = append(keys, sessionKey(parsed, userID))
	}
	if err := c.client.Client.Del(ctx, keys...).Err(); err != nil {
		util.Error("Failed to purge session data",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to purge session data: %w", err)
	}

	util.Debug("Session access purged",
		zap.String("user_id", userID.String()),
		zap.Int("sessions", len(sessions)))
	return nil
}
