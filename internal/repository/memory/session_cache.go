package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

// SessionCache is a single-process SessionCache. Expiry is left to the
// caller, which compares ExpiresAt with its clock.
type SessionCache struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]map[string]repository.AccessEntry
	byUser   map[uuid.UUID]map[uuid.UUID]struct{}
}

var _ repository.SessionCache = (*SessionCache)(nil)

func NewSessionCache() *SessionCache {
	return &SessionCache{
		sessions: make(map[uuid.UUID]map[string]repository.AccessEntry),
		byUser:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (c *SessionCache) GetAccess(ctx context.Context, sessionID, userID uuid.UUID) (*repository.AccessEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.sessions[sessionID][repository.AccessKey(userID)]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *SessionCache) SetAccess(ctx context.Context, sessionID, userID uuid.UUID, entry repository.AccessEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[sessionID] == nil {
		c.sessions[sessionID] = make(map[string]repository.AccessEntry)
	}
	c.sessions[sessionID][repository.AccessKey(userID)] = entry
	if c.byUser[userID] == nil {
		c.byUser[userID] = make(map[uuid.UUID]struct{})
	}
	c.byUser[userID][sessionID] = struct{}{}
	return nil
}

func (c *SessionCache) PurgeAccess(ctx context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := repository.AccessKey(userID)
	for sid := range c.byUser[userID] {
		delete(c.sessions[sid], key)
		if len(c.sessions[sid]) == 0 {
			delete(c.sessions, sid)
		}
	}
	delete(c.byUser, userID)
	return nil
}
