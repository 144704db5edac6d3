// Package audit records security events for analytics. Sinks never fail
// the request that produced the event.
package audit

import (
	"context"
	"sync"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

type Sink interface {
	Record(ctx context.Context, e models.SecurityEvent)
}

type Log struct{}

func (Log) Record(ctx context.Context, e models.SecurityEvent) {
	util.Info("Security event",
		util.String("event_type", string(e.EventType)),
		util.String("user_id", e.UserID.String()),
		util.String("ip_address", e.IPAddress),
		util.String("reason", e.Reason),
		util.Int("risk_score", e.RiskScore))
}

type Memory struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (m *Memory) Record(ctx context.Context, e models.SecurityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *Memory) Events() []models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SecurityEvent(nil), m.events...)
}

// Count returns how many events of typ were recorded.
func (m *Memory) Count(typ models.SecurityEventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.EventType == typ {
			n++
		}
	}
	return n
}

// RiskScore is a coarse weight per event type.
func RiskScore(typ models.SecurityEventType) int {
	switch typ {
	case models.EventLoginLocked, models.EventOTPExhausted:
		return 80
	case models.EventLoginFailed, models.EventOTPFailed:
		return 40
	case models.EventTokensRevoked, models.EventPasswordChange:
		return 20
	}
	return 0
}
