package audit

import (
	"context"
	"sync"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS security_events (
	event_time DateTime64(3, 'UTC'),
	event_type LowCardinality(String),
	user_id    UUID,
	session_id String,
	ip_address String,
	user_agent String,
	reason     String,
	risk_score UInt8
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_time)
ORDER BY (event_type, event_time)
TTL toDateTime(event_time) + INTERVAL 400 DAY`

const insertSQL = `INSERT INTO security_events
	(event_time, event_type, user_id, session_id, ip_address, user_agent, reason, risk_score)`

type Inserter interface {
	Exec(ctx context.Context, query string, args ...any) error
	BatchInsert(ctx context.Context, query string, rows [][]any) error
}

// ClickHouse buffers events and writes them in batches, when the buffer
// reaches batchSize or on every flush interval.
type ClickHouse struct {
	db        Inserter
	batchSize int
	interval  time.Duration

	mu     sync.Mutex
	buffer []models.SecurityEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewClickHouse(db Inserter, batchSize int, interval time.Duration) *ClickHouse {
	if batchSize <= 0 {
		batchSize = 500
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ClickHouse{db: db, batchSize: batchSize, interval: interval, done: make(chan struct{})}
}

func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	return c.db.Exec(ctx, createTableSQL)
}

func (c *ClickHouse) Record(ctx context.Context, e models.SecurityEvent) {
	c.mu.Lock()
	c.buffer = append(c.buffer, e)
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()
	if full {
		c.Flush(context.WithoutCancel(ctx))
	}
}

// Start flushes on a ticker until Stop.
func (c *ClickHouse) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				c.Flush(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				c.Flush(ctx)
			}
		}
	}()
}

func (c *ClickHouse) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *ClickHouse) Flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	rows := make([][]any, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []any{
			e.EventTime, string(e.EventType), e.UserID, e.SessionID,
			e.IPAddress, e.UserAgent, e.Reason, uint8(e.RiskScore),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.db.BatchInsert(ctx, insertSQL, rows); err != nil {
		util.Error("Failed to write security events",
			util.Int("count", len(rows)),
			util.ErrorField(err))
		return
	}
	util.Debug("Flushed security events", util.Int("count", len(rows)))
}
