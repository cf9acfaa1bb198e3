package storage

import (
	"context"
	"sync"

	"github.com/jdtrading/mt5-copier/internal/ledger"
	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
)

// ConsoleStorage implements Storage without a database: events and
// mappings go to the log, activity entries are kept in a bounded
// in-memory ring so /api/activity still works.
type ConsoleStorage struct {
	logger   *zap.Logger
	mu       sync.Mutex
	activity map[string][]types.LogEntry
	capacity int
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		logger:   logger,
		activity: make(map[string][]types.LogEntry),
		capacity: 200,
	}
}

// RecordEvent logs the archived trade event.
func (c *ConsoleStorage) RecordEvent(ctx context.Context, event types.TradeEvent) error {
	c.logger.Info("trade-event-archived",
		zap.String("kind", event.Kind.String()),
		zap.Int64("ticket", event.SourceTicket),
		zap.String("symbol", event.Symbol),
		zap.Float64("volume", event.Volume),
		zap.Bool("synthetic", event.Synthetic))
	return nil
}

// RecordMapping logs the archived mapping snapshot.
func (c *ConsoleStorage) RecordMapping(ctx context.Context, m ledger.Mapping) error {
	c.logger.Info("mapping-archived",
		zap.String("correlation-id", m.CorrelationID),
		zap.Int64("master-ticket", m.MasterTicket),
		zap.String("copier-account", m.CopierAccountID),
		zap.Int64("copier-ticket", m.CopierTicket),
		zap.String("state", m.State.String()))
	return nil
}

// RecordLog appends to the in-memory activity ring.
func (c *ConsoleStorage) RecordLog(ctx context.Context, source string, entry types.LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := append(c.activity[source], entry)
	if len(ring) > c.capacity {
		ring = ring[len(ring)-c.capacity:]
	}
	c.activity[source] = ring
	return nil
}

// RecentActivity returns the newest activity entries for a source.
func (c *ConsoleStorage) RecentActivity(ctx context.Context, source string, limit int) ([]types.LogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := c.activity[source]
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}

	// Newest first.
	out := make([]types.LogEntry, 0, limit)
	for i := len(ring) - 1; i >= len(ring)-limit; i-- {
		out = append(out, ring[i])
	}
	return out, nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	return nil
}
