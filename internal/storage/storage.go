// Package storage archives trade events, retired mappings and activity
// log entries. Historical persistence only; the ledger in memory stays
// the source of truth for what has been copied.
package storage

import (
	"context"

	"github.com/jdtrading/mt5-copier/internal/ledger"
	"github.com/jdtrading/mt5-copier/pkg/types"
)

// Activity log sources.
const (
	SourceMaster = "master"
	SourceChild  = "child"
)

// Storage is the interface for archiving replication history.
type Storage interface {
	// RecordEvent archives a normalized trade event.
	RecordEvent(ctx context.Context, event types.TradeEvent) error

	// RecordMapping archives a copy mapping snapshot. Called on
	// terminal transitions for audit.
	RecordMapping(ctx context.Context, m ledger.Mapping) error

	// RecordLog archives a dashboard activity entry.
	RecordLog(ctx context.Context, source string, entry types.LogEntry) error

	// RecentActivity returns the newest activity entries for a source.
	RecentActivity(ctx context.Context, source string, limit int) ([]types.LogEntry, error)

	// Close closes the storage connection.
	Close() error
}
