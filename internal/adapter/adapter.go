// Package adapter wraps a single trading terminal connection behind a
// broker-neutral interface. The replication engine only ever sees this
// interface; terminal specifics live in the bridge implementation.
package adapter

import (
	"context"

	"github.com/jdtrading/mt5-copier/pkg/types"
)

// Adapter is one terminal connection. All calls are bounded by the
// caller's context; failures come back as *types.AdapterError so the
// engine can map them to state transitions.
type Adapter interface {
	// AccountID returns the configured account identifier.
	AccountID() string

	// Connect establishes the bridge connection and starts the
	// notification stream.
	Connect(ctx context.Context) error

	// Connected reports the current connection state.
	Connected() bool

	// AccountInfo returns a snapshot of the terminal account.
	AccountInfo(ctx context.Context) (types.AccountInfo, error)

	// SymbolLimits returns broker sizing constraints for a symbol.
	SymbolLimits(ctx context.Context, symbol string) (types.SymbolLimits, error)

	// OpenPositions returns the live open position snapshot.
	OpenPositions(ctx context.Context) ([]types.Position, error)

	// Notifications is the raw event stream feeding the normalizer.
	// Bounded; the producer drops the oldest entry when full.
	Notifications() <-chan types.RawNotification

	// ConnState delivers connection transitions (true = connected).
	ConnState() <-chan bool

	// OpenOrder submits a market order and returns the broker ticket.
	OpenOrder(ctx context.Context, spec types.OrderSpec) (int64, error)

	// ModifyOrder updates stop loss and take profit on a position.
	ModifyOrder(ctx context.Context, ticket int64, rev types.OrderRevision) error

	// CloseOrder closes a position.
	CloseOrder(ctx context.Context, ticket int64) error

	// Close tears down the connection and the notification stream.
	Close() error
}
