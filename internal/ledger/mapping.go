// Package ledger is the engine's own view of what has already been
// copied: one CopyMapping per (master ticket, copier account) pair,
// keyed by a correlation id that survives for audit after the mapping
// reaches a terminal state.
package ledger

import "time"

// State is the lifecycle state of a copy mapping.
type State int

const (
	// StatePending: mapping created, no order issued yet.
	StatePending State = iota
	// StateOpening: open order in flight on the copier.
	StateOpening
	// StateOpen: copier position confirmed, ticket recorded.
	StateOpen
	// StateClosing: close order in flight on the copier.
	StateClosing
	// StateClosed: terminal. Mapping is archived, never deleted.
	StateClosed
	// StateFailed: copy gave up after retries or a rejection. The
	// mapping stays addressable so a master close can still settle it.
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the mapping lifecycle.
// Failed is not terminal: a master close still settles it to Closed.
func (s State) Terminal() bool {
	return s == StateClosed
}

// Mapping binds one master trade to its replica on one copier account.
type Mapping struct {
	CorrelationID   string
	MasterTicket    int64
	CopierAccountID string
	CopierTicket    int64 // 0 until the copier order is confirmed
	Symbol          string
	Side            string
	MasterVolume    float64
	ScaledVolume    float64
	StopLoss        float64
	TakeProfit      float64
	State           State
	LastSequence    int64
	Attempts        int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        time.Time
}

// Active reports whether the mapping still occupies the
// (masterTicket, copierAccount) slot.
func (m *Mapping) Active() bool {
	return m.State != StateClosed
}
