package types

import "time"

// EventKind identifies what happened to a master trade. The set is closed:
// every consumer switches exhaustively over these four values.
type EventKind int

const (
	// KindNewTrade indicates a position was opened on the origin account.
	KindNewTrade EventKind = iota
	// KindModified indicates stop loss or take profit changed on an open position.
	KindModified
	// KindClosed indicates a position was closed on the origin account.
	KindClosed
	// KindCopyFailed indicates the engine gave up replicating a trade.
	KindCopyFailed
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case KindNewTrade:
		return "new_trade"
	case KindModified:
		return "modified"
	case KindClosed:
		return "closed"
	case KindCopyFailed:
		return "copy_failed"
	default:
		return "unknown"
	}
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeEvent is an immutable record of something observed on a broker
// terminal, produced by the normalizer from raw bridge notifications.
// SourceTicket plus AccountID is unique per trade lifecycle.
type TradeEvent struct {
	Kind         EventKind `json:"kind"`
	AccountID    string    `json:"account_id"`
	SourceTicket int64     `json:"source_ticket"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"open_price"`
	StopLoss     float64   `json:"stop_loss,omitempty"`   // 0 = not set
	TakeProfit   float64   `json:"take_profit,omitempty"` // 0 = not set
	Timestamp    time.Time `json:"timestamp"`             // UTC
	// Sequence is a per-ticket monotonic ordinal derived from the
	// normalizer timestamp. Consumers discard events whose sequence is
	// not newer than the last one applied for the same ticket.
	Sequence int64 `json:"sequence"`
	// Reason carries the failure description for KindCopyFailed events.
	Reason string `json:"reason,omitempty"`
	// Synthetic marks events injected by reconciliation rather than
	// observed on a live bridge stream.
	Synthetic bool `json:"synthetic,omitempty"`
}

// RawNotification is an unvalidated message from a terminal bridge stream.
// Fields may be missing or malformed; the normalizer decides whether it
// yields a TradeEvent.
type RawNotification struct {
	Action     string  `json:"action"` // "new", "modify", "close", "fill"
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Type       string  `json:"type"` // "buy" or "sell"
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
	Timestamp  int64   `json:"timestamp"` // unix milliseconds
}
