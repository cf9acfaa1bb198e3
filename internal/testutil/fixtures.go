package testutil

import (
	"time"

	"github.com/jdtrading/mt5-copier/pkg/types"
)

// NewTradeEvent builds a NewTrade fixture for the given ticket.
func NewTradeEvent(ticket int64, symbol string, side types.Side, volume float64) types.TradeEvent {
	now := time.Now().UTC()
	return types.TradeEvent{
		Kind:         types.KindNewTrade,
		AccountID:    "master-1",
		SourceTicket: ticket,
		Symbol:       symbol,
		Side:         side,
		Volume:       volume,
		OpenPrice:    1.1000,
		Timestamp:    now,
		Sequence:     now.UnixMilli(),
	}
}

// ModifiedEvent builds a Modified fixture sequenced after base.
func ModifiedEvent(base types.TradeEvent, sl, tp float64) types.TradeEvent {
	ts := base.Timestamp.Add(time.Second)
	return types.TradeEvent{
		Kind:         types.KindModified,
		AccountID:    base.AccountID,
		SourceTicket: base.SourceTicket,
		Symbol:       base.Symbol,
		Side:         base.Side,
		Volume:       base.Volume,
		StopLoss:     sl,
		TakeProfit:   tp,
		Timestamp:    ts,
		Sequence:     ts.UnixMilli(),
	}
}

// ClosedEvent builds a Closed fixture sequenced after base.
func ClosedEvent(base types.TradeEvent) types.TradeEvent {
	ts := base.Timestamp.Add(2 * time.Second)
	return types.TradeEvent{
		Kind:         types.KindClosed,
		AccountID:    base.AccountID,
		SourceTicket: base.SourceTicket,
		Symbol:       base.Symbol,
		Timestamp:    ts,
		Sequence:     ts.UnixMilli(),
	}
}

// RawNotification builds a stream payload fixture.
func RawNotification(action string, ticket int64, symbol string, side string, volume float64) types.RawNotification {
	return types.RawNotification{
		Action:    action,
		Ticket:    ticket,
		Symbol:    symbol,
		Type:      side,
		Volume:    volume,
		Price:     1.1000,
		Timestamp: time.Now().UTC().UnixMilli(),
	}
}

// OpenPosition builds a master position fixture for snapshot diffs.
func OpenPosition(ticket int64, symbol string, side types.Side, volume float64) types.Position {
	return types.Position{
		Ticket:    ticket,
		Symbol:    symbol,
		Side:      side,
		Volume:    volume,
		OpenPrice: 1.1000,
		OpenedAt:  time.Now().UTC().Add(-time.Hour),
	}
}
