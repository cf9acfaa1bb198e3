// Package recovery reconciles the ledger against the master terminal's
// live position book after a disconnect, synthesizing the events that
// were missed while the stream was down.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jdtrading/mt5-copier/internal/adapter"
	"github.com/jdtrading/mt5-copier/internal/engine"
	"github.com/jdtrading/mt5-copier/internal/ledger"
	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
)

// Coordinator runs reconciliation passes. One coordinator serves one
// master adapter; passes never overlap because the caller serializes
// them on the connection watch loop.
type Coordinator struct {
	logger  *zap.Logger
	master  adapter.Adapter
	engine  *engine.Engine
	ledger  *ledger.Ledger
	status  *engine.StatusTracker
	timeout time.Duration
}

// Config holds coordinator configuration.
type Config struct {
	Logger          *zap.Logger
	Master          adapter.Adapter
	Engine          *engine.Engine
	Ledger          *ledger.Ledger
	Status          *engine.StatusTracker
	SnapshotTimeout time.Duration
}

// New creates a recovery coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Master == nil {
		return nil, fmt.Errorf("master adapter cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	timeout := cfg.SnapshotTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Coordinator{
		logger:  cfg.Logger,
		master:  cfg.Master,
		engine:  cfg.Engine,
		ledger:  cfg.Ledger,
		status:  cfg.Status,
		timeout: timeout,
	}, nil
}

// Reconcile diffs the master's open positions against the ledger and
// replays the missed activity as synthetic events. Event dispatch is
// paused for the duration so the ledger stays quiet. On snapshot
// failure the tracker is marked degraded and no events are processed;
// a later successful pass clears the flag.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	start := time.Now()
	ReconciliationsTotal.Inc()

	c.engine.Pause()
	defer c.engine.Resume()

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	positions, err := c.master.OpenPositions(sctx)
	cancel()
	if err != nil {
		ReconciliationFailuresTotal.Inc()
		c.status.SetDegraded(true)
		c.logger.Error("snapshot-failed-entering-degraded", zap.Error(err))
		return fmt.Errorf("master snapshot: %w", err)
	}

	missed := c.diff(positions)

	for _, ev := range missed {
		c.engine.ProcessEvent(ctx, ev)
	}

	c.status.SetDegraded(false)

	ReconciliationDuration.Observe(time.Since(start).Seconds())
	c.logger.Info("reconciliation-complete",
		zap.Int("master-positions", len(positions)),
		zap.Int("synthetic-events", len(missed)),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// ticketState aggregates the active mappings for one master ticket.
type ticketState struct {
	// lastSeq is the highest applied sequence across the ticket's
	// mappings, so a synthetic close always passes the staleness
	// check even when the original event and this pass share a
	// millisecond.
	lastSeq int64
	failed  int
	other   int
}

// diff computes the synthetic events needed to converge the ledger on
// the snapshot: a NewTrade for each master position with no mapping,
// a Closed for each non-terminal mapping whose position is gone, and a
// Closed+NewTrade pair for each live position whose copies all failed,
// so the copy is re-attempted instead of abandoned. Tickets with a mix
// of failed and healthy copies are left alone: the Closed would fan out
// and take down the healthy replicas too. One event per master ticket;
// the engine fans out across copiers.
func (c *Coordinator) diff(positions []types.Position) []types.TradeEvent {
	now := time.Now().UTC()
	seq := now.UnixMilli()

	live := make(map[int64]types.Position, len(positions))
	for _, p := range positions {
		live[p.Ticket] = p
	}

	tracked := make(map[int64]*ticketState)
	for _, m := range c.ledger.ActiveMappingsSnapshot() {
		ts, ok := tracked[m.MasterTicket]
		if !ok {
			ts = &ticketState{}
			tracked[m.MasterTicket] = ts
		}
		if m.LastSequence > ts.lastSeq {
			ts.lastSeq = m.LastSequence
		}
		if m.State == ledger.StateFailed {
			ts.failed++
		} else {
			ts.other++
		}
	}

	var events []types.TradeEvent

	newTrade := func(p types.Position, evSeq int64) types.TradeEvent {
		SyntheticEventsTotal.WithLabelValues("new_trade").Inc()
		return types.TradeEvent{
			Kind:         types.KindNewTrade,
			AccountID:    c.master.AccountID(),
			SourceTicket: p.Ticket,
			Symbol:       p.Symbol,
			Side:         p.Side,
			Volume:       p.Volume,
			OpenPrice:    p.OpenPrice,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			Timestamp:    now,
			Sequence:     evSeq,
			Synthetic:    true,
		}
	}
	closed := func(ticket, evSeq int64) types.TradeEvent {
		SyntheticEventsTotal.WithLabelValues("closed").Inc()
		return types.TradeEvent{
			Kind:         types.KindClosed,
			AccountID:    c.master.AccountID(),
			SourceTicket: ticket,
			Timestamp:    now,
			Sequence:     evSeq,
			Synthetic:    true,
		}
	}

	for ticket, p := range live {
		ts, ok := tracked[ticket]
		if !ok {
			events = append(events, newTrade(p, seq))
			continue
		}
		// Every copy of a live position failed: settle the dead
		// mappings and start the lifecycle over.
		if ts.failed > 0 && ts.other == 0 {
			closeSeq := seq
			if closeSeq <= ts.lastSeq {
				closeSeq = ts.lastSeq + 1
			}
			events = append(events, closed(ticket, closeSeq))
			events = append(events, newTrade(p, closeSeq+1))
		}
	}

	for ticket, ts := range tracked {
		if _, ok := live[ticket]; ok {
			continue
		}
		closeSeq := seq
		if closeSeq <= ts.lastSeq {
			closeSeq = ts.lastSeq + 1
		}
		events = append(events, closed(ticket, closeSeq))
	}

	// Deterministic replay order: closes first, then opens by ticket.
	sort.Slice(events, func(i, j int) bool {
		if events[i].Kind != events[j].Kind {
			return events[i].Kind == types.KindClosed
		}
		return events[i].SourceTicket < events[j].SourceTicket
	})

	return events
}
