// Package engine is the replication core: it consumes normalized
// master trade events, drives the per-mapping state machine and issues
// orders on the copier terminals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/jdtrading/mt5-copier/internal/adapter"
	"github.com/jdtrading/mt5-copier/internal/ledger"
	"github.com/jdtrading/mt5-copier/internal/storage"
	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
)

// Broadcaster is the push surface the engine emits to. Implemented by
// broadcast.Hub; a no-op implementation serves tests.
type Broadcaster interface {
	TradeEvent(p types.TradeEventPayload)
	Log(level, message string)
	Status(s types.EngineStatus)
	Positions(positions []types.Position)
}

// Engine consumes master trade events and replicates them. Events for
// the same master ticket are processed strictly in arrival order on a
// single worker; distinct tickets run concurrently on separate workers.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	ledger  *ledger.Ledger
	scaler  *Scaler
	copiers []adapter.Adapter
	events  <-chan types.TradeEvent
	status  *StatusTracker
	push    Broadcaster
	store   storage.Storage

	workers []chan types.TradeEvent
	// gate blocks normal dispatch while reconciliation runs; the
	// recovery coordinator holds the write side.
	gate sync.RWMutex
	// inflight counts events handed to workers but not yet applied;
	// Pause waits on it so the ledger is quiet before reconciliation.
	inflight sync.WaitGroup
	copying  atomic.Bool
	ctx      context.Context
	wg       sync.WaitGroup
}

// Config holds engine configuration.
type Config struct {
	Ratio           float64
	FixedLot        float64
	MaxRetries      int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	AdapterTimeout  time.Duration
	SlippagePoints  int
	FillingMode     string
	CopyCloses      bool
	CommentTracking bool
	WorkerCount     int

	Logger    *zap.Logger
	Ledger    *ledger.Ledger
	Copiers   []adapter.Adapter
	Events    <-chan types.TradeEvent
	Status    *StatusTracker
	Broadcast Broadcaster
	Store     storage.Storage
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive")
	}
	if len(cfg.Copiers) == 0 {
		return nil, fmt.Errorf("at least one copier adapter is required")
	}

	copiers := make([]adapter.Adapter, len(cfg.Copiers))
	copy(copiers, cfg.Copiers)
	sort.Slice(copiers, func(i, j int) bool {
		return copiers[i].AccountID() < copiers[j].AccountID()
	})

	workers := make([]chan types.TradeEvent, cfg.WorkerCount)
	for i := range workers {
		workers[i] = make(chan types.TradeEvent, 64)
	}

	return &Engine{
		cfg:     cfg,
		logger:  cfg.Logger,
		ledger:  cfg.Ledger,
		scaler:  NewScaler(cfg.Ratio, cfg.FixedLot),
		copiers: copiers,
		events:  cfg.Events,
		status:  cfg.Status,
		push:    cfg.Broadcast,
		store:   cfg.Store,
		workers: workers,
	}, nil
}

// Start launches the dispatch loop and the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx = ctx
	e.logger.Info("engine-starting",
		zap.Int("workers", len(e.workers)),
		zap.Int("copiers", len(e.copiers)),
		zap.Float64("ratio", e.cfg.Ratio),
		zap.Float64("fixed-lot", e.cfg.FixedLot))

	for i := range e.workers {
		e.wg.Add(1)
		go e.workerLoop(i)
	}

	e.wg.Add(1)
	go e.dispatchLoop()

	return nil
}

// StartCopying enables replication of incoming events.
func (e *Engine) StartCopying() {
	if e.copying.CompareAndSwap(false, true) {
		e.status.SetRunning(true)
		e.logger.Info("copying-started")
		e.push.Log(types.LogInfo, "Trade copier started")
		e.push.Status(e.status.Snapshot())
	}
}

// StopCopying disables replication; events drain and are discarded.
func (e *Engine) StopCopying() {
	if e.copying.CompareAndSwap(true, false) {
		e.status.SetRunning(false)
		e.logger.Info("copying-stopped")
		e.push.Log(types.LogWarning, "Trade copier stopped")
		e.push.Status(e.status.Snapshot())
	}
}

// Copying reports whether replication is enabled.
func (e *Engine) Copying() bool {
	return e.copying.Load()
}

// Pause blocks dispatch of new events until Resume and waits for every
// already-dispatched event to finish. Used by the recovery coordinator
// so reconciliation runs against a quiet ledger.
func (e *Engine) Pause() {
	e.gate.Lock()
	e.inflight.Wait()
}

// Resume reopens dispatch after a reconciliation pass.
func (e *Engine) Resume() {
	e.gate.Unlock()
}

// Ledger exposes the position ledger for read-side consumers.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Status exposes the status tracker.
func (e *Engine) Status() *StatusTracker {
	return e.status
}

// dispatchLoop routes events to the worker owning their master ticket.
func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	defer func() {
		for _, w := range e.workers {
			close(w)
		}
	}()

	for {
		select {
		case <-e.ctx.Done():
			e.logger.Info("engine-stopping")
			return
		case ev, ok := <-e.events:
			if !ok {
				e.logger.Info("event-channel-closed")
				return
			}

			// Reconciliation holds the write side; normal flow takes
			// the read side just long enough to mark the event
			// in-flight, so Pause can wait for it to drain.
			e.gate.RLock()
			e.inflight.Add(1)
			e.gate.RUnlock()

			idx := int(ev.SourceTicket % int64(len(e.workers)))
			if idx < 0 {
				idx = -idx
			}

			select {
			case e.workers[idx] <- ev:
			case <-e.ctx.Done():
				e.inflight.Done()
				return
			}
		}
	}
}

func (e *Engine) workerLoop(idx int) {
	defer e.wg.Done()

	for ev := range e.workers[idx] {
		e.ProcessEvent(e.ctx, ev)
		e.inflight.Done()
	}
}

// ProcessEvent applies one trade event to the ledger and the copier
// terminals. Exported for the recovery coordinator, which injects
// synthetic events through the same path while dispatch is paused.
// Callers must serialize events for the same master ticket.
func (e *Engine) ProcessEvent(ctx context.Context, ev types.TradeEvent) {
	start := time.Now()
	defer func() {
		EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	EventsProcessedTotal.WithLabelValues(ev.Kind.String()).Inc()
	e.status.TouchEvent(ev.Timestamp)
	e.recordEvent(ctx, ev)

	if !e.copying.Load() && !ev.Synthetic {
		e.logger.Debug("event-ignored-copier-stopped",
			zap.Int64("ticket", ev.SourceTicket),
			zap.String("kind", ev.Kind.String()))
		return
	}

	// A failed reconciliation leaves the ledger untrusted; live events
	// are held back until a pass succeeds. Synthetic events are the
	// reconciliation itself and must still flow.
	if !ev.Synthetic && e.status.Degraded() {
		DegradedDroppedTotal.Inc()
		e.logger.Warn("event-blocked-degraded",
			zap.Int64("ticket", ev.SourceTicket),
			zap.String("kind", ev.Kind.String()))
		return
	}

	switch ev.Kind {
	case types.KindNewTrade:
		e.handleNewTrade(ctx, ev)
	case types.KindModified:
		e.handleModified(ctx, ev)
	case types.KindClosed:
		e.handleClosed(ctx, ev)
	case types.KindCopyFailed:
		// Engine-origin marker, nothing to replicate.
		e.logger.Debug("copy-failed-event-observed",
			zap.Int64("ticket", ev.SourceTicket))
	}
}

// handleNewTrade creates a mapping per copier and opens the replicas.
func (e *Engine) handleNewTrade(ctx context.Context, ev types.TradeEvent) {
	e.push.TradeEvent(types.TradeEventPayload{
		Type: types.TradeEventNew,
		Data: types.TradeEventData{
			Ticket: ev.SourceTicket,
			Symbol: ev.Symbol,
			Type:   string(ev.Side),
			Volume: ev.Volume,
		},
	})
	e.activity(ctx, storage.SourceMaster, types.LogInfo,
		fmt.Sprintf("New trade: %s %s %.2f lots (ticket %d)", ev.Symbol, ev.Side, ev.Volume, ev.SourceTicket))

	for _, copier := range e.copiers {
		e.replicateOpen(ctx, ev, copier)
	}
}

// replicateOpen runs the Pending -> Opening -> Open path on one copier.
func (e *Engine) replicateOpen(ctx context.Context, ev types.TradeEvent, copier adapter.Adapter) {
	accountID := copier.AccountID()

	if existing, ok := e.ledger.ActiveFor(ev.SourceTicket, accountID); ok {
		e.logger.Debug("duplicate-new-trade-ignored",
			zap.Int64("ticket", ev.SourceTicket),
			zap.String("copier-account", accountID),
			zap.String("state", existing.State.String()))
		return
	}

	m, err := e.ledger.Create(ev.SourceTicket, accountID, ledger.Mapping{
		Symbol:       ev.Symbol,
		Side:         string(ev.Side),
		MasterVolume: ev.Volume,
		StopLoss:     ev.StopLoss,
		TakeProfit:   ev.TakeProfit,
		LastSequence: ev.Sequence,
	})
	if err != nil {
		// Lost a race with another creator; treat as duplicate.
		e.logger.Debug("mapping-create-conflict", zap.Error(err))
		return
	}

	scaled, err := e.scaleFor(ctx, ev, copier)
	if err != nil {
		e.failMapping(ctx, m.CorrelationID, ledger.StatePending, ev, copier, err, 0)
		return
	}

	m, err = e.ledger.Transition(m.CorrelationID, ledger.StatePending, ledger.StateOpening, func(lm *ledger.Mapping) {
		lm.ScaledVolume = scaled
	})
	if err != nil {
		e.logger.Warn("mapping-moved-before-open",
			zap.String("correlation-id", m.CorrelationID),
			zap.Error(err))
		return
	}

	spec := types.OrderSpec{
		Symbol:     ev.Symbol,
		Side:       ev.Side,
		Volume:     scaled,
		StopLoss:   ev.StopLoss,
		TakeProfit: ev.TakeProfit,
		Slippage:   e.cfg.SlippagePoints,
		Filling:    e.cfg.FillingMode,
	}
	if e.cfg.CommentTracking {
		spec.Comment = "copy:" + m.CorrelationID
	}

	ticket, attempts, err := e.openWithRetry(ctx, copier, m.CorrelationID, spec)
	if err != nil {
		e.failMapping(ctx, m.CorrelationID, ledger.StateOpening, ev, copier, err, attempts)
		return
	}

	m, err = e.ledger.Transition(m.CorrelationID, ledger.StateOpening, ledger.StateOpen, func(lm *ledger.Mapping) {
		lm.CopierTicket = ticket
		lm.Attempts = attempts
	})
	if err != nil {
		// The mapping moved while the order was in flight; the filled
		// replica has no owner, so take it back down.
		e.logger.Warn("open-confirmed-on-moved-mapping",
			zap.String("correlation-id", m.CorrelationID),
			zap.Int64("copier-ticket", ticket),
			zap.Error(err))
		e.closeOrphan(copier, ticket)
		return
	}

	CopiesTotal.WithLabelValues("success").Inc()
	e.status.RecordCopy(true)

	e.push.TradeEvent(types.TradeEventPayload{
		Type: types.TradeEventCopied,
		Data: types.TradeEventData{
			Ticket: ticket,
			Symbol: ev.Symbol,
			Type:   string(ev.Side),
			Volume: scaled,
		},
	})
	e.activity(ctx, storage.SourceChild, types.LogSuccess,
		fmt.Sprintf("Copied %s %s %.2f lots to %s (ticket %d)", ev.Symbol, ev.Side, scaled, copier.AccountID(), ticket))
	e.pushPositions(ctx, copier)
}

// scaleFor sizes the copier order using live account and symbol data.
func (e *Engine) scaleFor(ctx context.Context, ev types.TradeEvent, copier adapter.Adapter) (float64, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.AdapterTimeout)
	defer cancel()

	limits, err := copier.SymbolLimits(cctx, ev.Symbol)
	if err != nil {
		return 0, fmt.Errorf("symbol limits: %w", err)
	}

	account, err := copier.AccountInfo(cctx)
	if err != nil {
		return 0, fmt.Errorf("account info: %w", err)
	}

	return e.scaler.Scale(ev.Volume, limits, account)
}

// openWithRetry submits the open order, retrying transient failures
// with exponential backoff up to the configured attempt budget.
func (e *Engine) openWithRetry(ctx context.Context, copier adapter.Adapter, correlationID string, spec types.OrderSpec) (int64, int, error) {
	b := &backoff.Backoff{
		Min:    e.cfg.BackoffMin,
		Max:    e.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	maxAttempts := e.cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.AdapterTimeout)
		ticket, err := copier.OpenOrder(cctx, spec)
		cancel()

		if err == nil {
			return ticket, attempt, nil
		}
		lastErr = err

		if types.IsRejected(err) {
			return 0, attempt, err
		}
		if ctx.Err() != nil {
			return 0, attempt, fmt.Errorf("cancelled: %w", ctx.Err())
		}
		if attempt == maxAttempts {
			break
		}

		// The mapping may have been settled by a close while we were
		// backing off; do not re-issue into a dead slot.
		m, ok := e.ledger.Get(correlationID)
		if !ok || m.State != ledger.StateOpening {
			return 0, attempt, fmt.Errorf("mapping left opening state during retry")
		}

		RetriesTotal.Inc()
		delay := b.Duration()
		e.logger.Warn("open-order-retrying",
			zap.String("correlation-id", correlationID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, attempt, fmt.Errorf("cancelled: %w", ctx.Err())
		}
	}

	return 0, maxAttempts, fmt.Errorf("open order failed after %d attempts: %w", maxAttempts, lastErr)
}

// failMapping settles a mapping to Failed and surfaces the error.
func (e *Engine) failMapping(ctx context.Context, correlationID string, from ledger.State, ev types.TradeEvent, copier adapter.Adapter, cause error, attempts int) {
	_, err := e.ledger.Transition(correlationID, from, ledger.StateFailed, func(lm *ledger.Mapping) {
		lm.LastError = cause.Error()
		if attempts > 0 {
			lm.Attempts = attempts
		}
	})
	if err != nil {
		e.logger.Warn("fail-transition-conflict",
			zap.String("correlation-id", correlationID),
			zap.Error(err))
		return
	}

	CopiesTotal.WithLabelValues("failed").Inc()
	e.status.RecordCopy(false)

	reason := fmt.Sprintf("Copy failed for ticket %d (%s) on %s: %v",
		ev.SourceTicket, ev.Symbol, copier.AccountID(), cause)

	e.logger.Error("copy-failed",
		zap.Int64("master-ticket", ev.SourceTicket),
		zap.String("copier-account", copier.AccountID()),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	failedEvent := types.TradeEvent{
		Kind:         types.KindCopyFailed,
		AccountID:    copier.AccountID(),
		SourceTicket: ev.SourceTicket,
		Symbol:       ev.Symbol,
		Timestamp:    time.Now().UTC(),
		Reason:       cause.Error(),
	}
	e.recordEvent(ctx, failedEvent)

	e.push.TradeEvent(types.TradeEventPayload{
		Type: types.TradeEventError,
		Data: types.TradeEventData{
			Ticket:  ev.SourceTicket,
			Symbol:  ev.Symbol,
			Message: reason,
		},
	})
	e.activity(ctx, storage.SourceChild, types.LogDanger, reason)
}

// handleModified re-issues SL/TP updates on open replicas. Failures
// here are non-fatal: the copier position stays open.
func (e *Engine) handleModified(ctx context.Context, ev types.TradeEvent) {
	for _, copier := range e.copiers {
		m, ok := e.ledger.ActiveFor(ev.SourceTicket, copier.AccountID())
		if !ok {
			e.logger.Debug("modify-without-mapping",
				zap.Int64("ticket", ev.SourceTicket),
				zap.String("copier-account", copier.AccountID()))
			continue
		}

		if !e.ledger.CheckSequence(m.CorrelationID, ev.Sequence) {
			StaleEventsTotal.Inc()
			e.logger.Debug("stale-modify-discarded",
				zap.Int64("ticket", ev.SourceTicket),
				zap.Int64("sequence", ev.Sequence))
			continue
		}

		if m.State != ledger.StateOpen {
			e.logger.Debug("modify-skipped-not-open",
				zap.Int64("ticket", ev.SourceTicket),
				zap.String("state", m.State.String()))
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, e.cfg.AdapterTimeout)
		err := copier.ModifyOrder(cctx, m.CopierTicket, types.OrderRevision{
			StopLoss:   ev.StopLoss,
			TakeProfit: ev.TakeProfit,
		})
		cancel()

		if err != nil {
			e.logger.Warn("modify-failed-keeping-position",
				zap.Int64("master-ticket", ev.SourceTicket),
				zap.Int64("copier-ticket", m.CopierTicket),
				zap.Error(err))
			e.activity(ctx, storage.SourceChild, types.LogWarning,
				fmt.Sprintf("SL/TP update failed on ticket %d: %v", m.CopierTicket, err))
			continue
		}

		_, err = e.ledger.ApplySequence(m.CorrelationID, ev.Sequence, func(lm *ledger.Mapping) {
			lm.StopLoss = ev.StopLoss
			lm.TakeProfit = ev.TakeProfit
		})
		if err != nil {
			e.logger.Debug("modify-sequence-conflict", zap.Error(err))
			continue
		}

		e.activity(ctx, storage.SourceChild, types.LogInfo,
			fmt.Sprintf("Updated SL/TP on ticket %d (SL %.5f, TP %.5f)", m.CopierTicket, ev.StopLoss, ev.TakeProfit))
	}
}

// handleClosed settles mappings for a master close.
func (e *Engine) handleClosed(ctx context.Context, ev types.TradeEvent) {
	e.push.TradeEvent(types.TradeEventPayload{
		Type: types.TradeEventClosed,
		Data: types.TradeEventData{
			Ticket: ev.SourceTicket,
			Symbol: ev.Symbol,
		},
	})
	e.activity(ctx, storage.SourceMaster, types.LogInfo,
		fmt.Sprintf("Trade closed: ticket %d", ev.SourceTicket))

	for _, copier := range e.copiers {
		e.replicateClose(ctx, ev, copier)
	}
}

// replicateClose settles one mapping: a confirmed replica gets a close
// order, an unconfirmed one goes straight to Closed with no side effects.
func (e *Engine) replicateClose(ctx context.Context, ev types.TradeEvent, copier adapter.Adapter) {
	m, ok := e.ledger.ActiveFor(ev.SourceTicket, copier.AccountID())
	if !ok {
		// Already settled or never seen; duplicates land here.
		e.logger.Debug("close-without-active-mapping",
			zap.Int64("ticket", ev.SourceTicket),
			zap.String("copier-account", copier.AccountID()))
		return
	}

	if !e.ledger.CheckSequence(m.CorrelationID, ev.Sequence) {
		StaleEventsTotal.Inc()
		e.logger.Debug("stale-close-discarded",
			zap.Int64("ticket", ev.SourceTicket),
			zap.Int64("sequence", ev.Sequence))
		return
	}

	switch m.State {
	case ledger.StateOpen:
		if !e.cfg.CopyCloses {
			e.settleNoOp(ctx, m, ev, "close copying disabled, replica left open")
			return
		}
		e.closeReplica(ctx, ev, copier, m)

	case ledger.StatePending, ledger.StateOpening, ledger.StateFailed:
		// Replica never confirmed open; nothing to close.
		e.settleNoOp(ctx, m, ev, "no replica to close")

	case ledger.StateClosing, ledger.StateClosed:
		e.logger.Debug("close-already-in-progress",
			zap.String("correlation-id", m.CorrelationID),
			zap.String("state", m.State.String()))
	}
}

func (e *Engine) settleNoOp(ctx context.Context, m ledger.Mapping, ev types.TradeEvent, note string) {
	closed, err := e.ledger.Transition(m.CorrelationID, m.State, ledger.StateClosed, func(lm *ledger.Mapping) {
		lm.LastSequence = ev.Sequence
	})
	if err != nil {
		e.logger.Debug("noop-close-conflict", zap.Error(err))
		return
	}

	e.recordMapping(ctx, closed)
	e.logger.Info("mapping-closed-noop",
		zap.String("correlation-id", m.CorrelationID),
		zap.Int64("master-ticket", m.MasterTicket),
		zap.String("note", note))
}

func (e *Engine) closeReplica(ctx context.Context, ev types.TradeEvent, copier adapter.Adapter, m ledger.Mapping) {
	m2, err := e.ledger.Transition(m.CorrelationID, ledger.StateOpen, ledger.StateClosing, func(lm *ledger.Mapping) {
		lm.LastSequence = ev.Sequence
	})
	if err != nil {
		e.logger.Debug("close-transition-conflict", zap.Error(err))
		return
	}

	closeErr := e.closeWithRetry(ctx, copier, m2.CopierTicket)
	if closeErr != nil && !isAlreadyClosed(closeErr) {
		_, err = e.ledger.Transition(m2.CorrelationID, ledger.StateClosing, ledger.StateFailed, func(lm *ledger.Mapping) {
			lm.LastError = closeErr.Error()
		})
		if err != nil {
			e.logger.Warn("close-fail-transition-conflict", zap.Error(err))
		}

		reason := fmt.Sprintf("Close failed for copier ticket %d on %s: %v",
			m2.CopierTicket, copier.AccountID(), closeErr)
		e.logger.Error("close-failed",
			zap.Int64("copier-ticket", m2.CopierTicket),
			zap.Error(closeErr))
		e.push.TradeEvent(types.TradeEventPayload{
			Type: types.TradeEventError,
			Data: types.TradeEventData{
				Ticket:  m2.CopierTicket,
				Symbol:  m2.Symbol,
				Message: reason,
			},
		})
		e.activity(ctx, storage.SourceChild, types.LogDanger, reason)
		return
	}

	closed, err := e.ledger.Transition(m2.CorrelationID, ledger.StateClosing, ledger.StateClosed, nil)
	if err != nil {
		e.logger.Warn("close-commit-conflict", zap.Error(err))
		return
	}

	e.recordMapping(ctx, closed)
	e.activity(ctx, storage.SourceChild, types.LogSuccess,
		fmt.Sprintf("Closed copier ticket %d (%s)", m2.CopierTicket, m2.Symbol))
	e.pushPositions(ctx, copier)
}

// closeWithRetry issues the close order with the same retry budget as opens.
func (e *Engine) closeWithRetry(ctx context.Context, copier adapter.Adapter, ticket int64) error {
	b := &backoff.Backoff{
		Min:    e.cfg.BackoffMin,
		Max:    e.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	maxAttempts := e.cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.AdapterTimeout)
		err := copier.CloseOrder(cctx, ticket)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if types.IsRejected(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("cancelled: %w", ctx.Err())
		}
		if attempt == maxAttempts {
			break
		}

		RetriesTotal.Inc()
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return fmt.Errorf("cancelled: %w", ctx.Err())
		}
	}

	return fmt.Errorf("close order failed after %d attempts: %w", maxAttempts, lastErr)
}

// closeOrphan tears down a replica whose mapping was settled while the
// open order was in flight. Best effort with a fresh short context;
// the engine context may already be gone.
func (e *Engine) closeOrphan(copier adapter.Adapter, ticket int64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.AdapterTimeout)
	defer cancel()

	err := copier.CloseOrder(ctx, ticket)
	if err != nil && !isAlreadyClosed(err) {
		e.logger.Error("orphan-close-failed",
			zap.Int64("copier-ticket", ticket),
			zap.Error(err))
	}
}

// isAlreadyClosed treats a "position not found" rejection as success:
// the desired end state holds.
func isAlreadyClosed(err error) bool {
	var ae *types.AdapterError
	if errors.As(err, &ae) {
		return ae.Code == types.ErrPositionClosed
	}
	return false
}

// pushPositions broadcasts the copier's position book, best effort.
func (e *Engine) pushPositions(ctx context.Context, copier adapter.Adapter) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.AdapterTimeout)
	defer cancel()

	positions, err := copier.OpenPositions(cctx)
	if err != nil {
		e.logger.Debug("positions-refresh-failed", zap.Error(err))
		return
	}
	e.push.Positions(positions)
}

// activity emits a dashboard log entry and archives it.
func (e *Engine) activity(ctx context.Context, source, level, message string) {
	e.push.Log(level, message)

	err := e.store.RecordLog(ctx, source, types.NewLogEntry(level, message))
	if err != nil {
		e.logger.Warn("activity-archive-failed", zap.Error(err))
	}
}

func (e *Engine) recordEvent(ctx context.Context, ev types.TradeEvent) {
	err := e.store.RecordEvent(ctx, ev)
	if err != nil {
		e.logger.Warn("event-archive-failed", zap.Error(err))
	}
}

func (e *Engine) recordMapping(ctx context.Context, m ledger.Mapping) {
	err := e.store.RecordMapping(ctx, m)
	if err != nil {
		e.logger.Warn("mapping-archive-failed", zap.Error(err))
	}
}

// Close waits for in-flight event handling to finish.
func (e *Engine) Close() error {
	e.logger.Info("closing-engine")
	e.wg.Wait()

	snapshot := e.status.Snapshot()
	e.logger.Info("engine-closed",
		zap.Int64("copies-total", snapshot.Stats.Total),
		zap.Int64("copies-success", snapshot.Stats.Success),
		zap.Int64("copies-failed", snapshot.Stats.Failed))

	return nil
}
