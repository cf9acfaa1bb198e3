package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
)

// Sim is an in-memory terminal used in sim mode and in tests. Orders
// always fill at the requested price; Emit pushes raw notifications as
// if they came from a bridge stream.
type Sim struct {
	accountID string
	logger    *zap.Logger

	mu         sync.RWMutex
	positions  map[int64]types.Position
	account    types.AccountInfo
	limits     types.SymbolLimits
	nextTicket atomic.Int64
	connected  atomic.Bool

	notifications chan types.RawNotification
	connState     chan bool
}

// SimConfig holds simulated terminal configuration.
type SimConfig struct {
	AccountID string
	Account   types.AccountInfo
	Limits    types.SymbolLimits
	Logger    *zap.Logger
}

var _ Adapter = (*Sim)(nil)

// NewSim creates a simulated terminal adapter.
func NewSim(cfg *SimConfig) *Sim {
	limits := cfg.Limits
	if limits.LotStep == 0 {
		limits = types.SymbolLimits{MinLot: 0.01, MaxLot: 100, LotStep: 0.01}
	}

	s := &Sim{
		accountID:     cfg.AccountID,
		logger:        cfg.Logger,
		positions:     make(map[int64]types.Position),
		account:       cfg.Account,
		limits:        limits,
		notifications: make(chan types.RawNotification, 256),
		connState:     make(chan bool, 8),
	}
	s.nextTicket.Store(100000)
	return s
}

// AccountID returns the configured account identifier.
func (s *Sim) AccountID() string {
	return s.accountID
}

// Connect marks the simulated terminal connected.
func (s *Sim) Connect(ctx context.Context) error {
	s.connected.Store(true)
	select {
	case s.connState <- true:
	default:
	}
	s.logger.Info("sim-terminal-connected", zap.String("account", s.accountID))
	return nil
}

// Connected reports the simulated connection state.
func (s *Sim) Connected() bool {
	return s.connected.Load()
}

// AccountInfo returns the configured account snapshot.
func (s *Sim) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account, nil
}

// SymbolLimits returns the configured sizing constraints.
func (s *Sim) SymbolLimits(ctx context.Context, symbol string) (types.SymbolLimits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits, nil
}

// OpenPositions returns the current simulated position book.
func (s *Sim) OpenPositions(ctx context.Context) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, p)
	}
	return positions, nil
}

// Notifications is the raw event stream, fed by Emit.
func (s *Sim) Notifications() <-chan types.RawNotification {
	return s.notifications
}

// ConnState delivers connection transitions.
func (s *Sim) ConnState() <-chan bool {
	return s.connState
}

// OpenOrder fills the order immediately and returns a fresh ticket.
func (s *Sim) OpenOrder(ctx context.Context, spec types.OrderSpec) (int64, error) {
	ticket := s.nextTicket.Add(1)

	s.mu.Lock()
	s.positions[ticket] = types.Position{
		Ticket:     ticket,
		Symbol:     spec.Symbol,
		Side:       spec.Side,
		Volume:     spec.Volume,
		StopLoss:   spec.StopLoss,
		TakeProfit: spec.TakeProfit,
		Comment:    spec.Comment,
		OpenedAt:   time.Now().UTC(),
	}
	s.mu.Unlock()

	s.logger.Debug("sim-order-opened",
		zap.String("account", s.accountID),
		zap.Int64("ticket", ticket),
		zap.String("symbol", spec.Symbol),
		zap.Float64("volume", spec.Volume))

	return ticket, nil
}

// ModifyOrder updates SL/TP on a simulated position.
func (s *Sim) ModifyOrder(ctx context.Context, ticket int64, rev types.OrderRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[ticket]
	if !ok {
		return types.NewRejectedError("modify_order", types.ErrPositionClosed, "position not found")
	}

	p.StopLoss = rev.StopLoss
	p.TakeProfit = rev.TakeProfit
	s.positions[ticket] = p
	return nil
}

// CloseOrder removes a simulated position.
func (s *Sim) CloseOrder(ctx context.Context, ticket int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.positions[ticket]
	if !ok {
		return types.NewRejectedError("close_order", types.ErrPositionClosed, "position not found")
	}

	delete(s.positions, ticket)
	return nil
}

// Close disconnects the simulated terminal.
func (s *Sim) Close() error {
	if s.connected.CompareAndSwap(true, false) {
		close(s.notifications)
	}
	return nil
}

// Emit injects a raw notification as if received from a bridge stream.
func (s *Sim) Emit(raw types.RawNotification) {
	s.notifications <- raw
}

// SetPosition seeds a simulated position directly (for reconciliation
// scenarios where a trade happened while the copier was offline).
func (s *Sim) SetPosition(p types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Ticket] = p
}
