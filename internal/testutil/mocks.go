// Package testutil provides shared mocks and fixtures for tests.
package testutil

import (
	"context"
	"sync"

	"github.com/jdtrading/mt5-copier/internal/ledger"
	"github.com/jdtrading/mt5-copier/pkg/types"
)

// MockAdapter is a scriptable terminal adapter for engine tests.
type MockAdapter struct {
	mu sync.Mutex

	Account  string
	IsUp     bool
	Info     types.AccountInfo
	Limits   types.SymbolLimits
	Book     []types.Position
	InfoErr  error
	LimitErr error
	BookErr  error

	// OpenErrs is consumed one per OpenOrder call; a nil entry or an
	// exhausted slice means success.
	OpenErrs  []error
	CloseErrs []error
	ModifyErr error

	nextTicket int64
	opened     []types.OrderSpec
	closed     []int64
	modified   []int64

	notifications chan types.RawNotification
	connState     chan bool
}

// NewMockAdapter creates a connected mock with sane account defaults.
func NewMockAdapter(account string) *MockAdapter {
	return &MockAdapter{
		Account: account,
		IsUp:    true,
		Info: types.AccountInfo{
			Login:      account,
			Balance:    10000,
			Equity:     10000,
			FreeMargin: 10000,
			Currency:   "USD",
		},
		Limits: types.SymbolLimits{
			MinLot:       0.01,
			MaxLot:       100,
			LotStep:      0.01,
			MarginPerLot: 100,
		},
		nextTicket:    500000,
		notifications: make(chan types.RawNotification, 16),
		connState:     make(chan bool, 4),
	}
}

func (m *MockAdapter) AccountID() string { return m.Account }

func (m *MockAdapter) Connect(ctx context.Context) error { return nil }

func (m *MockAdapter) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.IsUp
}

func (m *MockAdapter) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InfoErr != nil {
		return types.AccountInfo{}, m.InfoErr
	}
	return m.Info, nil
}

func (m *MockAdapter) SymbolLimits(ctx context.Context, symbol string) (types.SymbolLimits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LimitErr != nil {
		return types.SymbolLimits{}, m.LimitErr
	}
	return m.Limits, nil
}

func (m *MockAdapter) OpenPositions(ctx context.Context) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BookErr != nil {
		return nil, m.BookErr
	}
	book := make([]types.Position, len(m.Book))
	copy(book, m.Book)
	return book, nil
}

func (m *MockAdapter) OpenOrder(ctx context.Context, spec types.OrderSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.OpenErrs) > 0 {
		err := m.OpenErrs[0]
		m.OpenErrs = m.OpenErrs[1:]
		if err != nil {
			return 0, err
		}
	}

	m.nextTicket++
	m.opened = append(m.opened, spec)
	return m.nextTicket, nil
}

func (m *MockAdapter) ModifyOrder(ctx context.Context, ticket int64, rev types.OrderRevision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ModifyErr != nil {
		return m.ModifyErr
	}
	m.modified = append(m.modified, ticket)
	return nil
}

func (m *MockAdapter) CloseOrder(ctx context.Context, ticket int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.CloseErrs) > 0 {
		err := m.CloseErrs[0]
		m.CloseErrs = m.CloseErrs[1:]
		if err != nil {
			return err
		}
	}

	m.closed = append(m.closed, ticket)
	return nil
}

func (m *MockAdapter) Notifications() <-chan types.RawNotification { return m.notifications }

func (m *MockAdapter) ConnState() <-chan bool { return m.connState }

func (m *MockAdapter) Close() error { return nil }

// Emit injects a raw notification as if it came off the stream.
func (m *MockAdapter) Emit(raw types.RawNotification) {
	m.notifications <- raw
}

// SetConnected flips connectivity and signals watchers.
func (m *MockAdapter) SetConnected(up bool) {
	m.mu.Lock()
	m.IsUp = up
	m.mu.Unlock()
	m.connState <- up
}

// SetBook replaces the reported open positions.
func (m *MockAdapter) SetBook(positions ...types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Book = positions
}

// OpenedOrders returns the order specs submitted so far.
func (m *MockAdapter) OpenedOrders() []types.OrderSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.OrderSpec, len(m.opened))
	copy(out, m.opened)
	return out
}

// ClosedTickets returns the tickets closed so far.
func (m *MockAdapter) ClosedTickets() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.closed))
	copy(out, m.closed)
	return out
}

// ModifiedTickets returns the tickets modified so far.
func (m *MockAdapter) ModifiedTickets() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.modified))
	copy(out, m.modified)
	return out
}

// MockBroadcaster records pushes for assertions.
type MockBroadcaster struct {
	mu          sync.Mutex
	tradeEvents []types.TradeEventPayload
	logs        []types.LogEntry
	statuses    []types.EngineStatus
	positions   [][]types.Position
}

func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{}
}

func (b *MockBroadcaster) TradeEvent(p types.TradeEventPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tradeEvents = append(b.tradeEvents, p)
}

func (b *MockBroadcaster) Log(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, types.LogEntry{Level: level, Message: message})
}

func (b *MockBroadcaster) Status(s types.EngineStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, s)
}

func (b *MockBroadcaster) Positions(positions []types.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = append(b.positions, positions)
}

// TradeEvents returns pushed trade events, optionally filtered by type.
func (b *MockBroadcaster) TradeEvents(eventType string) []types.TradeEventPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.TradeEventPayload
	for _, p := range b.tradeEvents {
		if eventType == "" || p.Type == eventType {
			out = append(out, p)
		}
	}
	return out
}

// Logs returns pushed log entries.
func (b *MockBroadcaster) Logs() []types.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.LogEntry, len(b.logs))
	copy(out, b.logs)
	return out
}

// MockStorage records archived rows in memory.
type MockStorage struct {
	mu       sync.Mutex
	events   []types.TradeEvent
	mappings []ledger.Mapping
	activity map[string][]types.LogEntry
}

func NewMockStorage() *MockStorage {
	return &MockStorage{activity: make(map[string][]types.LogEntry)}
}

func (s *MockStorage) RecordEvent(ctx context.Context, event types.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MockStorage) RecordMapping(ctx context.Context, m ledger.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = append(s.mappings, m)
	return nil
}

func (s *MockStorage) RecordLog(ctx context.Context, source string, entry types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[source] = append(s.activity[source], entry)
	return nil
}

func (s *MockStorage) RecentActivity(ctx context.Context, source string, limit int) ([]types.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.activity[source]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]types.LogEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *MockStorage) Close() error { return nil }

// Events returns archived events.
func (s *MockStorage) Events() []types.TradeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TradeEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Mappings returns archived mapping snapshots.
func (s *MockStorage) Mappings() []ledger.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Mapping, len(s.mappings))
	copy(out, s.mappings)
	return out
}
