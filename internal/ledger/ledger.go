package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrActiveExists is returned by Create when the slot is taken.
	ErrActiveExists = errors.New("active mapping already exists")
	// ErrNotFound is returned for unknown correlation ids.
	ErrNotFound = errors.New("mapping not found")
	// ErrStateConflict is returned when a compare-and-transition finds
	// the mapping in a different state than expected.
	ErrStateConflict = errors.New("mapping state changed")
	// ErrStaleSequence is returned when an event's sequence is not
	// newer than the last one applied to the mapping.
	ErrStaleSequence = errors.New("stale event sequence")
)

type slotKey struct {
	masterTicket int64
	account      string
}

// Ledger holds all copy mappings. It is owned by the replication
// engine; mutations go through Create and Transition only. Reads return
// copies so no caller can mutate shared state outside the lock.
type Ledger struct {
	mu       sync.RWMutex
	mappings map[string]*Mapping // correlation id -> mapping (terminal included)
	active   map[slotKey]string  // occupied slot -> correlation id
	byTicket map[int64][]string  // master ticket -> correlation ids, active only
	logger   *zap.Logger
}

// New creates an empty ledger.
func New(logger *zap.Logger) *Ledger {
	return &Ledger{
		mappings: make(map[string]*Mapping),
		active:   make(map[slotKey]string),
		byTicket: make(map[int64][]string),
		logger:   logger,
	}
}

// Create registers a new mapping in Pending with a fresh correlation
// id. Fails with ErrActiveExists while a non-Closed mapping occupies
// the (masterTicket, copierAccount) slot; a full close frees the slot
// and a re-open gets a new correlation id.
func (l *Ledger) Create(masterTicket int64, copierAccount string, seed Mapping) (Mapping, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := slotKey{masterTicket: masterTicket, account: copierAccount}
	if id, exists := l.active[key]; exists {
		return *l.mappings[id], fmt.Errorf("%w: ticket %d account %s state %s",
			ErrActiveExists, masterTicket, copierAccount, l.mappings[id].State)
	}

	now := time.Now().UTC()
	m := &Mapping{
		CorrelationID:   uuid.NewString(),
		MasterTicket:    masterTicket,
		CopierAccountID: copierAccount,
		Symbol:          seed.Symbol,
		Side:            seed.Side,
		MasterVolume:    seed.MasterVolume,
		ScaledVolume:    seed.ScaledVolume,
		StopLoss:        seed.StopLoss,
		TakeProfit:      seed.TakeProfit,
		State:           StatePending,
		LastSequence:    seed.LastSequence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	l.mappings[m.CorrelationID] = m
	l.active[key] = m.CorrelationID
	l.byTicket[masterTicket] = append(l.byTicket[masterTicket], m.CorrelationID)

	ActiveMappings.Inc()
	l.logger.Debug("mapping-created",
		zap.String("correlation-id", m.CorrelationID),
		zap.Int64("master-ticket", masterTicket),
		zap.String("copier-account", copierAccount))

	return *m, nil
}

// Get returns a copy of the mapping by correlation id.
func (l *Ledger) Get(correlationID string) (Mapping, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.mappings[correlationID]
	if !ok {
		return Mapping{}, false
	}
	return *m, true
}

// ActiveFor returns a copy of the active mapping occupying a slot.
func (l *Ledger) ActiveFor(masterTicket int64, copierAccount string) (Mapping, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.active[slotKey{masterTicket: masterTicket, account: copierAccount}]
	if !ok {
		return Mapping{}, false
	}
	return *l.mappings[id], true
}

// ActiveByTicket returns copies of all active mappings for a master ticket.
func (l *Ledger) ActiveByTicket(masterTicket int64) []Mapping {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byTicket[masterTicket]
	out := make([]Mapping, 0, len(ids))
	for _, id := range ids {
		out = append(out, *l.mappings[id])
	}
	return out
}

// ActiveMappingsSnapshot returns copies of every active mapping.
func (l *Ledger) ActiveMappingsSnapshot() []Mapping {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Mapping, 0, len(l.active))
	for _, id := range l.active {
		out = append(out, *l.mappings[id])
	}
	return out
}

// Transition commits a state change by compare-and-transition: it fails
// with ErrStateConflict unless the mapping is still in from. The engine
// releases the ledger during adapter I/O, so the mapping may have moved
// underneath; callers handle the conflict by re-reading. apply, if
// non-nil, mutates the mapping inside the lock after the state change.
func (l *Ledger) Transition(correlationID string, from, to State, apply func(*Mapping)) (Mapping, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.mappings[correlationID]
	if !ok {
		return Mapping{}, fmt.Errorf("%w: %s", ErrNotFound, correlationID)
	}

	if m.State != from {
		return *m, fmt.Errorf("%w: expected %s, found %s", ErrStateConflict, from, m.State)
	}

	prev := m.State
	m.State = to
	m.UpdatedAt = time.Now().UTC()
	if apply != nil {
		apply(m)
	}

	if to == StateClosed {
		m.ClosedAt = m.UpdatedAt
		l.retire(m)
	}

	TransitionsTotal.WithLabelValues(prev.String(), to.String()).Inc()
	l.logger.Debug("mapping-transition",
		zap.String("correlation-id", correlationID),
		zap.String("from", prev.String()),
		zap.String("to", to.String()))

	return *m, nil
}

// ApplySequence records an event sequence on an active mapping, failing
// with ErrStaleSequence if the sequence is not strictly newer. Used for
// events that do not change state (modifies).
func (l *Ledger) ApplySequence(correlationID string, seq int64, apply func(*Mapping)) (Mapping, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.mappings[correlationID]
	if !ok {
		return Mapping{}, fmt.Errorf("%w: %s", ErrNotFound, correlationID)
	}

	if seq <= m.LastSequence {
		return *m, fmt.Errorf("%w: seq %d, last applied %d", ErrStaleSequence, seq, m.LastSequence)
	}

	m.LastSequence = seq
	m.UpdatedAt = time.Now().UTC()
	if apply != nil {
		apply(m)
	}

	return *m, nil
}

// CheckSequence reports whether seq would be accepted for the mapping.
func (l *Ledger) CheckSequence(correlationID string, seq int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.mappings[correlationID]
	if !ok {
		return false
	}
	return seq > m.LastSequence
}

// Archived returns copies of terminal mappings, newest first bounded by
// limit (0 = all). Kept for audit and post-close deduplication.
func (l *Ledger) Archived(limit int) []Mapping {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Mapping, 0)
	for _, m := range l.mappings {
		if m.State == StateClosed {
			out = append(out, *m)
		}
	}

	// Insertion order is not tracked; sort by close time descending.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ClosedAt.After(out[j-1].ClosedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// retire removes a mapping from the active indexes. Caller holds the lock.
func (l *Ledger) retire(m *Mapping) {
	key := slotKey{masterTicket: m.MasterTicket, account: m.CopierAccountID}
	if l.active[key] == m.CorrelationID {
		delete(l.active, key)
	}

	ids := l.byTicket[m.MasterTicket]
	for i, id := range ids {
		if id == m.CorrelationID {
			l.byTicket[m.MasterTicket] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(l.byTicket[m.MasterTicket]) == 0 {
		delete(l.byTicket, m.MasterTicket)
	}

	ActiveMappings.Dec()
	ArchivedMappings.Inc()
}
