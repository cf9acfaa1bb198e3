package engine

import (
	"sync"
	"time"

	"github.com/jdtrading/mt5-copier/pkg/types"
)

// StatusTracker is the process-wide EngineStatus handle. Writers are
// the engine and the recovery coordinator only; everyone else reads
// snapshot copies and never blocks a writer for long.
type StatusTracker struct {
	mu     sync.RWMutex
	status types.EngineStatus
}

// NewStatusTracker creates a tracker with no connections.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		status: types.EngineStatus{
			CopierConnections: make(map[string]bool),
		},
	}
}

// Snapshot returns a copy of the current status.
func (t *StatusTracker) Snapshot() types.EngineStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	s.CopierConnections = make(map[string]bool, len(t.status.CopierConnections))
	for id, up := range t.status.CopierConnections {
		s.CopierConnections[id] = up
	}
	return s
}

// SetRunning marks the replication pipeline running or stopped.
func (t *StatusTracker) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = running
}

// Running reports whether the pipeline is running.
func (t *StatusTracker) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Running
}

// SetMasterConnected records the master terminal connection state.
func (t *StatusTracker) SetMasterConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.MasterConnected = connected
}

// SetCopierConnected records one copier terminal connection state.
func (t *StatusTracker) SetCopierConnected(accountID string, connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.CopierConnections[accountID] = connected
}

// SetDegraded flags a failed reconciliation pass.
func (t *StatusTracker) SetDegraded(degraded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Degraded = degraded
}

// Degraded reports the degraded flag.
func (t *StatusTracker) Degraded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Degraded
}

// TouchEvent records the timestamp of the latest processed event.
func (t *StatusTracker) TouchEvent(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.status.LastEventAt) {
		t.status.LastEventAt = at
	}
}

// RecordCopy counts one replication outcome.
func (t *StatusTracker) RecordCopy(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Stats.Total++
	if success {
		t.status.Stats.Success++
	} else {
		t.status.Stats.Failed++
	}
}
