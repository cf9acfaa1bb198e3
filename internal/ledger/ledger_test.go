package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(zaptest.NewLogger(t))
}

func TestCreate(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	m, err := l.Create(1001, "child-1", Mapping{
		Symbol:       "EURUSD",
		Side:         "buy",
		MasterVolume: 1.0,
		LastSequence: 100,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, m.CorrelationID)
	assert.Equal(t, StatePending, m.State)
	assert.Equal(t, int64(1001), m.MasterTicket)
	assert.Equal(t, "child-1", m.CopierAccountID)
	assert.Equal(t, int64(100), m.LastSequence)
	assert.True(t, m.Active())
}

func TestCreateDuplicateSlot(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	_, err := l.Create(1001, "child-1", Mapping{Symbol: "EURUSD"})
	require.NoError(t, err)

	_, err = l.Create(1001, "child-1", Mapping{Symbol: "EURUSD"})
	assert.ErrorIs(t, err, ErrActiveExists)

	// Same ticket, different copier account is a distinct slot.
	_, err = l.Create(1001, "child-2", Mapping{Symbol: "EURUSD"})
	assert.NoError(t, err)
}

func TestCreateAfterCloseGetsFreshMapping(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	first, err := l.Create(1001, "child-1", Mapping{Symbol: "EURUSD"})
	require.NoError(t, err)

	_, err = l.Transition(first.CorrelationID, StatePending, StateClosed, nil)
	require.NoError(t, err)

	second, err := l.Create(1001, "child-1", Mapping{Symbol: "EURUSD"})
	require.NoError(t, err)
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
}

func TestFailedSlotStaysOccupied(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	m, err := l.Create(1001, "child-1", Mapping{Symbol: "EURUSD"})
	require.NoError(t, err)

	_, err = l.Transition(m.CorrelationID, StatePending, StateFailed, nil)
	require.NoError(t, err)

	// Failed is not terminal: the slot blocks re-creation until a
	// master close settles it.
	_, err = l.Create(1001, "child-1", Mapping{Symbol: "EURUSD"})
	assert.ErrorIs(t, err, ErrActiveExists)

	got, ok := l.ActiveFor(1001, "child-1")
	require.True(t, ok)
	assert.Equal(t, StateFailed, got.State)
}

func TestTransition(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	m, err := l.Create(1001, "child-1", Mapping{Symbol: "EURUSD"})
	require.NoError(t, err)

	m, err = l.Transition(m.CorrelationID, StatePending, StateOpening, nil)
	require.NoError(t, err)
	assert.Equal(t, StateOpening, m.State)

	m, err = l.Transition(m.CorrelationID, StateOpening, StateOpen, func(lm *Mapping) {
		lm.CopierTicket = 555001
		lm.Attempts = 2
	})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, m.State)
	assert.Equal(t, int64(555001), m.CopierTicket)
	assert.Equal(t, 2, m.Attempts)
}

func TestTransitionStateConflict(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	m, err := l.Create(1001, "child-1", Mapping{Symbol: "EURUSD"})
	require.NoError(t, err)

	_, err = l.Transition(m.CorrelationID, StateOpening, StateOpen, nil)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = l.Transition("no-such-id", StatePending, StateOpening, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionToClosedRetiresSlot(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	m, err := l.Create(1001, "child-1", Mapping{Symbol: "EURUSD"})
	require.NoError(t, err)

	closed, err := l.Transition(m.CorrelationID, StatePending, StateClosed, nil)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, closed.State)
	assert.False(t, closed.Active())
	assert.False(t, closed.ClosedAt.IsZero())

	_, ok := l.ActiveFor(1001, "child-1")
	assert.False(t, ok)

	// Still retrievable by correlation id for audit.
	archived, ok := l.Get(m.CorrelationID)
	require.True(t, ok)
	assert.Equal(t, StateClosed, archived.State)
}

func TestApplySequence(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	m, err := l.Create(1001, "child-1", Mapping{LastSequence: 100})
	require.NoError(t, err)

	updated, err := l.ApplySequence(m.CorrelationID, 150, func(lm *Mapping) {
		lm.StopLoss = 1.0950
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150), updated.LastSequence)
	assert.Equal(t, 1.0950, updated.StopLoss)

	// Equal and older sequences are both stale.
	_, err = l.ApplySequence(m.CorrelationID, 150, nil)
	assert.ErrorIs(t, err, ErrStaleSequence)

	_, err = l.ApplySequence(m.CorrelationID, 120, nil)
	assert.ErrorIs(t, err, ErrStaleSequence)
}

func TestCheckSequence(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	m, err := l.Create(1001, "child-1", Mapping{LastSequence: 100})
	require.NoError(t, err)

	assert.True(t, l.CheckSequence(m.CorrelationID, 101))
	assert.False(t, l.CheckSequence(m.CorrelationID, 100))
	assert.False(t, l.CheckSequence(m.CorrelationID, 99))
	assert.False(t, l.CheckSequence("no-such-id", 200))
}

func TestActiveMappingsSnapshot(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	m1, err := l.Create(1001, "child-1", Mapping{})
	require.NoError(t, err)
	_, err = l.Create(1002, "child-1", Mapping{})
	require.NoError(t, err)

	_, err = l.Transition(m1.CorrelationID, StatePending, StateClosed, nil)
	require.NoError(t, err)

	snapshot := l.ActiveMappingsSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, int64(1002), snapshot[0].MasterTicket)
}

func TestArchived(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	for ticket := int64(1); ticket <= 3; ticket++ {
		m, err := l.Create(ticket, "child-1", Mapping{})
		require.NoError(t, err)
		_, err = l.Transition(m.CorrelationID, StatePending, StateClosed, nil)
		require.NoError(t, err)
	}

	all := l.Archived(0)
	assert.Len(t, all, 3)

	limited := l.Archived(2)
	assert.Len(t, limited, 2)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateOpening, "opening"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{StateFailed, "failed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
