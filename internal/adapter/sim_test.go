package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jdtrading/mt5-copier/pkg/types"
)

func newTestSim(t *testing.T) *Sim {
	t.Helper()

	return NewSim(&SimConfig{
		AccountID: "sim-1",
		Account:   types.AccountInfo{Login: "sim-1", Balance: 10000, Equity: 10000, FreeMargin: 10000, Currency: "USD"},
		Logger:    zaptest.NewLogger(t),
	})
}

func TestSimOrderLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestSim(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.Connected())

	ticket, err := s.OpenOrder(ctx, types.OrderSpec{
		Symbol:  "EURUSD",
		Side:    types.SideBuy,
		Volume:  0.5,
		Comment: "copy:abc",
	})
	require.NoError(t, err)
	assert.Positive(t, ticket)

	positions, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, ticket, positions[0].Ticket)
	assert.Equal(t, 0.5, positions[0].Volume)
	assert.Equal(t, "copy:abc", positions[0].Comment)

	err = s.ModifyOrder(ctx, ticket, types.OrderRevision{StopLoss: 1.0900, TakeProfit: 1.1200})
	require.NoError(t, err)

	positions, err = s.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0900, positions[0].StopLoss)
	assert.Equal(t, 1.1200, positions[0].TakeProfit)

	require.NoError(t, s.CloseOrder(ctx, ticket))

	positions, err = s.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestSimRejectsUnknownTickets(t *testing.T) {
	t.Parallel()

	s := newTestSim(t)
	ctx := context.Background()

	err := s.ModifyOrder(ctx, 42, types.OrderRevision{})
	require.Error(t, err)
	assert.True(t, types.IsRejected(err))

	err = s.CloseOrder(ctx, 42)
	require.Error(t, err)
	assert.True(t, types.IsRejected(err))
}

func TestSimEmitDeliversNotifications(t *testing.T) {
	t.Parallel()

	s := newTestSim(t)
	require.NoError(t, s.Connect(context.Background()))

	raw := types.RawNotification{
		Action:    "new",
		Ticket:    1001,
		Symbol:    "EURUSD",
		Type:      "buy",
		Volume:    1.0,
		Timestamp: time.Now().UnixMilli(),
	}
	s.Emit(raw)

	select {
	case got := <-s.Notifications():
		assert.Equal(t, raw, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSimCloseEndsNotificationStream(t *testing.T) {
	t.Parallel()

	s := newTestSim(t)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Close())
	assert.False(t, s.Connected())

	_, open := <-s.Notifications()
	assert.False(t, open, "notifications channel should be closed")

	// Close is idempotent.
	require.NoError(t, s.Close())
}

func TestWSURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rest string
		want string
	}{
		{"http://localhost:8787", "ws://localhost:8787/stream"},
		{"http://localhost:8787/", "ws://localhost:8787/stream"},
		{"https://bridge.example.com", "wss://bridge.example.com/stream"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, wsURL(tt.rest))
	}
}
