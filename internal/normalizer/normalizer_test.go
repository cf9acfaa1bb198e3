package normalizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jdtrading/mt5-copier/pkg/cache"
	"github.com/jdtrading/mt5-copier/pkg/types"
)

func newTestNormalizer(t *testing.T, raw <-chan types.RawNotification) *Normalizer {
	t.Helper()

	dedupe, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dedupe.Close() })

	return New(&Config{
		AccountID:    "master-1",
		Raw:          raw,
		Dedupe:       dedupe,
		DedupeTTL:    time.Minute,
		DedupeBucket: time.Second,
		BufferSize:   16,
		Logger:       zaptest.NewLogger(t),
	})
}

func rawNew(ticket int64, ts int64) types.RawNotification {
	return types.RawNotification{
		Action:    "new",
		Ticket:    ticket,
		Symbol:    "EURUSD",
		Type:      "buy",
		Volume:    1.0,
		Price:     1.1000,
		Timestamp: ts,
	}
}

func TestNormalizeNewTrade(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(t, nil)
	ts := time.Now().UTC().Truncate(time.Millisecond)

	event, err := n.Normalize(rawNew(1001, ts.UnixMilli()))
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, types.KindNewTrade, event.Kind)
	assert.Equal(t, "master-1", event.AccountID)
	assert.Equal(t, int64(1001), event.SourceTicket)
	assert.Equal(t, "EURUSD", event.Symbol)
	assert.Equal(t, types.SideBuy, event.Side)
	assert.Equal(t, 1.0, event.Volume)
	assert.Equal(t, ts, event.Timestamp)
	assert.Equal(t, ts.UnixMilli(), event.Sequence)
}

func TestNormalizeActions(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(t, nil)
	ts := time.Now().UnixMilli()

	tests := []struct {
		action string
		want   types.EventKind
	}{
		{"new", types.KindNewTrade},
		{"fill", types.KindNewTrade},
		{"modify", types.KindModified},
		{"close", types.KindClosed},
	}

	for i, tt := range tests {
		raw := rawNew(int64(2000+i), ts)
		raw.Action = tt.action

		event, err := n.Normalize(raw)
		require.NoError(t, err, "action %q", tt.action)
		require.NotNil(t, event)
		assert.Equal(t, tt.want, event.Kind, "action %q", tt.action)
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(t, nil)
	ts := time.Now().UnixMilli()

	tests := []struct {
		name   string
		mutate func(*types.RawNotification)
	}{
		{"unknown action", func(r *types.RawNotification) { r.Action = "explode" }},
		{"zero ticket", func(r *types.RawNotification) { r.Ticket = 0 }},
		{"negative ticket", func(r *types.RawNotification) { r.Ticket = -5 }},
		{"missing symbol", func(r *types.RawNotification) { r.Symbol = "" }},
		{"zero volume", func(r *types.RawNotification) { r.Volume = 0 }},
		{"bad side", func(r *types.RawNotification) { r.Type = "long" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw := rawNew(3001, ts)
			tt.mutate(&raw)

			event, err := n.Normalize(raw)
			assert.Error(t, err)
			assert.Nil(t, event)
		})
	}
}

func TestNormalizeMalformedDoesNotSuppressRedelivery(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(t, nil)
	ts := time.Now().UnixMilli()

	// A delivery that fails validation must not claim the dedupe slot.
	broken := rawNew(3101, ts)
	broken.Volume = 0
	event, err := n.Normalize(broken)
	assert.Error(t, err)
	assert.Nil(t, event)

	// The corrected redelivery in the same bucket still goes through.
	event, err = n.Normalize(rawNew(3101, ts))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, int64(3101), event.SourceTicket)
	assert.Equal(t, 1.0, event.Volume)
}

func TestNormalizeNumericSides(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(t, nil)
	ts := time.Now().UnixMilli()

	buy := rawNew(4001, ts)
	buy.Type = "0"
	event, err := n.Normalize(buy)
	require.NoError(t, err)
	assert.Equal(t, types.SideBuy, event.Side)

	sell := rawNew(4002, ts)
	sell.Type = "1"
	event, err = n.Normalize(sell)
	require.NoError(t, err)
	assert.Equal(t, types.SideSell, event.Side)
}

func TestNormalizeDeduplicates(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(t, nil)
	ts := time.Now().UnixMilli()

	first, err := n.Normalize(rawNew(5001, ts))
	require.NoError(t, err)
	require.NotNil(t, first)

	// Redelivery in the same bucket collapses to nothing.
	second, err := n.Normalize(rawNew(5001, ts))
	require.NoError(t, err)
	assert.Nil(t, second)

	// A different ticket in the same bucket is distinct.
	other, err := n.Normalize(rawNew(5002, ts))
	require.NoError(t, err)
	assert.NotNil(t, other)

	// The same ticket with a different kind is distinct.
	closeRaw := rawNew(5001, ts)
	closeRaw.Action = "close"
	closed, err := n.Normalize(closeRaw)
	require.NoError(t, err)
	assert.NotNil(t, closed)
}

func TestNormalizeFillCollapsesWithNew(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(t, nil)
	ts := time.Now().UnixMilli()

	first, err := n.Normalize(rawNew(6001, ts))
	require.NoError(t, err)
	require.NotNil(t, first)

	// The fill for the same position lands in the same dedupe bucket.
	fill := rawNew(6001, ts)
	fill.Action = "fill"
	event, err := n.Normalize(fill)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestRunPipesEvents(t *testing.T) {
	t.Parallel()

	raw := make(chan types.RawNotification, 8)
	n := newTestNormalizer(t, raw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.Start(ctx))

	ts := time.Now().UnixMilli()
	raw <- rawNew(7001, ts)
	raw <- rawNew(7001, ts) // duplicate, dropped
	raw <- types.RawNotification{Action: "garbage", Ticket: 7002, Timestamp: ts}

	select {
	case event := <-n.Events():
		assert.Equal(t, int64(7001), event.SourceTicket)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	// The duplicate and the malformed notification produce nothing.
	select {
	case event := <-n.Events():
		t.Fatalf("unexpected event for ticket %d", event.SourceTicket)
	case <-time.After(100 * time.Millisecond):
	}

	close(raw)
}
