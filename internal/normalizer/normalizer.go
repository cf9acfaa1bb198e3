// Package normalizer converts raw bridge notifications into the
// canonical trade event stream consumed by the replication engine.
package normalizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jdtrading/mt5-copier/pkg/cache"
	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
)

// Normalizer turns zero or one TradeEvent out of every raw notification.
// Redelivered notifications are collapsed through a TTL dedupe cache;
// malformed input is dropped and logged, never surfaced to the caller.
type Normalizer struct {
	accountID string
	raw       <-chan types.RawNotification
	out       chan types.TradeEvent
	dedupe    cache.Cache
	ttl       time.Duration
	bucket    time.Duration
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// Config holds normalizer configuration.
type Config struct {
	AccountID    string
	Raw          <-chan types.RawNotification
	Dedupe       cache.Cache
	DedupeTTL    time.Duration
	DedupeBucket time.Duration
	BufferSize   int
	Logger       *zap.Logger
}

// New creates a normalizer.
func New(cfg *Config) *Normalizer {
	return &Normalizer{
		accountID: cfg.AccountID,
		raw:       cfg.Raw,
		out:       make(chan types.TradeEvent, cfg.BufferSize),
		dedupe:    cfg.Dedupe,
		ttl:       cfg.DedupeTTL,
		bucket:    cfg.DedupeBucket,
		logger:    cfg.Logger,
	}
}

// Events is the canonical trade event stream.
func (n *Normalizer) Events() <-chan types.TradeEvent {
	return n.out
}

// Start launches the normalization loop.
func (n *Normalizer) Start(ctx context.Context) error {
	n.logger.Info("normalizer-starting", zap.String("account", n.accountID))

	n.wg.Add(1)
	go n.run(ctx)

	return nil
}

func (n *Normalizer) run(ctx context.Context) {
	defer n.wg.Done()
	defer close(n.out)

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("normalizer-stopping")
			return
		case raw, ok := <-n.raw:
			if !ok {
				n.logger.Info("raw-channel-closed")
				return
			}

			event, err := n.Normalize(raw)
			if err != nil {
				NormalizationErrorsTotal.Inc()
				n.logger.Warn("notification-dropped",
					zap.Error(err),
					zap.String("action", raw.Action),
					zap.Int64("ticket", raw.Ticket))
				continue
			}
			if event == nil {
				// Duplicate redelivery.
				continue
			}

			EventsTotal.WithLabelValues(event.Kind.String()).Inc()

			select {
			case n.out <- *event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Normalize validates and converts one raw notification. Returns
// (nil, nil) for duplicates, an error for malformed input.
func (n *Normalizer) Normalize(raw types.RawNotification) (*types.TradeEvent, error) {
	kind, err := parseKind(raw.Action)
	if err != nil {
		return nil, err
	}

	if raw.Ticket <= 0 {
		return nil, fmt.Errorf("invalid ticket %d", raw.Ticket)
	}

	ts := time.UnixMilli(raw.Timestamp).UTC()
	if raw.Timestamp <= 0 {
		ts = time.Now().UTC()
	}

	event := &types.TradeEvent{
		Kind:         kind,
		AccountID:    n.accountID,
		SourceTicket: raw.Ticket,
		Symbol:       raw.Symbol,
		Volume:       raw.Volume,
		OpenPrice:    raw.Price,
		StopLoss:     raw.StopLoss,
		TakeProfit:   raw.TakeProfit,
		Timestamp:    ts,
		Sequence:     ts.UnixMilli(),
	}

	switch kind {
	case types.KindNewTrade:
		side, err := parseSide(raw.Type)
		if err != nil {
			return nil, err
		}
		event.Side = side

		if raw.Symbol == "" {
			return nil, fmt.Errorf("new trade without symbol, ticket %d", raw.Ticket)
		}
		if raw.Volume <= 0 {
			return nil, fmt.Errorf("new trade with volume %f, ticket %d", raw.Volume, raw.Ticket)
		}

	case types.KindModified, types.KindClosed:
		// Side and volume are optional on follow-up events; the ledger
		// already knows them from the originating NewTrade.
		if raw.Type != "" {
			side, err := parseSide(raw.Type)
			if err != nil {
				return nil, err
			}
			event.Side = side
		}

	case types.KindCopyFailed:
		// Never produced by a bridge; engine-internal only.
		return nil, fmt.Errorf("unexpected copy_failed from bridge, ticket %d", raw.Ticket)
	}

	// Register the dedupe key only once the notification has passed
	// validation, so a malformed delivery never swallows a good redelivery.
	key := fmt.Sprintf("%s|%d|%s|%d", n.accountID, raw.Ticket, kind, ts.Truncate(n.bucket).UnixMilli())
	if _, seen := n.dedupe.Get(key); seen {
		DuplicatesTotal.Inc()
		return nil, nil
	}
	n.dedupe.Set(key, struct{}{}, n.ttl)
	// The next redelivery can arrive before an async write lands.
	n.dedupe.Wait()

	return event, nil
}

func parseKind(action string) (types.EventKind, error) {
	switch action {
	case "new", "fill":
		// MT5 positions materialize on fill; both map to a new trade
		// and the dedupe bucket collapses the pair when both arrive.
		return types.KindNewTrade, nil
	case "modify":
		return types.KindModified, nil
	case "close":
		return types.KindClosed, nil
	default:
		return 0, fmt.Errorf("unknown action %q", action)
	}
}

func parseSide(raw string) (types.Side, error) {
	switch raw {
	case "buy", "BUY", "0":
		return types.SideBuy, nil
	case "sell", "SELL", "1":
		return types.SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", raw)
	}
}
