package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Bridge talks to an MT5 terminal bridge process: REST for queries and
// order submission, a websocket stream for raw trade notifications.
type Bridge struct {
	accountID string
	client    *resty.Client
	stream    *Stream
	logger    *zap.Logger
	limiter   *rate.Limiter
	connected atomic.Bool
}

// BridgeConfig holds bridge adapter configuration.
type BridgeConfig struct {
	AccountID string
	URL       string // REST base, e.g. http://localhost:8787
	Timeout   time.Duration
	Logger    *zap.Logger

	// Order submission rate limit. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// Stream settings, passed through to the websocket client.
	Stream StreamConfig
}

var _ Adapter = (*Bridge)(nil)

// NewBridge creates a bridge adapter. Connect must be called before use.
func NewBridge(cfg *BridgeConfig) *Bridge {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	streamCfg := cfg.Stream
	streamCfg.URL = wsURL(cfg.URL)
	streamCfg.Logger = cfg.Logger

	return &Bridge{
		accountID: cfg.AccountID,
		client:    client,
		stream:    NewStream(streamCfg),
		logger:    cfg.Logger,
		limiter:   limiter,
	}
}

// wsURL derives the stream endpoint from the REST base URL.
func wsURL(restURL string) string {
	u := strings.TrimSuffix(restURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/stream"
}

// AccountID returns the configured account identifier.
func (b *Bridge) AccountID() string {
	return b.accountID
}

// Connect verifies the REST endpoint and starts the notification stream.
func (b *Bridge) Connect(ctx context.Context) error {
	_, err := b.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("probe bridge: %w", err)
	}

	err = b.stream.Start()
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	b.connected.Store(true)
	b.logger.Info("bridge-connected",
		zap.String("account", b.accountID),
		zap.String("url", b.client.BaseURL))

	return nil
}

// Connected reports whether the notification stream is up.
func (b *Bridge) Connected() bool {
	return b.connected.Load() && b.stream.Connected()
}

// Notifications is the raw event stream feeding the normalizer.
func (b *Bridge) Notifications() <-chan types.RawNotification {
	return b.stream.Notifications()
}

// ConnState delivers stream connection transitions.
func (b *Bridge) ConnState() <-chan bool {
	return b.stream.ConnState()
}

// AccountInfo returns a snapshot of the terminal account.
func (b *Bridge) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	var info types.AccountInfo
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/account")
	if err != nil {
		return types.AccountInfo{}, types.NewTransientError("account_info", "bridge request failed", err)
	}
	if resp.IsError() {
		return types.AccountInfo{}, bridgeError("account_info", resp)
	}
	return info, nil
}

// SymbolLimits returns broker sizing constraints for a symbol.
func (b *Bridge) SymbolLimits(ctx context.Context, symbol string) (types.SymbolLimits, error) {
	var limits types.SymbolLimits
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&limits).
		Get("/symbols/" + symbol)
	if err != nil {
		return types.SymbolLimits{}, types.NewTransientError("symbol_limits", "bridge request failed", err)
	}
	if resp.IsError() {
		return types.SymbolLimits{}, bridgeError("symbol_limits", resp)
	}
	return limits, nil
}

// OpenPositions returns the live open position snapshot.
func (b *Bridge) OpenPositions(ctx context.Context) ([]types.Position, error) {
	var positions []types.Position
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&positions).
		Get("/positions")
	if err != nil {
		return nil, types.NewTransientError("open_positions", "bridge request failed", err)
	}
	if resp.IsError() {
		return nil, bridgeError("open_positions", resp)
	}
	return positions, nil
}

// orderResponse is the bridge's reply to mutating order calls.
type orderResponse struct {
	Ticket  int64  `json:"ticket"`
	Retcode string `json:"retcode"`
	Message string `json:"message"`
}

// OpenOrder submits a market order and returns the broker ticket.
func (b *Bridge) OpenOrder(ctx context.Context, spec types.OrderSpec) (int64, error) {
	err := b.wait(ctx)
	if err != nil {
		return 0, types.NewTransientError("open_order", "rate limiter", err)
	}

	start := time.Now()
	var result orderResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(spec).
		SetResult(&result).
		SetError(&result).
		Post("/orders")
	BridgeCallDuration.WithLabelValues("open_order").Observe(time.Since(start).Seconds())

	if err != nil {
		BridgeCallErrorsTotal.WithLabelValues("open_order", "transient").Inc()
		return 0, types.NewTransientError("open_order", "bridge request failed", err)
	}
	if resp.IsError() {
		BridgeCallErrorsTotal.WithLabelValues("open_order", "rejected").Inc()
		return 0, orderCallError("open_order", resp.StatusCode(), result)
	}

	return result.Ticket, nil
}

// ModifyOrder updates stop loss and take profit on a position.
func (b *Bridge) ModifyOrder(ctx context.Context, ticket int64, rev types.OrderRevision) error {
	err := b.wait(ctx)
	if err != nil {
		return types.NewTransientError("modify_order", "rate limiter", err)
	}

	start := time.Now()
	var result orderResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(rev).
		SetResult(&result).
		SetError(&result).
		Patch(fmt.Sprintf("/orders/%d", ticket))
	BridgeCallDuration.WithLabelValues("modify_order").Observe(time.Since(start).Seconds())

	if err != nil {
		BridgeCallErrorsTotal.WithLabelValues("modify_order", "transient").Inc()
		return types.NewTransientError("modify_order", "bridge request failed", err)
	}
	if resp.IsError() {
		BridgeCallErrorsTotal.WithLabelValues("modify_order", "rejected").Inc()
		return orderCallError("modify_order", resp.StatusCode(), result)
	}

	return nil
}

// CloseOrder closes a position.
func (b *Bridge) CloseOrder(ctx context.Context, ticket int64) error {
	err := b.wait(ctx)
	if err != nil {
		return types.NewTransientError("close_order", "rate limiter", err)
	}

	start := time.Now()
	var result orderResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&result).
		Delete(fmt.Sprintf("/orders/%d", ticket))
	BridgeCallDuration.WithLabelValues("close_order").Observe(time.Since(start).Seconds())

	if err != nil {
		BridgeCallErrorsTotal.WithLabelValues("close_order", "transient").Inc()
		return types.NewTransientError("close_order", "bridge request failed", err)
	}
	if resp.IsError() {
		BridgeCallErrorsTotal.WithLabelValues("close_order", "rejected").Inc()
		return orderCallError("close_order", resp.StatusCode(), result)
	}

	return nil
}

// Close tears down the stream.
func (b *Bridge) Close() error {
	b.connected.Store(false)
	return b.stream.Close()
}

func (b *Bridge) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// bridgeError maps a non-2xx bridge reply on a query call. 5xx is
// transient (the bridge process itself is flapping), 4xx is rejected.
func bridgeError(op string, resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusInternalServerError {
		return types.NewTransientError(op, fmt.Sprintf("bridge returned %d", resp.StatusCode()), nil)
	}
	return types.NewRejectedError(op, "", fmt.Sprintf("bridge returned %d", resp.StatusCode()))
}

// orderCallError maps a failed order call using the broker retcode when
// the bridge supplied one.
func orderCallError(op string, status int, result orderResponse) error {
	message := result.Message
	if message == "" {
		message = fmt.Sprintf("bridge returned %d", status)
	}

	if status >= http.StatusInternalServerError {
		return types.NewTransientError(op, message, nil)
	}

	return types.NewRejectedError(op, result.Retcode, message)
}
