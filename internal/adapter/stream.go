package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
)

// Stream maintains the websocket connection to a terminal bridge and
// fans raw notifications into a bounded channel. When the consumer
// falls behind, the oldest notification is dropped with a warning;
// reconciliation corrects any resulting staleness.
type Stream struct {
	url    string
	config StreamConfig
	logger *zap.Logger

	conn          *websocket.Conn
	mu            sync.RWMutex
	notifications chan types.RawNotification
	connState     chan bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	connected     atomic.Bool
	lastPongTime  atomic.Int64

	backoff time.Duration
}

// StreamConfig holds stream client configuration.
type StreamConfig struct {
	URL                   string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// NewStream creates a stream client. Start establishes the connection.
func NewStream(cfg StreamConfig) *Stream {
	ctx, cancel := context.WithCancel(context.Background())

	return &Stream{
		url:           cfg.URL,
		config:        cfg,
		logger:        cfg.Logger,
		notifications: make(chan types.RawNotification, cfg.MessageBufferSize),
		connState:     make(chan bool, 8),
		ctx:           ctx,
		cancel:        cancel,
		backoff:       cfg.ReconnectInitialDelay,
	}
}

// Start connects and launches the read, ping and reconnect loops.
func (s *Stream) Start() error {
	s.logger.Info("stream-starting", zap.String("url", s.url))

	err := s.connect(s.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	return nil
}

// Notifications returns the raw notification channel.
func (s *Stream) Notifications() <-chan types.RawNotification {
	return s.notifications
}

// ConnState delivers connection transitions (true = connected).
func (s *Stream) ConnState() <-chan bool {
	return s.connState
}

// Connected reports the current connection state.
func (s *Stream) Connected() bool {
	return s.connected.Load()
}

// Close stops all loops and closes the connection.
func (s *Stream) Close() error {
	s.cancel()

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	close(s.notifications)

	s.logger.Info("stream-closed")
	return nil
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.config.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		s.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.connected.Store(true)
	s.lastPongTime.Store(time.Now().Unix())
	StreamConnected.Set(1)
	s.notifyConnState(true)

	s.logger.Info("stream-connected", zap.String("url", s.url))
	return nil
}

// markDisconnected flips state once per drop and triggers reconnection.
func (s *Stream) markDisconnected() {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}

	StreamConnected.Set(0)
	s.notifyConnState(false)

	s.wg.Add(1)
	go s.reconnectLoop()
}

// reconnectLoop retries the connection with exponential backoff and jitter.
func (s *Stream) reconnectLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		delay := s.nextBackoff()
		s.logger.Info("stream-reconnecting", zap.Duration("backoff", delay))
		StreamReconnectsTotal.Inc()

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}

		err := s.connect(s.ctx)
		if err == nil {
			s.resetBackoff()
			return
		}

		s.logger.Warn("stream-reconnect-failed", zap.Error(err))
	}
}

func (s *Stream) nextBackoff() time.Duration {
	delay := s.backoff

	next := time.Duration(float64(s.backoff) * s.config.ReconnectBackoffMult)
	if next > s.config.ReconnectMaxDelay {
		next = s.config.ReconnectMaxDelay
	}
	s.backoff = next

	// 20% jitter to avoid thundering herd against the bridge.
	jitter := time.Duration(rand.Float64() * 0.2 * float64(delay))
	return delay + jitter
}

func (s *Stream) resetBackoff() {
	s.backoff = s.config.ReconnectInitialDelay
}

// readLoop reads notifications from the websocket.
func (s *Stream) readLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil || !s.connected.Load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("stream-read-error", zap.Error(err))
			s.markDisconnected()
			continue
		}

		var raw types.RawNotification
		err = json.Unmarshal(message, &raw)
		if err != nil {
			// Heartbeats and control frames are not notifications.
			s.logger.Debug("stream-unparseable-message",
				zap.Error(err),
				zap.Int("bytes", len(message)))
			continue
		}

		s.deliver(raw)
	}
}

// deliver enqueues a notification, dropping the oldest when full.
func (s *Stream) deliver(raw types.RawNotification) {
	select {
	case s.notifications <- raw:
		StreamNotificationsTotal.Inc()
		return
	default:
	}

	select {
	case dropped := <-s.notifications:
		StreamDroppedTotal.Inc()
		s.logger.Warn("stream-buffer-full-dropping-oldest",
			zap.Int64("dropped-ticket", dropped.Ticket),
			zap.String("dropped-action", dropped.Action))
	default:
	}

	select {
	case s.notifications <- raw:
		StreamNotificationsTotal.Inc()
	default:
	}
}

// pingLoop sends pings and times out stale connections.
func (s *Stream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if !s.connected.Load() {
				continue
			}

			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.DialTimeout))
			if err != nil {
				s.logger.Warn("stream-ping-failed", zap.Error(err))
				s.markDisconnected()
				continue
			}

			lastPong := time.Unix(s.lastPongTime.Load(), 0)
			if time.Since(lastPong) > s.config.PongTimeout {
				s.logger.Warn("stream-pong-timeout",
					zap.Time("last-pong", lastPong))
				_ = conn.Close()
				s.markDisconnected()
			}
		}
	}
}

func (s *Stream) notifyConnState(connected bool) {
	select {
	case s.connState <- connected:
	default:
		// A slow listener only misses intermediate flaps; the latest
		// state is still observable via Connected().
	}
}
