package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jdtrading/mt5-copier/pkg/types"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	h := New(&Config{
		Logger:     zaptest.NewLogger(t),
		BufferSize: 8,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = h.Close() })

	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) types.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var env types.Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func TestHubPushesTradeEvent(t *testing.T) {
	t.Parallel()

	h, srv := newTestHub(t)
	conn := dial(t, srv)

	// Give the hub a moment to register the client.
	waitForClients(t, h, 1)

	h.TradeEvent(types.TradeEventPayload{
		Type: types.TradeEventNew,
		Data: types.TradeEventData{Ticket: 1001, Symbol: "EURUSD", Type: "buy", Volume: 1.0},
	})

	env := readEnvelope(t, conn)
	assert.Equal(t, types.PushTradeEvent, env.Event)

	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, types.TradeEventNew, data["type"])
}

func TestHubPushesLog(t *testing.T) {
	t.Parallel()

	h, srv := newTestHub(t)
	conn := dial(t, srv)
	waitForClients(t, h, 1)

	h.Log(types.LogSuccess, "Copied EURUSD buy 1.00 lots")

	env := readEnvelope(t, conn)
	assert.Equal(t, types.PushNewLog, env.Event)

	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, types.LogSuccess, data["level"])
	assert.Equal(t, "Copied EURUSD buy 1.00 lots", data["message"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHubFansOutToAllClients(t *testing.T) {
	t.Parallel()

	h, srv := newTestHub(t)
	first := dial(t, srv)
	second := dial(t, srv)
	waitForClients(t, h, 2)

	h.Status(types.EngineStatus{Running: true})

	for _, conn := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, conn)
		assert.Equal(t, types.PushStatus, env.Event)
	}
}

func TestHubPublishWithNoClients(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(t)

	// Must not panic or block.
	h.Log(types.LogInfo, "no one listening")
	h.Status(types.EngineStatus{})
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	t.Parallel()

	h, srv := newTestHub(t)
	conn := dial(t, srv)
	waitForClients(t, h, 1)

	require.NoError(t, h.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Publishing after close is a no-op.
	h.Log(types.LogInfo, "after close")
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		n := len(h.clients)
		h.mu.RUnlock()
		if n >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d clients", want)
}
