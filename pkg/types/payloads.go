package types

import "time"

// Push event names consumed by the dashboard.
const (
	PushTradeEvent      = "trade_event"
	PushNewLog          = "new_log"
	PushStatus          = "status"
	PushPositionsUpdate = "positions_update"
)

// Dashboard trade_event types.
const (
	TradeEventNew    = "new_trade"
	TradeEventClosed = "trade_closed"
	TradeEventCopied = "trade_copied"
	TradeEventError  = "error"
)

// Dashboard log levels.
const (
	LogInfo    = "info"
	LogSuccess = "success"
	LogWarning = "warning"
	LogDanger  = "danger"
)

// Envelope is the frame pushed to dashboard websocket clients.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// TradeEventPayload is the data of a trade_event push.
type TradeEventPayload struct {
	Type string         `json:"type"`
	Data TradeEventData `json:"data"`
}

// TradeEventData carries the fields the dashboard renders per event type.
type TradeEventData struct {
	Ticket  int64   `json:"ticket,omitempty"`
	Symbol  string  `json:"symbol,omitempty"`
	Type    string  `json:"type,omitempty"` // buy or sell
	Volume  float64 `json:"volume,omitempty"`
	Message string  `json:"message,omitempty"`
}

// LogEntry is the data of a new_log push and an /api/activity row.
type LogEntry struct {
	Timestamp string `json:"timestamp"` // "YYYY-MM-DD HH:MM:SS"
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// NewLogEntry builds a LogEntry stamped with the dashboard time format.
func NewLogEntry(level, message string) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02 15:04:05"),
		Level:     level,
		Message:   message,
	}
}

// PositionsUpdate is the data of a positions_update push.
type PositionsUpdate struct {
	Positions []Position `json:"positions"`
}

// EngineStatus is the process-wide replication state, written only by the
// engine and recovery coordinator and read by the broadcaster and the HTTP
// layer via snapshot copies.
type EngineStatus struct {
	Running           bool            `json:"running"`
	MasterConnected   bool            `json:"master_connected"`
	CopierConnections map[string]bool `json:"copier_connections"`
	LastEventAt       time.Time       `json:"last_event_at"`
	Degraded          bool            `json:"degraded"`
	Stats             CopyStats       `json:"stats"`
}

// CopyStats counts replication outcomes since start.
type CopyStats struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// AccountStatus is one side of the /api/status response.
type AccountStatus struct {
	Connected   bool       `json:"connected"`
	Account     string     `json:"account"`
	Balance     float64    `json:"balance"`
	Equity      float64    `json:"equity"`
	Positions   []Position `json:"positions"`
	ClosedToday []Position `json:"closed_today"`
}

// StatusResponse is the /api/status response body.
type StatusResponse struct {
	Running       bool          `json:"running"`
	MasterRunning bool          `json:"master_running"`
	CopierRunning bool          `json:"copier_running"`
	Master        AccountStatus `json:"master"`
	Child         AccountStatus `json:"child"`
	Stats         CopyStats     `json:"stats"`
}

// TerminalStatusResponse is the /api/mt5/status response body.
type TerminalStatusResponse struct {
	Connected bool   `json:"connected"`
	Login     string `json:"login"`
}
