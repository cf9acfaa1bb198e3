package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/jdtrading/mt5-copier/internal/adapter"
	"github.com/jdtrading/mt5-copier/internal/engine"
	"github.com/jdtrading/mt5-copier/internal/storage"
	"github.com/jdtrading/mt5-copier/pkg/config"
	"github.com/jdtrading/mt5-copier/pkg/types"
)

const accountQueryTimeout = 3 * time.Second

// APIHandler serves the dashboard REST API.
type APIHandler struct {
	engine   *engine.Engine
	master   adapter.Adapter
	copiers  []adapter.Adapter
	settings *config.SettingsStore
	store    storage.Storage
	logger   *zap.Logger
}

// NewAPIHandler creates an API handler.
func NewAPIHandler(eng *engine.Engine, master adapter.Adapter, copiers []adapter.Adapter, settings *config.SettingsStore, store storage.Storage, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		engine:   eng,
		master:   master,
		copiers:  copiers,
		settings: settings,
		store:    store,
		logger:   logger,
	}
}

// HandleStatus serves GET /api/status.
func (h *APIHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := h.engine.Status().Snapshot()

	resp := types.StatusResponse{
		Running:       snapshot.Running,
		MasterRunning: snapshot.MasterConnected,
		Master:        h.accountStatus(r.Context(), h.master),
		Stats:         snapshot.Stats,
	}

	// The dashboard shows a single child pane; aggregate connectivity
	// across copiers and detail the first one.
	resp.CopierRunning = len(h.copiers) > 0
	for _, c := range h.copiers {
		if !c.Connected() {
			resp.CopierRunning = false
			break
		}
	}
	if len(h.copiers) > 0 {
		resp.Child = h.accountStatus(r.Context(), h.copiers[0])
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// accountStatus polls one adapter for the dashboard pane, degrading to
// a disconnected placeholder when the terminal is unreachable.
func (h *APIHandler) accountStatus(ctx context.Context, a adapter.Adapter) types.AccountStatus {
	status := types.AccountStatus{
		Connected:   a.Connected(),
		Account:     a.AccountID(),
		Positions:   []types.Position{},
		ClosedToday: []types.Position{},
	}
	if !status.Connected {
		return status
	}

	cctx, cancel := context.WithTimeout(ctx, accountQueryTimeout)
	defer cancel()

	info, err := a.AccountInfo(cctx)
	if err != nil {
		h.logger.Debug("account-info-unavailable",
			zap.String("account", a.AccountID()), zap.Error(err))
		return status
	}
	status.Account = info.Login
	status.Balance = info.Balance
	status.Equity = info.Equity

	positions, err := a.OpenPositions(cctx)
	if err != nil {
		h.logger.Debug("positions-unavailable",
			zap.String("account", a.AccountID()), zap.Error(err))
		return status
	}
	status.Positions = positions

	return status
}

// HandleTerminalStatus serves GET /api/mt5/status.
func (h *APIHandler) HandleTerminalStatus(w http.ResponseWriter, r *http.Request) {
	resp := types.TerminalStatusResponse{
		Connected: h.master.Connected(),
		Login:     "Disconnected",
	}

	if resp.Connected {
		cctx, cancel := context.WithTimeout(r.Context(), accountQueryTimeout)
		defer cancel()

		info, err := h.master.AccountInfo(cctx)
		if err == nil {
			resp.Login = info.Login
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStart serves POST /api/start.
func (h *APIHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.engine.StartCopying()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "started",
		"running": true,
	})
}

// HandleStop serves POST /api/stop.
func (h *APIHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.engine.StopCopying()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "stopped",
		"running": false,
	})
}

// HandleGetConfig serves GET /api/config.
func (h *APIHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Load()
	if err != nil {
		h.logger.Error("settings-load-failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	h.writeJSON(w, http.StatusOK, settings)
}

// HandleSetConfig serves POST /api/config.
func (h *APIHandler) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	var settings config.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}

	if err := h.settings.Save(&settings); err != nil {
		h.logger.Error("settings-save-failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// HandleActivity serves GET /api/activity.
func (h *APIHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = storage.SourceMaster
	}
	if source != storage.SourceMaster && source != storage.SourceChild {
		h.writeError(w, http.StatusBadRequest, "source must be master or child")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	entries, err := h.store.RecentActivity(r.Context(), source, limit)
	if err != nil {
		h.logger.Error("activity-query-failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load activity")
		return
	}
	if entries == nil {
		entries = []types.LogEntry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"source":  source,
		"entries": entries,
	})
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response-encode-failed", zap.Error(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
