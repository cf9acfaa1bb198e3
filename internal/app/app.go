// Package app wires the copier components together and manages their
// lifecycle.
package app

import (
	"context"
	"sync"

	"github.com/jdtrading/mt5-copier/internal/adapter"
	"github.com/jdtrading/mt5-copier/internal/broadcast"
	"github.com/jdtrading/mt5-copier/internal/engine"
	"github.com/jdtrading/mt5-copier/internal/ledger"
	"github.com/jdtrading/mt5-copier/internal/normalizer"
	"github.com/jdtrading/mt5-copier/internal/recovery"
	"github.com/jdtrading/mt5-copier/internal/storage"
	"github.com/jdtrading/mt5-copier/pkg/cache"
	"github.com/jdtrading/mt5-copier/pkg/config"
	"github.com/jdtrading/mt5-copier/pkg/healthprobe"
	"github.com/jdtrading/mt5-copier/pkg/httpserver"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	master        adapter.Adapter
	copiers       []adapter.Adapter
	dedupeCache   cache.Cache
	normalizer    *normalizer.Normalizer
	tradeLedger   *ledger.Ledger
	status        *engine.StatusTracker
	hub           *broadcast.Hub
	engine        *engine.Engine
	recovery      *recovery.Coordinator
	storage       storage.Storage
	settings      *config.SettingsStore

	// reconcileCh serializes reconciliation requests from the
	// connection watch loops.
	reconcileCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options holds application options.
type Options struct {
	// NoAutoStart leaves copying disabled until POST /api/start.
	NoAutoStart bool
}
