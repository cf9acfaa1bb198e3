package app

import (
	"context"
	"fmt"

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
	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := setupHealthChecker()

	dedupeCache, err := setupDedupeCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup dedupe cache: %w", err)
	}

	master, copiers := setupAdapters(cfg, logger)

	norm := setupNormalizer(cfg, logger, master, dedupeCache)
	tradeLedger := ledger.New(logger)
	status := engine.NewStatusTracker()
	hub := setupHub(cfg, logger)

	archive, err := setupStorage(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	eng, err := setupEngine(cfg, logger, tradeLedger, copiers, norm, status, hub, archive)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup engine: %w", err)
	}

	coordinator, err := setupRecovery(cfg, logger, master, eng, tradeLedger, status)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup recovery: %w", err)
	}

	settings, err := config.NewSettingsStore(cfg.DataDir, config.SettingsFromConfig(cfg))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup settings store: %w", err)
	}

	httpServer := setupHTTPServer(cfg, logger, healthChecker, eng, master, copiers, hub, settings, archive)

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		master:        master,
		copiers:       copiers,
		dedupeCache:   dedupeCache,
		normalizer:    norm,
		tradeLedger:   tradeLedger,
		status:        status,
		hub:           hub,
		engine:        eng,
		recovery:      coordinator,
		storage:       archive,
		settings:      settings,
		reconcileCh:   make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupDedupeCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 100000, // 10x expected max in-flight dedupe keys
		MaxCost:     10000,
		BufferItems: 64,
		Logger:      logger,
	})
}

// setupAdapters builds the master and copier terminal adapters. Sim
// mode runs everything against in-memory terminals and needs no
// bridge processes.
func setupAdapters(cfg *config.Config, logger *zap.Logger) (adapter.Adapter, []adapter.Adapter) {
	if cfg.AdapterMode == "sim" {
		master := adapter.NewSim(&adapter.SimConfig{
			AccountID: cfg.MasterAccountID,
			Account:   types.AccountInfo{Login: cfg.MasterAccountID, Balance: 100000, Equity: 100000, FreeMargin: 100000, Currency: "USD"},
			Logger:    logger,
		})

		endpoints := cfg.CopierBridges
		if len(endpoints) == 0 {
			endpoints = []config.BridgeEndpoint{{AccountID: "child"}}
		}
		copiers := make([]adapter.Adapter, 0, len(endpoints))
		for _, e := range endpoints {
			copiers = append(copiers, adapter.NewSim(&adapter.SimConfig{
				AccountID: e.AccountID,
				Account:   types.AccountInfo{Login: e.AccountID, Balance: 10000, Equity: 10000, FreeMargin: 10000, Currency: "USD"},
				Logger:    logger,
			}))
		}
		return master, copiers
	}

	streamCfg := adapter.StreamConfig{
		DialTimeout:           cfg.WSDialTimeout,
		PongTimeout:           cfg.WSPongTimeout,
		PingInterval:          cfg.WSPingInterval,
		ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		MessageBufferSize:     cfg.WSMessageBufferSize,
	}

	master := adapter.NewBridge(&adapter.BridgeConfig{
		AccountID: cfg.MasterAccountID,
		URL:       cfg.MasterBridgeURL,
		Timeout:   cfg.AdapterTimeout,
		Logger:    logger,
		Stream:    streamCfg,
	})

	copiers := make([]adapter.Adapter, 0, len(cfg.CopierBridges))
	for _, e := range cfg.CopierBridges {
		copiers = append(copiers, adapter.NewBridge(&adapter.BridgeConfig{
			AccountID: e.AccountID,
			URL:       e.URL,
			Timeout:   cfg.AdapterTimeout,
			Logger:    logger,
			RateLimit: cfg.OrderRateLimit,
			RateBurst: cfg.OrderRateBurst,
			Stream:    streamCfg,
		}))
	}

	return master, copiers
}

func setupNormalizer(cfg *config.Config, logger *zap.Logger, master adapter.Adapter, dedupe cache.Cache) *normalizer.Normalizer {
	return normalizer.New(&normalizer.Config{
		AccountID:    cfg.MasterAccountID,
		Raw:          master.Notifications(),
		Dedupe:       dedupe,
		DedupeTTL:    cfg.DedupeTTL,
		DedupeBucket: cfg.DedupeBucket,
		BufferSize:   cfg.EventBufferSize,
		Logger:       logger,
	})
}

func setupHub(cfg *config.Config, logger *zap.Logger) *broadcast.Hub {
	return broadcast.New(&broadcast.Config{
		Logger:     logger,
		BufferSize: cfg.PushBufferSize,
	})
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		pg, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pg, nil
	}

	logger.Info("using-console-storage")
	return storage.NewConsoleStorage(logger), nil
}

func setupEngine(
	cfg *config.Config,
	logger *zap.Logger,
	tradeLedger *ledger.Ledger,
	copiers []adapter.Adapter,
	norm *normalizer.Normalizer,
	status *engine.StatusTracker,
	hub *broadcast.Hub,
	archive storage.Storage,
) (*engine.Engine, error) {
	return engine.New(engine.Config{
		Ratio:           cfg.CopyRatio,
		FixedLot:        cfg.CopyFixedLot,
		MaxRetries:      cfg.MaxRetries,
		BackoffMin:      cfg.RetryBackoffMin,
		BackoffMax:      cfg.RetryBackoffMax,
		AdapterTimeout:  cfg.AdapterTimeout,
		SlippagePoints:  cfg.SlippagePoints,
		FillingMode:     cfg.FillingMode,
		CopyCloses:      cfg.CopyCloses,
		CommentTracking: cfg.CommentTracking,
		WorkerCount:     cfg.WorkerCount,
		Logger:          logger,
		Ledger:          tradeLedger,
		Copiers:         copiers,
		Events:          norm.Events(),
		Status:          status,
		Broadcast:       hub,
		Store:           archive,
	})
}

func setupRecovery(
	cfg *config.Config,
	logger *zap.Logger,
	master adapter.Adapter,
	eng *engine.Engine,
	tradeLedger *ledger.Ledger,
	status *engine.StatusTracker,
) (*recovery.Coordinator, error) {
	return recovery.New(recovery.Config{
		Logger:          logger,
		Master:          master,
		Engine:          eng,
		Ledger:          tradeLedger,
		Status:          status,
		SnapshotTimeout: cfg.AdapterTimeout * 2,
	})
}

func setupHTTPServer(
	cfg *config.Config,
	logger *zap.Logger,
	healthChecker *healthprobe.HealthChecker,
	eng *engine.Engine,
	master adapter.Adapter,
	copiers []adapter.Adapter,
	hub *broadcast.Hub,
	settings *config.SettingsStore,
	archive storage.Storage,
) *httpserver.Server {
	return httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Engine:        eng,
		Master:        master,
		Copiers:       copiers,
		Hub:           hub,
		Settings:      settings,
		Store:         archive,
	})
}
