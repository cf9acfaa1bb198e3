package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jdtrading/mt5-copier/internal/adapter"
	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run(opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}

	a.logger.Info("application-starting",
		zap.String("adapter-mode", a.cfg.AdapterMode),
		zap.String("master-account", a.cfg.MasterAccountID),
		zap.Int("copier-accounts", len(a.copiers)),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.startComponents(opts)
	if err != nil {
		return err
	}

	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.Bool("copying", a.engine.Copying()))

	return a.waitForShutdown()
}

func (a *App) startComponents(opts *Options) error {
	a.wg.Add(1)
	go a.runHTTPServer()

	// Give HTTP server a moment to start
	time.Sleep(100 * time.Millisecond)

	err := a.connectAdapters()
	if err != nil {
		return fmt.Errorf("connect adapters: %w", err)
	}

	err = a.normalizer.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start normalizer: %w", err)
	}

	err = a.engine.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	a.status.SetMasterConnected(a.master.Connected())
	for _, c := range a.copiers {
		a.status.SetCopierConnected(c.AccountID(), c.Connected())
	}

	if !opts.NoAutoStart {
		a.engine.StartCopying()
	}

	// Startup reconciliation: the master may have traded while the
	// copier was down. A failed pass leaves the engine degraded, so
	// queue a retry rather than running blind.
	err = a.recovery.Reconcile(a.ctx)
	if err != nil {
		a.logger.Error("startup-reconciliation-failed", zap.Error(err))
		a.requestReconcile()
	}
	a.healthChecker.SetDegraded(a.status.Degraded())

	a.wg.Add(1)
	go a.runReconcileLoop()

	a.wg.Add(1)
	go a.watchMasterConnection()

	for _, c := range a.copiers {
		a.wg.Add(1)
		go a.watchCopierConnection(c)
	}

	return nil
}

func (a *App) connectAdapters() error {
	err := a.master.Connect(a.ctx)
	if err != nil {
		return fmt.Errorf("connect master %s: %w", a.master.AccountID(), err)
	}

	for _, c := range a.copiers {
		err = c.Connect(a.ctx)
		if err != nil {
			return fmt.Errorf("connect copier %s: %w", c.AccountID(), err)
		}
	}

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

// reconcileRetryInterval spaces out retries of a failed
// reconciliation pass. While degraded the engine drops live events,
// so passes keep retrying until one succeeds.
const reconcileRetryInterval = 5 * time.Second

// runReconcileLoop serializes reconciliation passes requested by the
// connection watchers and retries failed ones.
func (a *App) runReconcileLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.reconcileCh:
			err := a.recovery.Reconcile(a.ctx)
			if err != nil {
				a.logger.Error("reconciliation-failed", zap.Error(err))
			}
			a.healthChecker.SetDegraded(a.status.Degraded())
			a.hub.Status(a.status.Snapshot())

			if err != nil {
				select {
				case <-a.ctx.Done():
					return
				case <-time.After(reconcileRetryInterval):
					a.requestReconcile()
				}
			}
		}
	}
}

func (a *App) requestReconcile() {
	select {
	case a.reconcileCh <- struct{}{}:
	default:
		// A pass is already queued; the snapshot it takes covers us.
	}
}

// watchMasterConnection tracks master stream state and triggers a
// reconciliation pass on every reconnect.
func (a *App) watchMasterConnection() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case up, ok := <-a.master.ConnState():
			if !ok {
				return
			}

			a.status.SetMasterConnected(up)
			a.hub.Status(a.status.Snapshot())

			if up {
				a.logger.Info("master-reconnected-requesting-reconciliation")
				a.requestReconcile()
			} else {
				a.logger.Warn("master-disconnected")
				a.hub.Log(types.LogWarning, "Master terminal disconnected")
			}
		}
	}
}

func (a *App) watchCopierConnection(c adapter.Adapter) {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case up, ok := <-c.ConnState():
			if !ok {
				return
			}

			a.status.SetCopierConnected(c.AccountID(), up)
			a.hub.Status(a.status.Snapshot())

			if !up {
				a.logger.Warn("copier-disconnected", zap.String("account", c.AccountID()))
				a.hub.Log(types.LogWarning, fmt.Sprintf("Copier terminal %s disconnected", c.AccountID()))
			}
		}
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
