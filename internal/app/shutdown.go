package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)
	a.engine.StopCopying()

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Adapters first: closing the master stream ends the normalizer's
	// input, which ends the engine's input.
	err = a.master.Close()
	if err != nil {
		a.logger.Error("master-adapter-close-error", zap.Error(err))
	}

	for _, c := range a.copiers {
		err = c.Close()
		if err != nil {
			a.logger.Error("copier-adapter-close-error",
				zap.String("account", c.AccountID()), zap.Error(err))
		}
	}

	err = a.engine.Close()
	if err != nil {
		a.logger.Error("engine-close-error", zap.Error(err))
	}

	err = a.hub.Close()
	if err != nil {
		a.logger.Error("broadcast-hub-close-error", zap.Error(err))
	}

	err = a.storage.Close()
	if err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
	}

	err = a.dedupeCache.Close()
	if err != nil {
		a.logger.Error("dedupe-cache-close-error", zap.Error(err))
	}

	// Wait for all goroutines
	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")

	return nil
}
