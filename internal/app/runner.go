package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexusruntime/nexus/internal/bridgemonitor"
	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/httpserver"
	"github.com/nexusruntime/nexus/internal/reconciler"
	"github.com/nexusruntime/nexus/internal/runnerapi"
	"github.com/nexusruntime/nexus/internal/runnerpublish"
	"github.com/nexusruntime/nexus/internal/runtimemanager"
	"github.com/nexusruntime/nexus/internal/telemetry"
	"github.com/nexusruntime/nexus/internal/tokens"
)

// RunRunner wires and serves the Runner's internal API: the Runtime
// Manager, Bridge Monitor, and Reconciler against one host's Docker
// Compose/filesystem state, with no database of its own.
func RunRunner(ctx context.Context, cfg *config.Runner) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting nexus runner", "addr", cfg.HTTPAddr, "tenant_root", cfg.TenantRoot)

	runnerpublish.ValidateRedisURLOnce(cfg.RedisURL, logger)
	publisher := runnerpublish.New(cfg.RedisURL, logger)
	defer publisher.Disconnect()

	manager := runtimemanager.New(cfg.TenantRoot, cfg.TenantNetwork, cfg.BridgePort, cfg.TemplateComposePath, cfg.TemplateEnvPath)

	monitor := bridgemonitor.New(manager, publisher, logger)
	defer monitor.Shutdown()

	rec := reconciler.New(manager, monitor, publisher, logger)
	go rec.Run(ctx)

	// The Runner only ever verifies per-action runner tokens; it reuses the
	// same RunnerSharedSecret as both halves of tokens.Config since the user
	// access/refresh flows the AppJWTSecret guards never reach this binary.
	tokenService, err := tokens.New(tokens.Config{
		AppJWTSecret:       cfg.RunnerSharedSecret,
		RunnerSharedSecret: cfg.RunnerSharedSecret,
	})
	if err != nil {
		return fmt.Errorf("constructing token service: %w", err)
	}

	metricsReg := telemetry.NewRegistry()
	srv := httpserver.NewServer(httpserver.ServerConfig{}, logger, metricsReg)

	runnerapi.New(manager, monitor, rec, tokenService, logger).Mount(srv.Router)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("runner api listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down runner api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
