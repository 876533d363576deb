package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/controlapi"
	"github.com/nexusruntime/nexus/internal/crypto"
	"github.com/nexusruntime/nexus/internal/db"
	"github.com/nexusruntime/nexus/internal/events"
	"github.com/nexusruntime/nexus/internal/googleoauth"
	"github.com/nexusruntime/nexus/internal/httpserver"
	"github.com/nexusruntime/nexus/internal/orchestrator"
	"github.com/nexusruntime/nexus/internal/platform"
	"github.com/nexusruntime/nexus/internal/ratelimit"
	"github.com/nexusruntime/nexus/internal/runnerclient"
	"github.com/nexusruntime/nexus/internal/telemetry"
	"github.com/nexusruntime/nexus/internal/tokens"
	"github.com/nexusruntime/nexus/internal/userauth"
)

// RunControlPlane wires and serves the Control Plane API: it reads config,
// connects to Postgres and Redis, builds every domain service, and runs the
// HTTP+WebSocket server until ctx is cancelled.
func RunControlPlane(ctx context.Context, cfg *config.ControlPlane) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting nexus control plane", "addr", cfg.HTTPAddr)

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if cfg.ControlAutoCreateSchema {
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied", "dir", cfg.MigrationsDir)
	}

	metricsReg := telemetry.NewRegistry()

	cipher, err := crypto.New(cfg.SecretsMasterKeyB64)
	if err != nil {
		return fmt.Errorf("constructing secret cipher: %w", err)
	}

	tokenService, err := tokens.New(tokens.Config{
		AppJWTSecret:          cfg.AppJWTSecret,
		RunnerSharedSecret:    cfg.RunnerSharedSecret,
		AccessTokenMinutes:    cfg.AccessTokenMinutes,
		RefreshTokenDays:      cfg.RefreshTokenDays,
		RunnerTokenTTLSeconds: cfg.RunnerTokenTTLSeconds,
	})
	if err != nil {
		return fmt.Errorf("constructing token service: %w", err)
	}

	bus := events.NewBus(rdb, pool, logger)
	bus.Start(ctx)
	defer bus.Stop()

	runner := runnerclient.New(cfg.RunnerBaseURL, tokenService)

	googleCfg := googleoauth.Config{
		ClientID:       cfg.GoogleOAuthClientID,
		ClientSecret:   cfg.GoogleOAuthClientSecret,
		RedirectURI:    cfg.GoogleOAuthRedirectURI,
		AllowedOrigins: cfg.GoogleOAuthAllowedOrigins,
	}

	orch := orchestrator.New(pool, cipher, runner, bus, tokenService, googleCfg, cfg.NexusImage, logger)
	orch.Start(ctx)
	defer orch.Stop()

	signupLimit := ratelimit.NewRedisLimiter(rdb, cfg.RateLimitSignupPerMinute, logger)
	authSvc := userauth.New(db.New(pool), tokenService, signupLimit)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, metricsReg)

	controlapi.New(orch, bus, authSvc, logger).Mount(srv.Router)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control plane api listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down control plane api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
