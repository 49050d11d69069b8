package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/backend"
	"fintrack/internal/cli"
	apphttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/session"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	be, err := backend.New(context.Background(), backendCfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	provider := auth.NewProvider(be.Users, cfg.MaxSessions, cfg.SessionTTL, logger)

	// A zero debounce applies search terms as they are typed.
	debounce := cfg.SearchDebounce
	if debounce == 0 {
		debounce = -1
	}

	srv := apphttp.NewServer(":"+cfg.Port,
		apphttp.Deps{Store: be.Store, Auth: provider, Ready: be.Ready},
		apphttp.Options{
			SessionTTL:    cfg.SessionTTL,
			MaxViews:      cfg.MaxSessions,
			RateLimitRPM:  cfg.RateLimitRPM,
			SecureCookies: cfg.SecureCookies,
			View: session.Options{
				SearchDebounce:  debounce,
				PageSize:        cfg.GroupPageSize,
				OthersThreshold: cfg.OthersThresholdPercent,
			},
		},
		logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting fintrack server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
