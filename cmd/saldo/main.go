package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"saldo/internal/cache"
	"saldo/internal/cli"
	apphttp "saldo/internal/http"
	applog "saldo/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	res := cli.InitBackend(context.Background(), logger, cfg)

	opts := apphttp.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		TrustedProxies:  cfg.TrustedProxies,
		ReadyChecks:     make(map[string]apphttp.ReadinessCheck, len(res.ReadyChecks)),
		Caches:          map[string]apphttp.StatsSource{},
	}
	for name, check := range res.ReadyChecks {
		opts.ReadyChecks[name] = check
	}

	cacheManager := cache.NewManager()
	if res.IdentityCache != nil {
		opts.Caches["identity"] = res.IdentityCache.Cache()
		cacheManager.Register(res.IdentityCache.Cache())
		cacheManager.StartCleanup(10 * time.Minute)
	}

	srv := apphttp.NewServer(":"+cfg.Port, res.Ledger, opts)
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cacheManager.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	})

	logger.Info("Starting saldo server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
