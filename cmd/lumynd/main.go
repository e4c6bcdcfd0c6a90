// Command lumynd serves the decision engine over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumyn-io/lumyn/pkg/api"
	"github.com/lumyn-io/lumyn/pkg/audit"
	"github.com/lumyn-io/lumyn/pkg/cache"
	"github.com/lumyn-io/lumyn/pkg/config"
	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/lumyn"
	"github.com/lumyn-io/lumyn/pkg/observability"
	"github.com/lumyn-io/lumyn/pkg/records"
	"github.com/lumyn-io/lumyn/pkg/redact"
	"github.com/lumyn-io/lumyn/pkg/resources"
	"github.com/lumyn-io/lumyn/pkg/store"
)

func main() {
	cfg := config.Load()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := observability.New(ctx, observability.Config{
		ServiceName:    "lumynd",
		ServiceVersion: records.EngineVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       true,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	var res *resources.Resources
	if cfg.SchemaDir != "" {
		res, err = resources.LoadDir(cfg.SchemaDir)
	} else {
		res, err = resources.Load()
	}
	if err != nil {
		logger.Error("resource load failed", "error", err)
		os.Exit(1)
	}

	var st store.Store
	if cfg.PostgresDSN != "" {
		st, err = store.OpenPostgres(cfg.PostgresDSN)
	} else {
		st, err = store.OpenSQLite(cfg.StorePath)
	}
	if err != nil {
		logger.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	profile, err := redact.ParseProfile(cfg.RedactionProfile)
	if err != nil {
		logger.Error("invalid redaction profile", "profile", cfg.RedactionProfile)
		os.Exit(1)
	}

	engineCfg := lumyn.Config{
		PolicyPath:       cfg.PolicyPath,
		TopK:             cfg.TopK,
		RedactionProfile: profile,
		Mode:             contracts.PolicyMode(cfg.PolicyMode),
	}
	engine := lumyn.New(engineCfg, res, st,
		lumyn.WithLogger(logger),
		lumyn.WithAuditor(audit.NewLogger()),
	)

	serverOpts := []api.ServerOption{
		api.WithServerLogger(logger),
		api.WithMetrics(provider),
	}
	if cfg.RedisAddr != "" {
		serverOpts = append(serverOpts, api.WithCache(cache.NewRedisCache(cfg.RedisAddr)))
	}
	server := api.NewServer(engine, serverOpts...)

	var handler http.Handler = server.Routes()
	if cfg.RateRPM > 0 {
		handler = api.NewGlobalRateLimiter(cfg.RateRPM).Middleware(handler)
	}
	handler = api.AuthMiddleware(cfg.APISecret, handler)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lumynd listening", "addr", cfg.ListenAddr, "policy", cfg.PolicyPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}
}
