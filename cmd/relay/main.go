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

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/authz"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/broker"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/config"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/logging"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/metrics"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/relay"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/service"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/store"
	transport "github.com/Cr0wn-Gh0ul/GhostChannel/internal/transport/http"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "relay",
		Environment: cfg.Env,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("relay")

	logger.Info("starting service")

	gormCfg := &gorm.Config{}
	if cfg.LogSQL {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var b broker.Broker
	if cfg.RedisURL != "" {
		rb, err := broker.NewRedisBroker(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Error("redis connect", "error", err)
			os.Exit(1)
		}
		b = rb
	} else {
		// Single-instance fallback; fan-out stays in-process.
		logger.Warn("REDIS_URL not set, using in-memory broker")
		b = broker.NewMemoryBroker()
	}
	defer b.Close()

	svc := service.New(st, service.AllowAll)

	hub := relay.NewHub(svc, b, logger)
	if err := hub.Run(ctx); err != nil {
		logger.Error("hub subscribe", "error", err)
		os.Exit(1)
	}
	defer hub.Stop()

	validator, err := newValidator(ctx, cfg, logger)
	if err != nil {
		logger.Error("token validator", "error", err)
		os.Exit(1)
	}

	ws := relay.NewGateway(hub, validator, cfg.CORSOrigins, logger)
	handler := transport.NewRouter(svc, hub, ws, validator.Middleware, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("relay listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
}

type middlewareValidator interface {
	authz.TokenValidator
	Middleware(next http.Handler) http.Handler
}

// newValidator prefers the shared HS256 secret for development and
// single-tenant deployments; without one it validates against the issuer's
// JWKS endpoint.
func newValidator(ctx context.Context, cfg config.Config, logger *slog.Logger) (middlewareValidator, error) {
	if cfg.JWTSecret != "" {
		logger.Info("using HS256 token validation")
		return authz.NewHMACValidator(cfg.JWTSecret, cfg.Issuer), nil
	}
	logger.Info("using JWKS token validation", "jwks_url", cfg.JWKSURL)
	return authz.NewJWKSValidator(ctx, cfg.JWKSURL, cfg.Issuer)
}
