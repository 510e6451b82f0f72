package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/campus-rides/internal/auth"
	"github.com/example/campus-rides/internal/config"
	"github.com/example/campus-rides/internal/dispatch"
	httpapi "github.com/example/campus-rides/internal/http"
	"github.com/example/campus-rides/internal/ingest"
	"github.com/example/campus-rides/internal/logging"
	"github.com/example/campus-rides/internal/matcher"
	"github.com/example/campus-rides/internal/presence"
	"github.com/example/campus-rides/internal/ratings"
	"github.com/example/campus-rides/internal/session"
	"github.com/example/campus-rides/internal/storage"
)

type publisher interface {
	matcher.EventPublisher
	Close() error
}

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpapi.ReadyCheck{}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	checks["store"] = store.Ping

	var tracker presence.Tracker = presence.NewMemoryTracker()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		rt := presence.NewRedisTracker(rc, cfg.RedisPresenceKey)
		checks["redis"] = rt.Ping
		tracker = rt
		logger.Info("presence backed by redis", "addr", cfg.RedisAddr, "key", cfg.RedisPresenceKey)
	}

	var events publisher = ingest.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		events = ingest.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("publishing ride events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer func() {
		if err := events.Close(); err != nil {
			logger.Warn("close event publisher", "error", err)
		}
	}()

	if cfg.DevMode {
		logger.Warn("DEV_MODE enabled; do not run this configuration in production")
	}
	tokens := auth.NewService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	sessions := session.NewManager(tokens, tracker, session.Options{
		SendBuffer:   cfg.WSSendBuffer,
		PingInterval: cfg.WSPingInterval,
		PongWait:     cfg.WSPongWait,
	}, logger)
	gate := ratings.NewGate(store, events, logger)
	svc := matcher.NewService(store, dispatch.NewBroadcaster(sessions, logger), events, gate, cfg.Fares, logger)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewServer(httpapi.Deps{
			Matcher:        svc,
			Ratings:        gate,
			Sessions:       sessions,
			Tokens:         tokens,
			Presence:       tracker,
			ReadyChecks:    checks,
			AllowedOrigins: cfg.WSAllowedOrigins,
			Logger:         logger,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("campus-rides listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	sessions.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	pg, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.RunMigrations {
		applied, err := storage.Migrate(ctx, pg.DB())
		if err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", "files", applied)
	}
	return pg, nil
}
