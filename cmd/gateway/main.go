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

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/auth_gateway/internal/config"
	"github.com/Skotchmaster/auth_gateway/internal/events"
	"github.com/Skotchmaster/auth_gateway/internal/httpserver"
	"github.com/Skotchmaster/auth_gateway/internal/logging"
	"github.com/Skotchmaster/auth_gateway/internal/middleware"
	"github.com/Skotchmaster/auth_gateway/internal/oauth"
	"github.com/Skotchmaster/auth_gateway/internal/repo"
	"github.com/Skotchmaster/auth_gateway/internal/service"
	"github.com/Skotchmaster/auth_gateway/pkg/db"
	"github.com/Skotchmaster/auth_gateway/pkg/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway_stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gdb, err := db.Open(initCtx, cfg.DatabaseURL, db.DefaultPool())
	if err != nil {
		return err
	}
	if err := repo.Migrate(gdb); err != nil {
		return err
	}
	users := repo.New(gdb, cfg.StoreTimeout)

	codec, err := tokens.NewCodec(cfg.JWTSecret)
	if err != nil {
		return err
	}
	if codec.Degraded() {
		logger.Warn("jwt_secret_weak", "reason", "JWT_SECRET shorter than 32 bytes, key was stretched")
	}

	sinks, audit, closePub := newPublisher(initCtx, cfg, logger)
	defer closePub()
	pub := events.NewDispatcher(sinks, events.DefaultQueueSize)
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer drainCancel()
		if err := pub.Close(drainCtx); err != nil {
			logger.Warn("events_drain_incomplete", "error", err)
		}
	}()

	sessions := service.NewSessionManager(users, codec, service.TTLPolicy{
		Access:  cfg.AccessTTL,
		Refresh: cfg.RefreshTTL,
	}, pub)

	states, closeStates := newStateStore(initCtx, cfg, logger)
	defer closeStates()

	var apple *oauth.AppleSigner
	if ac, ok := cfg.OAuth.Providers[oauth.Apple]; ok {
		apple, err = oauth.NewAppleSigner(cfg.OAuth.AppleTeamID, ac.ClientID, cfg.OAuth.AppleKeyID, cfg.OAuth.ApplePrivateKey)
		if err != nil {
			logger.Warn("apple_disabled", "error", err)
		}
	}
	oauthClient := oauth.NewClient(cfg.OAuth.Providers, apple, nil)
	logger.Info("oauth2_providers", "enabled", oauthClient.Enabled())

	csrf := middleware.DefaultCSRFConfig()
	csrf.Secure = cfg.CookieSecure

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	deps := &httpserver.Deps{
		Sessions:        sessions,
		Federator:       oauth.NewFederator(users, pub),
		OAuth:           oauthClient,
		States:          states,
		Cookies:         middleware.CookieConfig{Secure: cfg.CookieSecure},
		Whitelist:       cfg.Whitelist,
		LoginURL:        cfg.LoginURL,
		Routes:          cfg.Routes,
		BodyLimit:       cfg.BodyLimit,
		CSRF:            &csrf,
		SuccessRedirect: cfg.OAuth.SuccessRedirect,
		FailureRedirect: cfg.OAuth.FailureRedirect,
		Logger:          logger,
		Ready:           users.Ping,
	}
	if audit != nil {
		deps.Audit = audit
	}
	if err := httpserver.Register(e, deps); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway_started", "addr", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", "error", err)
	}
	logger.Info("gateway_stopped")
	return nil
}

// newPublisher fans user events out to kafka and the elasticsearch audit
// index, each only when configured.
func newPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (events.Publisher, *events.AuditIndexer, func()) {
	var (
		pubs  events.Multi
		audit *events.AuditIndexer
	)
	closers := []func(){}

	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers)
		pubs = append(pubs, &events.KafkaPublisher{Producer: producer, Topic: cfg.KafkaTopic})
		closers = append(closers, func() {
			if err := producer.Close(); err != nil {
				logger.Error("kafka_close_failed", "error", err)
			}
		})
	}

	if cfg.ESURL != "" {
		es, err := events.NewESClient(ctx, cfg.ESURL, cfg.ESUser, cfg.ESPassword)
		if err != nil {
			logger.Warn("audit_disabled", "error", err)
		} else {
			audit = &events.AuditIndexer{ES: es, Index: cfg.ESAuditIndex}
			pubs = append(pubs, audit)
		}
	}

	return pubs, audit, func() {
		for _, c := range closers {
			c()
		}
	}
}

// newStateStore prefers redis so any replica can finish a flow another
// one started.
func newStateStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (oauth.StateStore, func()) {
	if cfg.RedisAddr == "" {
		logger.Warn("oauth2_state_in_memory", "reason", "REDIS_ADDR not set")
		return oauth.NewMemoryStateStore(oauth.DefaultStateTTL), func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("oauth2_state_in_memory", "reason", "redis unreachable", "error", err)
		_ = client.Close()
		return oauth.NewMemoryStateStore(oauth.DefaultStateTTL), func() {}
	}
	return oauth.NewRedisStateStore(client, oauth.DefaultStateTTL), func() { _ = client.Close() }
}
