package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/psyrehab/rehab/internal/config"
	"github.com/psyrehab/rehab/internal/domain/goal"
	"github.com/psyrehab/rehab/internal/domain/patient"
	"github.com/psyrehab/rehab/internal/platform/auth"
	"github.com/psyrehab/rehab/internal/platform/cache"
	"github.com/psyrehab/rehab/internal/platform/db"
	"github.com/psyrehab/rehab/internal/platform/metrics"
	"github.com/psyrehab/rehab/internal/platform/middleware"
	"github.com/psyrehab/rehab/internal/platform/notification"
	"github.com/psyrehab/rehab/internal/platform/webhook"
	"github.com/psyrehab/rehab/internal/platform/websocket"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Str("service", "rehab-server").Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a token are treated as admin")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	checks := []db.Check{}

	// Cascade slots live in Redis when configured so every replica sees the
	// same pending confirmation; otherwise they are process-local.
	var slots goal.SlotStore
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		slots = goal.NewRedisSlotStore(rdb)
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info().Msg("connected to redis")
	} else {
		slots = goal.NewMemorySlotStore()
		logger.Warn().Msg("REDIS_URL not set: cascade confirmations are held in memory, run a single replica")
	}

	// Notification sinks
	hub := websocket.NewHub(logger)
	sinks := []notification.Sink{hub}
	if cfg.AMQPURL != "" {
		amqpSink, err := notification.DialAMQP(ctx, cfg.AMQPURL, cfg.NotifyExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to message broker")
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
		checks = append(checks, db.Check{Name: "amqp", Ping: amqpSink.Ping})
		logger.Info().Str("exchange", cfg.NotifyExchange).Msg("publishing events to broker")
	}
	if len(cfg.WebhookURLs) > 0 {
		hooks, err := webhook.NewSink(cfg.WebhookURLs, cfg.WebhookSecret)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid webhook configuration")
		}
		sinks = append(sinks, hooks)
		logger.Info().Int("endpoints", len(cfg.WebhookURLs)).Msg("delivering events to webhooks")
	}
	bus := notification.NewFanout(logger, notification.NewTemplateEngine(), sinks...)

	// Services
	patientSvc := patient.NewService(patient.NewPatientRepo(pool), bus, logger)
	goalSvc := goal.NewService(goal.NewMilestoneRepoPG(pool), patientSvc, slots, bus, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Public infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))
	e.GET("/metrics", metrics.Handler())

	authMW := auth.DevAuthMiddleware(cfg.DefaultTenant)
	if !cfg.IsDev() {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	apiV1 := e.Group("/api/v1",
		authMW,
		middleware.RateLimit(middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst}),
		middleware.RequestTimeout(cfg.RequestTimeout),
		db.TenantMiddleware(pool, cfg.DefaultTenant),
		middleware.Audit(logger),
	)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	goal.NewHandler(goalSvc).RegisterRoutes(apiV1)

	wsGroup := e.Group("", authMW, auth.RequireRole(auth.RoleTherapist, auth.RoleCaretaker))
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(wsGroup)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
