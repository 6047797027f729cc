package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/optiflow/flow/internal/config"
	"github.com/optiflow/flow/internal/domain/patientflow"
	"github.com/optiflow/flow/internal/jobs"
	"github.com/optiflow/flow/internal/platform/auth"
	"github.com/optiflow/flow/internal/platform/db"
	"github.com/optiflow/flow/internal/platform/middleware"
	"github.com/optiflow/flow/internal/platform/reporting"
	"github.com/optiflow/flow/internal/platform/webhook"
	"github.com/optiflow/flow/internal/platform/websocket"
)

const version = "0.1.0"

// app holds the long-lived collaborators shared by serve and the
// maintenance commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	repo     patientflow.Repository
	svc      *patientflow.Service
	hub      *websocket.Hub
	notifier *webhook.Notifier
	checks   []db.Check
	closers  []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.hub = websocket.NewHub(logger)
	a.svc = patientflow.NewService(patientflow.NewEngine(), a.repo, a.hub, cfg.TokenPrefix, logger)
	if _, err := a.svc.Restore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.AlertWebhookURL != "" {
		n, err := webhook.NewNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.notifier = n
	}
	return a, nil
}

// openStore connects the repository named by STORE_DRIVER.
func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      a.cfg.DatabaseURL,
			MaxConns: a.cfg.DBMaxConns,
			MinConns: a.cfg.DBMinConns,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		a.checks = append(a.checks, db.PoolCheck(pool))
		a.repo = patientflow.NewRepoPG(pool)
		a.logger.Info().Msg("connected to database")
	case config.StoreRedis:
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("ping redis: %w", err)
		}
		a.closers = append(a.closers, func() { client.Close() })
		a.checks = append(a.checks, db.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		a.repo = patientflow.NewRepoRedis(client, a.cfg.SessionTTL())
		a.logger.Info().Dur("ttl", a.cfg.SessionTTL()).Msg("connected to redis")
	default:
		a.repo = patientflow.NewMemoryRepo()
	}
	return nil
}

// alerter returns the webhook notifier, or nil when none is configured.
func (a *app) alerter() jobs.Alerter {
	if a.notifier == nil {
		return nil
	}
	return a.notifier
}

func (a *app) seed(ctx context.Context, path string) error {
	if n := len(a.svc.Export()); n > 0 {
		a.logger.Info().Int("patients", n).Msg("floor already populated, seed skipped")
		return nil
	}
	patients, err := readSnapshotFile(path)
	if err != nil {
		return err
	}
	return a.svc.Import(ctx, patients)
}

func (a *app) jwtConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     a.cfg.AuthIssuer,
		Audience:   a.cfg.AuthAudience,
		SigningKey: []byte(a.cfg.AuthSigningKey),
	}
}

// echo builds the HTTP server with every route mounted.
func (a *app) echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(a.cfg.TLSEnabled))
	bodyLimit, _ := middleware.ParseSize(a.cfg.BodyLimit)
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevRoleHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"store":   a.cfg.StoreDriver,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.checks...))

	authMW := auth.JWTMiddleware(a.jwtConfig())
	if a.cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(a.jwtConfig())
	}
	rl := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
	})

	apiV1 := e.Group("/api/v1", authMW, rl)
	public := e.Group("", rl)

	patientflow.NewHandler(a.svc).RegisterRoutes(apiV1, public)
	reporting.NewHandler(a.svc).RegisterRoutes(apiV1)
	websocket.NewHandler(a.hub).RegisterRoutes(public)
	if a.notifier != nil {
		webhook.NewHandler(a.notifier).RegisterRoutes(apiV1.Group("", auth.RequireRole(auth.RoleFloorLead)))
	}

	return e
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
