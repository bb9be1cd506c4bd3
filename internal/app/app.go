// Package app assembles the process: configuration, observability, storage,
// services, the HTTP server and the retention sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/surveyforge/surveyforge-backend/internal/config"
	"github.com/surveyforge/surveyforge-backend/internal/db"
	"github.com/surveyforge/surveyforge-backend/internal/health"
	"github.com/surveyforge/surveyforge-backend/internal/http/handler"
	"github.com/surveyforge/surveyforge-backend/internal/http/middleware"
	"github.com/surveyforge/surveyforge-backend/internal/http/router"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
	"github.com/surveyforge/surveyforge-backend/internal/repository"
	"github.com/surveyforge/surveyforge-backend/internal/security"
	"github.com/surveyforge/surveyforge-backend/internal/service"
	"github.com/surveyforge/surveyforge-backend/internal/sweeper"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Sweeper       *sweeper.Sweeper
	Observability *observability.Runtime

	db    *gorm.DB
	redis *redis.Client
}

// New wires the whole service from configuration. Redis is optional: without
// REDIS_ADDR the abuse guard is skipped and rate limiting stays in-process.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*App, error) {
	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	if err := db.SeedCategories(gdb); err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	users := repository.NewUserRepository(gdb)
	creds := repository.NewCredentialRepository(gdb)
	surveys := repository.NewSurveyRepository(gdb)

	codec := security.NewTokenCodec(cfg.JWTIssuer, cfg.JWTSecret)
	sessions := service.NewSessionService(
		codec, creds, users,
		cfg.AccessTokenTTL, cfg.PasswordResetTTL, cfg.EmailVerificationTTL,
		cfg.VerifyStoreTimeout,
	)

	var guard service.AuthAbuseGuard
	var limiterBackend middleware.Limiter
	if redisClient != nil {
		guard = service.NewRedisAuthAbuseGuard(redisClient, "surveyforge:abuse", service.AuthAbusePolicy{})
		limiterBackend = middleware.NewRedisLimiter(redisClient, "surveyforge:ratelimit")
	}
	auth := service.NewAuthService(users, sessions, guard)

	sw := sweeper.New(creds, sweeper.Config{
		AccessInterval:    cfg.SweepAccessInterval,
		SpecialInterval:   cfg.SweepSpecialInterval,
		RevokedInterval:   cfg.SweepRevokedInterval,
		InactiveInterval:  cfg.SweepInactiveInterval,
		OveruseInterval:   cfg.SweepOveruseInterval,
		FullInterval:      cfg.SweepFullInterval,
		JobTimeout:        cfg.SweepJobTimeout,
		RevokedRetention:  cfg.RevokedRetention,
		OwnerInactivity:   cfg.OwnerInactivityThreshold,
		OveruseThresholds: cfg.OveruseThresholds(),
	}, logger)

	readiness := readinessProbes(gdb, redisClient)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(auth, sessions),
		UserHandler:        handler.NewUserHandler(users, sessions),
		AdminHandler:       handler.NewAdminHandler(users, sessions, sw),
		SurveyHandler:      handler.NewSurveyHandler(surveys),
		Sessions:           sessions,
		Logger:             logger,
		CORSOrigins:        cfg.CORSOrigins,
		APIRateLimitRPM:    cfg.APIRateLimitRPM,
		AuthRateLimitRPM:   cfg.AuthRateLimitRPM,
		ForgotRateLimitRPM: cfg.ForgotRateLimitRPM,
		RateLimitBackend:   limiterBackend,
		Readiness:          readiness,
		EnableOTelHTTP:     cfg.OTELTracingEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Sweeper:       sw,
		Observability: runtime,
		db:            gdb,
		redis:         redisClient,
	}, nil
}

// Run serves until ctx is cancelled, then drains connections, stops the
// sweeper and flushes telemetry within the shutdown budget.
func (a *App) Run(ctx context.Context) error {
	if err := a.Sweeper.Start(); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		a.Sweeper.Stop()
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down", "timeout", a.Config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.Sweeper.Stop()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := a.Observability.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func readinessProbes(gdb *gorm.DB, redisClient *redis.Client) *health.ProbeRunner {
	probes := []health.Probe{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if redisClient != nil {
		probes = append(probes, health.Probe{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	return health.NewProbeRunner(2*time.Second, probes...)
}
