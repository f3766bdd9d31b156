// Command server runs the Telegram broadcast service: the admin HTTP API and,
// when enabled, the scheduled daily refresh.
//
// @title                      Pipoca Broadcast API
// @version                    1.0
// @description                Telegram channel broadcast and daily refresh for the Só Falta a Pipoca marketplace.
// @BasePath                   /api/v1
// @securityDefinitions.apikey AdminKey
// @in                         header
// @name                       X-Admin-Key
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	_ "github.com/sofaltaapipoca/pipoca-broadcast/docs"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/config"
	httpapi "github.com/sofaltaapipoca/pipoca-broadcast/internal/http"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/lock"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/observability"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/repo"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/scheduler"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/services"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/sysutil"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/telegram"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg(".env could not be parsed, relying on OS environment")
	}
	cfg := config.MustLoad()
	logger := sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx)

	// ── Tracing ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// ── Database ────────────────────────────────────────────────────────────
	db, err := repo.Open(cfg.DB.Driver, cfg.DB.Path, cfg.DB.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Str("driver", cfg.DB.Driver).Msg("database ready")

	// ── Run lock ────────────────────────────────────────────────────────────
	var locker lock.Locker = lock.NewDBLocker(db)
	if cfg.DB.RedisURL != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.DB.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect failed")
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb)
		log.Info().Msg("run lock backed by redis")
	}

	// ── Services ────────────────────────────────────────────────────────────
	loc, _ := time.LoadLocation(cfg.Refresh.Timezone) // validated by config.Load
	settings := &services.SettingsService{
		DB: db,
		Defaults: services.TelegramConfig{
			BotToken: cfg.Telegram.DefaultBotToken,
			GroupID:  cfg.Telegram.DefaultGroupID,
			AutoPost: cfg.Telegram.DefaultAutoPost,
		},
	}
	settings.EnsureDefaults(ctx)
	diag := &services.Diagnostics{DB: db}
	broadcast := &services.BroadcastService{
		DB:             db,
		Settings:       settings,
		Bot:            telegram.NewClient(cfg.Telegram.APIEndpoint, cfg.Telegram.HTTPTimeout),
		Locker:         locker,
		Diagnostics:    diag,
		LockTTL:        cfg.Telegram.LockTTL,
		SendInterval:   cfg.Telegram.SendInterval,
		DeleteInterval: cfg.Telegram.DeleteInterval,
		Location:       loc,
	}

	// ── Scheduler ───────────────────────────────────────────────────────────
	// The idempotency purge always runs; the daily refresh only when enabled.
	var refresher scheduler.Refresher
	if cfg.Refresh.Enabled {
		refresher = broadcast
	}
	sched, err := scheduler.New(scheduler.Options{
		Schedule: cfg.Refresh.Schedule,
		Location: loc,
		Timeout:  cfg.Refresh.Timeout,
	}, refresher, func(ctx context.Context, now time.Time) (int64, error) {
		return repo.DeleteExpiredIdempotency(ctx, db, now)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler setup failed")
	}
	sched.Start()

	// ── HTTP server ─────────────────────────────────────────────────────────
	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Services{Broadcast: broadcast, Settings: settings, Logs: diag}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return logger.WithContext(context.Background()) },
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// ── Graceful shutdown ───────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler did not stop in time")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("stopped")
}
