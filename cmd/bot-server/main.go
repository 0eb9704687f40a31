package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicbot/internal/api"
	"github.com/clinicdesk/clinicbot/internal/bot"
	"github.com/clinicdesk/clinicbot/internal/clinic"
	"github.com/clinicdesk/clinicbot/internal/config"
	"github.com/clinicdesk/clinicbot/internal/db"
	"github.com/clinicdesk/clinicbot/internal/redisclient"
	"github.com/clinicdesk/clinicbot/internal/schedule"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := newLogger(cfg.Env).With().Str("service", "bot-server").Logger()
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("bot-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := clinic.NewPgRepository(pgPool)
	userLocker := redisclient.NewRedisLocker(rdb, cfg.UserLockTTL)
	slotLocker := redisclient.NewRedisLocker(rdb, cfg.SlotLockTTL)

	avail := clinic.NewAvailability(repo, repo, repo)
	booking := clinic.NewBookingService(repo, repo, slotLocker, log)
	ingestor := schedule.NewIngestor(repo, repo, repo, cfg.MinSlotMinutes, log)
	files := api.NewHTTPFileFetcher(cfg.FileBaseURL)

	disp := bot.NewDispatcher(bot.DispatcherConfig{
		Users:        repo,
		Clinics:      repo,
		Appointments: repo,
		Availability: avail,
		Booking:      booking,
		Ingest:       ingestor,
		Files:        files,
		HorizonDays:  cfg.HorizonDays,
		Logger:       log,
	})
	engine := bot.NewEngine(repo, userLocker, disp, log)

	router := api.NewRouter(api.RouterConfig{
		Engine:  engine,
		PgPool:  pgPool,
		Redis:   rdb,
		Env:     cfg.Env,
		Version: version,
		Logger:  log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("bot-server stopped")
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
