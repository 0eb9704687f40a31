package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicbot/internal/clinic"
	"github.com/clinicdesk/clinicbot/internal/config"
	"github.com/clinicdesk/clinicbot/internal/db"
)

// sweep-worker marks past planned appointments as completed so they drop out
// of patients' cancellable lists and doctors' upcoming schedules.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := newLogger(cfg.Env).With().Str("service", "sweep-worker").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("sweep-worker starting up")

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

	repo := clinic.NewPgRepository(pgPool)

	runOnce(rootCtx, repo, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping sweep worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo, log)
		}
	}
}

func runOnce(ctx context.Context, repo clinic.AppointmentRepository, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	now := time.Now()
	start := now
	count, err := repo.CompletePast(runCtx, now.Format(clinic.DateLayout), now.Format(clinic.TimeLayout))
	if err != nil {
		log.Error().Err(err).Msg("sweep run error")
		return
	}
	log.Info().Int64("completed", count).Dur("took", time.Since(start)).Msg("sweep run complete")
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
