// Command reminders runs a single update reminder check and prints its summary
// as JSON. It is meant for an external scheduler when the in-process worker
// is disabled.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cactus/internal/config"
	"cactus/internal/database"
	"cactus/internal/logging"
	"cactus/internal/scheduler"
	"cactus/internal/services"

	"github.com/rs/zerolog/log"
)

const runTimeout = 4 * time.Minute

func main() {
	os.Exit(run(os.Stdout))
}

// run performs one check, writes the summary to out and returns the exit code
func run(out io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	logger := logging.Init(cfg.LogLevel, !cfg.Release)

	policy, err := scheduler.ParsePolicy(cfg.Reminder.AdvancePolicy)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid scheduler configuration")
		return 1
	}

	db, err := database.InitDB(cfg.Database, logging.Component("database"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize database")
		return 1
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	store := database.NewStore(db)

	push := services.NewPushService(cfg.Push, store, logging.Component("push"))
	dispatcher := services.NewReminderDispatcher(push, services.NewEmailService(cfg.Email), store, logging.Component("dispatcher"))
	runner := scheduler.NewRunner(store, dispatcher, logging.Component("scheduler"), scheduler.Options{
		Workers:      cfg.Reminder.Workers,
		GroupTimeout: cfg.Reminder.GroupTimeout,
		Policy:       policy,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	summary, err := runner.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Reminder check failed")
		return 1
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		logger.Error().Err(err).Msg("Failed to write summary")
		return 1
	}
	if summary.GroupsFailed > 0 {
		return 1
	}
	return 0
}
