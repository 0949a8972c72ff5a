package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cactus/internal/scheduler"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ReminderWorker runs the window scheduler on a cron schedule
type ReminderWorker struct {
	runner  *scheduler.Runner
	spec    string
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	c       *cron.Cron
	running sync.Mutex
}

func NewReminderWorker(runner *scheduler.Runner, spec string, timeout time.Duration, log zerolog.Logger) *ReminderWorker {
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	return &ReminderWorker{
		runner:  runner,
		spec:    spec,
		timeout: timeout,
		log:     log,
	}
}

// Start registers the job and starts the cron loop
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.c != nil {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(w.spec, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid scheduler spec %q: %w", w.spec, err)
	}
	c.Start()
	w.c = c

	w.log.Info().Str("spec", w.spec).Msg("reminder worker started")
	return nil
}

// Stop halts the cron loop and waits for a running check to finish
func (w *ReminderWorker) Stop(ctx context.Context) {
	w.mu.Lock()
	c := w.c
	w.c = nil
	w.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
		w.log.Info().Msg("reminder worker stopped")
	case <-ctx.Done():
		w.log.Warn().Msg("reminder worker stop timed out")
	}
}

// RunOnce runs a single check unless one is already in progress
func (w *ReminderWorker) RunOnce(ctx context.Context) {
	if !w.running.TryLock() {
		w.log.Warn().Msg("previous update reminder check still running, skipping")
		return
	}
	defer w.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if _, err := w.runner.Run(ctx); err != nil {
		w.log.Error().Err(err).Msg("update reminder check failed")
	}
}
