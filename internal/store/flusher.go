package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Flusher drives the periodic durability flush on a fixed interval.
type Flusher struct {
	cron     *cron.Cron
	interval time.Duration
	flush    func()
	logger   *slog.Logger
}

func NewFlusher(interval time.Duration, flush func(), logger *slog.Logger) *Flusher {
	return &Flusher{
		cron:     cron.New(),
		interval: interval,
		flush:    flush,
		logger:   logger.With(slog.String("component", "flusher")),
	}
}

func (f *Flusher) Start() error {
	spec := fmt.Sprintf("@every %s", f.interval)
	if _, err := f.cron.AddFunc(spec, f.flush); err != nil {
		return err
	}
	f.cron.Start()
	f.logger.Info("Flusher started", slog.Duration("interval", f.interval))
	return nil
}

// Stop halts the schedule and waits for an in-flight flush to finish.
func (f *Flusher) Stop() {
	ctx := f.cron.Stop()
	<-ctx.Done()
	f.logger.Info("Flusher stopped")
}
