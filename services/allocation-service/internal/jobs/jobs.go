// Package jobs holds the scheduled maintenance work: the nightly workload
// counter reset and the periodic no-show sweep.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/registry"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/storage"
	"github.com/robfig/cron/v3"
)

type Config struct {
	// ResetSpec is the cron spec for the daily workload reset, local time.
	ResetSpec string
	// SweepSpec is the cron spec for the no-show sweep.
	SweepSpec string
	// NoShowGrace is how far past its start time an appointment may run
	// before the sweep flips it to no_show.
	NoShowGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		ResetSpec:   "5 0 * * *",
		SweepSpec:   "*/10 * * * *",
		NoShowGrace: 30 * time.Minute,
	}
}

type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func New(cfg Config, doctors *registry.Repository, appointments *storage.AppointmentRepository, logger *slog.Logger) (*Runner, error) {
	c := cron.New()

	_, err := c.AddFunc(cfg.ResetSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := doctors.ResetDailyWorkloads(ctx)
		if err != nil {
			logger.Error("daily workload reset failed", "err", err)
			return
		}
		logger.Info("daily workload reset", "doctors", n)
	})
	if err != nil {
		return nil, err
	}

	_, err = c.AddFunc(cfg.SweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := appointments.SweepNoShows(ctx, cfg.NoShowGrace)
		if err != nil {
			logger.Error("no-show sweep failed", "err", err, "swept", n)
			return
		}
		if n > 0 {
			logger.Info("no-show sweep", "swept", n)
		}
	})
	if err != nil {
		return nil, err
	}

	return &Runner{cron: c, logger: logger}, nil
}

func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("scheduled jobs started")
}

func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}
