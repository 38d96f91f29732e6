package reaper

import (
	"context"
	"fmt"
	"time"

	"duet/backend/internal/metrics"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Job is a background task run by the Scheduler.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron schedules. Specs take a seconds field or a
// descriptor such as "@hourly" or "@every 30m".
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewScheduler(logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.NewWithLocation(time.UTC),
		logger:  logger,
		metrics: m,
	}
}

// Add registers job under name. It fails on an invalid spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		err := job(context.Background())
		duration := time.Since(start)
		s.metrics.RecordJobRun(name, duration, err)
		if err != nil {
			s.logger.Error("scheduled job failed", zap.String("job", name), zap.Duration("duration", duration), zap.Error(err))
			return
		}
		s.logger.Debug("scheduled job finished", zap.String("job", name), zap.Duration("duration", duration))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler. A job that is already running is not interrupted.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
