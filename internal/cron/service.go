package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mateovidal/givebridge-backend/pkg/logger"
	"github.com/mateovidal/givebridge-backend/pkg/metrics"
)

// Hourly passes keep retry pickup latency under an hour past next_retry_at.
const defaultInterval = time.Hour

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs the registered jobs on a fixed cadence under a shared lock, so
// only one worker replica executes a pass at a time.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run executes one pass immediately, then on every tick until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.pass(ctx); err != nil {
		s.logg.Error(ctx, "worker pass failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := s.pass(ctx); err != nil {
				s.logg.Error(ctx, "worker pass failed", err)
			}
		}
	}
}

// pass runs every registered job once. A job failure does not stop the pass;
// each job's result goes to the metrics collector independently.
func (s *Service) pass(ctx context.Context) error {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire worker lock: %w", err)
	}
	if !held {
		s.logg.Info(ctx, "worker lock held elsewhere, skipping pass")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "release worker lock", relErr)
		}
	}()

	start := time.Now()
	for _, job := range s.registry.Jobs() {
		jobCtx := s.logg.WithField(ctx, "job", job.Name())
		s.logg.Info(jobCtx, "job start")
		jobStart := time.Now()
		runErr := job.Run(jobCtx)
		elapsed := time.Since(jobStart)
		s.metrics.ObserveDuration(job.Name(), elapsed)
		jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
		if runErr != nil {
			s.logg.Error(jobCtx, "job failed", runErr)
			s.metrics.IncFailure(job.Name())
			continue
		}
		s.logg.Info(jobCtx, "job complete")
		s.metrics.IncSuccess(job.Name())
	}
	s.logg.Info(s.logg.WithField(ctx, "duration_ms", time.Since(start).Milliseconds()), "worker pass complete")
	return nil
}
