package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mateovidal/givebridge-backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	// Published rows are kept a month for billing audits before pruning.
	defaultOutboxRetention = 30 * 24 * time.Hour
	// Matches the publisher's give-up threshold; rows past it never deliver.
	defaultPoisonAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger         *logger.Logger
	DB             txRunner
	Repository     outboxRetentionRepo
	Retention      time.Duration
	PoisonAttempts int
}

// NewOutboxRetentionJob builds the job that prunes delivered outbox rows past
// the retention window, along with poison rows the publisher gave up on.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	poisonAttempts := params.PoisonAttempts
	if poisonAttempts <= 0 {
		poisonAttempts = defaultPoisonAttempts
	}
	return &outboxRetentionJob{
		logg:           params.Logger,
		db:             params.DB,
		repo:           params.Repository,
		retention:      retention,
		poisonAttempts: poisonAttempts,
		now:            time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg           *logger.Logger
	db             txRunner
	repo           outboxRetentionRepo
	retention      time.Duration
	poisonAttempts int
	now            func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var pruned int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.poisonAttempts)
		if err != nil {
			return err
		}
		pruned = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":      cutoff,
		"rows_pruned": pruned,
	})
	j.logg.Info(logCtx, "outbox retention complete")
	return nil
}
