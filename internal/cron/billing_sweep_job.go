package cron

import (
	"context"
	"fmt"

	"github.com/mateovidal/givebridge-backend/pkg/logger"
)

type dueAccountProcessor interface {
	ProcessDueAccounts(ctx context.Context) (int, error)
}

type BillingSweepJobParams struct {
	Logger       *logger.Logger
	Orchestrator dueAccountProcessor
}

// NewBillingSweepJob wraps the billing orchestrator's due-account sweep as a
// cron job. All retry pacing lives in the orchestrator; the job only reports.
func NewBillingSweepJob(params BillingSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	return &billingSweepJob{
		logg:         params.Logger,
		orchestrator: params.Orchestrator,
	}, nil
}

type billingSweepJob struct {
	logg         *logger.Logger
	orchestrator dueAccountProcessor
}

func (j *billingSweepJob) Name() string { return "billing-sweep" }

func (j *billingSweepJob) Run(ctx context.Context) error {
	processed, err := j.orchestrator.ProcessDueAccounts(ctx)
	logCtx := j.logg.WithField(ctx, "accounts_processed", processed)
	if err != nil {
		// Partial progress still counts; the error carries every per-account
		// failure from the sweep.
		j.logg.Error(logCtx, "billing sweep finished with failures", err)
		return fmt.Errorf("billing sweep: %w", err)
	}
	j.logg.Info(logCtx, "billing sweep complete")
	return nil
}
