package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// HousekeepingConfig drives the periodic pass. Errored events are never
// requeued here; that takes an explicit RequeueErrors call.
type HousekeepingConfig struct {
	StuckAfter time.Duration
	PurgeAfter time.Duration
}

type HousekeepingReport struct {
	Reset  int64 `json:"reset"`
	Purged int64 `json:"purged"`
}

type Housekeeper struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewHousekeeper(store Store, logger *zap.Logger) *Housekeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Housekeeper{store: store, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// RequeueErrors moves errored events whose retry count is below maxRetries
// back to pending. It backs the operator requeue endpoint.
func (h *Housekeeper) RequeueErrors(ctx context.Context, maxRetries int) (int64, error) {
	return h.store.RequeueErroredEvents(ctx, maxRetries)
}

// ResetStuck returns events that have been processing for longer than
// timeout to pending. A worker that died mid-batch leaves such rows behind.
func (h *Housekeeper) ResetStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	return h.store.ResetStuckEvents(ctx, h.now().Add(-timeout))
}

func (h *Housekeeper) PurgeSucceeded(ctx context.Context, retention time.Duration) (int64, error) {
	return h.store.PurgeSucceededEvents(ctx, h.now().Add(-retention))
}

// Run performs every enabled step. A zero setting disables its step. Steps
// are independent; their errors are joined.
func (h *Housekeeper) Run(ctx context.Context, cfg HousekeepingConfig) (HousekeepingReport, error) {
	var (
		rep  HousekeepingReport
		errs []error
	)

	if cfg.StuckAfter > 0 {
		n, err := h.ResetStuck(ctx, cfg.StuckAfter)
		rep.Reset = n
		errs = append(errs, err)
	}
	if cfg.PurgeAfter > 0 {
		n, err := h.PurgeSucceeded(ctx, cfg.PurgeAfter)
		rep.Purged = n
		errs = append(errs, err)
	}

	if rep.Reset+rep.Purged > 0 {
		h.log.Info("outbox housekeeping",
			zap.Int64("reset", rep.Reset),
			zap.Int64("purged", rep.Purged),
		)
	}
	return rep, errors.Join(errs...)
}
