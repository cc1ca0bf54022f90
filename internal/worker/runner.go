package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/channels"
	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/execute"
	"github.com/ETAnderson/catalogsync/internal/metrics"
	"github.com/ETAnderson/catalogsync/internal/outbox"
)

type Store interface {
	ClaimOutboxEvents(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEvent, error)
	MarkOutboxSuccess(ctx context.Context, ids []int64) error
	MarkOutboxError(ctx context.Context, ids []int64, message string) error
	ReleaseOutboxEvents(ctx context.Context, ids []int64, availableAt time.Time, message string) error
}

type Housekeeper interface {
	Run(ctx context.Context, cfg outbox.HousekeepingConfig) (outbox.HousekeepingReport, error)
}

// Runner is the outbox consumer. Several runners may share one store; the
// claim step keeps their batches disjoint.
type Runner struct {
	Store       Store
	Executor    Syncer
	Channel     string
	PollEvery   time.Duration
	MaxPerClaim int
	// MaxRetries bounds transient retries; the attempt that reaches it marks
	// the events as error instead of releasing them. Zero retries forever.
	MaxRetries int
	UseBatch   bool
	Backoff    Backoff

	Housekeeper       Housekeeper
	Housekeeping      outbox.HousekeepingConfig
	HousekeepingEvery time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

// CycleStats summarises one claim cycle.
type CycleStats struct {
	Claimed  int
	Products int
	Success  int
	Released int
	Failed   int
}

func (r Runner) withDefaults() Runner {
	if r.PollEvery <= 0 {
		r.PollEvery = time.Second
	}
	if r.MaxPerClaim <= 0 {
		r.MaxPerClaim = 10
	}
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.Now == nil {
		r.Now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// Run claims and processes batches until ctx is cancelled. It sleeps only
// when a cycle found nothing to do. Store errors are logged and retried on the
// next poll.
func (r Runner) Run(ctx context.Context) error {
	if r.Store == nil {
		return errors.New("store is nil")
	}
	if r.Executor == nil {
		return errors.New("executor is nil")
	}
	r = r.withDefaults()

	var lastHousekeeping time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.Housekeeper != nil && r.HousekeepingEvery > 0 && r.Now().Sub(lastHousekeeping) >= r.HousekeepingEvery {
			if _, err := r.Housekeeper.Run(ctx, r.Housekeeping); err != nil {
				r.Logger.Warn("outbox housekeeping failed", zap.Error(err))
			}
			lastHousekeeping = r.Now()
		}

		stats, err := r.RunOnce(ctx)
		if err != nil {
			r.Logger.Error("outbox cycle failed", zap.Error(err))
		}

		if err != nil || stats.Claimed == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.PollEvery):
			}
		}
	}
}

// RunOnce performs one claim cycle.
func (r Runner) RunOnce(ctx context.Context) (CycleStats, error) {
	r = r.withDefaults()
	ctx = WithCycleID(ctx, newCycleID())
	log := r.Logger.With(zap.String("cycle_id", CycleID(ctx)))

	events, err := r.Store.ClaimOutboxEvents(ctx, r.MaxPerClaim, r.Now())
	if err != nil {
		return CycleStats{}, fmt.Errorf("claim outbox events: %w", err)
	}
	stats := CycleStats{Claimed: len(events)}
	if len(events) == 0 {
		return stats, nil
	}
	metrics.Claimed(len(events))

	ids, groups := groupByProduct(events)
	stats.Products = len(ids)

	var results func(i int) execute.Result
	if r.UseBatch {
		batch := r.Executor.SyncBatch(ctx, groups)
		results = func(i int) execute.Result { return batch[ids[i]] }
	} else {
		results = func(i int) execute.Result { return r.Executor.Sync(ctx, ids[i], groups[ids[i]]) }
	}

	for i, productID := range ids {
		group := groups[productID]
		res := results(i)

		if ue, transient := channels.IsUnavailable(res.Err); transient {
			rest := append([]domain.OutboxEvent(nil), group...)
			if !r.UseBatch {
				// a channel that is down now is down for the rest of the batch
				for _, id := range ids[i+1:] {
					rest = append(rest, groups[id]...)
				}
			}
			released, failed, err := r.retryLater(ctx, log, rest, ue.Error(), ue.RetryAfter)
			stats.Released += released
			stats.Failed += failed
			if err != nil {
				return stats, err
			}
			if !r.UseBatch {
				return stats, nil
			}
			continue
		}

		if res.Outcome == execute.OutcomeRetry {
			released, failed, err := r.retryLater(ctx, log, group, res.Err.Error(), 0)
			stats.Released += released
			stats.Failed += failed
			if err != nil {
				return stats, err
			}
			continue
		}

		eventIDs := idsOf(group)
		switch res.Outcome {
		case execute.OutcomePushed, execute.OutcomeDeleted, execute.OutcomeSkipped:
			if err := r.Store.MarkOutboxSuccess(ctx, eventIDs); err != nil {
				return stats, fmt.Errorf("mark success: %w", err)
			}
			stats.Success += len(group)
			outcome := metrics.OutcomeSuccess
			if res.Outcome == execute.OutcomeSkipped {
				outcome = metrics.OutcomeSkipped
			}
			metrics.PushOutcome(r.Channel, outcome)
			log.Debug("product synced",
				zap.Int64("product_id", productID),
				zap.String("outcome", string(res.Outcome)),
				zap.Int("events", len(group)),
			)
		default:
			msg := "sync failed"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			if err := r.Store.MarkOutboxError(ctx, eventIDs, msg); err != nil {
				return stats, fmt.Errorf("mark error: %w", err)
			}
			stats.Failed += len(group)
			metrics.PushOutcome(r.Channel, metrics.OutcomePermanent)
			log.Warn("product sync failed",
				zap.Int64("product_id", productID),
				zap.Int("events", len(group)),
				zap.String("error", msg),
			)
		}
	}
	return stats, nil
}

// retryLater returns events to pending after a transient failure. Events
// that have used up MaxRetries are marked as error instead.
func (r Runner) retryLater(ctx context.Context, log *zap.Logger, events []domain.OutboxEvent, msg string, retryAfter time.Duration) (released, failed int, err error) {
	now := r.Now()

	byAvailable := map[time.Time][]int64{}
	var exhausted []int64
	for _, ev := range events {
		attempt := ev.RetryCount + 1
		if r.MaxRetries > 0 && attempt >= r.MaxRetries {
			exhausted = append(exhausted, ev.ID)
			continue
		}
		at := now.Add(r.Backoff.Delay(attempt, retryAfter))
		byAvailable[at] = append(byAvailable[at], ev.ID)
	}

	for at, ids := range byAvailable {
		if err := r.Store.ReleaseOutboxEvents(ctx, ids, at, msg); err != nil {
			return released, failed, fmt.Errorf("release events: %w", err)
		}
		released += len(ids)
	}
	if len(exhausted) > 0 {
		if err := r.Store.MarkOutboxError(ctx, exhausted, "retries exhausted: "+msg); err != nil {
			return released, failed, fmt.Errorf("mark error: %w", err)
		}
		failed = len(exhausted)
	}

	metrics.PushOutcome(r.Channel, metrics.OutcomeTransient)
	log.Warn("events released for retry",
		zap.Int("released", released),
		zap.Int("exhausted", failed),
		zap.String("reason", msg),
		zap.Duration("retry_after", retryAfter),
	)
	return released, failed, nil
}

// groupByProduct groups events by product. Product ids come back sorted.
func groupByProduct(events []domain.OutboxEvent) ([]int64, map[int64][]domain.OutboxEvent) {
	groups := map[int64][]domain.OutboxEvent{}
	for _, ev := range events {
		groups[ev.ProductID] = append(groups[ev.ProductID], ev)
	}
	ids := make([]int64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, groups
}

func idsOf(events []domain.OutboxEvent) []int64 {
	out := make([]int64, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}
