package worker

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const cycleIDKey ctxKey = "worker_cycle_id"

// WithCycleID stores the claim cycle ID on the context.
func WithCycleID(ctx context.Context, cycleID string) context.Context {
	if cycleID == "" {
		return ctx
	}
	return context.WithValue(ctx, cycleIDKey, cycleID)
}

// CycleID reads the claim cycle ID from context.
func CycleID(ctx context.Context) string {
	v := ctx.Value(cycleIDKey)
	s, _ := v.(string)
	return s
}

func newCycleID() string {
	return "cyc_" + uuid.NewString()
}
