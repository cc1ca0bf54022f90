package worker

import (
	"context"
	"strings"
	"testing"
)

func TestWithCycleID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if got := CycleID(ctx); got != "" {
		t.Fatalf("expected empty cycle id, got %q", got)
	}

	ctx = WithCycleID(ctx, "cyc_123")
	if got := CycleID(ctx); got != "cyc_123" {
		t.Fatalf("expected cyc_123, got %q", got)
	}

	if id := newCycleID(); !strings.HasPrefix(id, "cyc_") {
		t.Fatalf("unexpected cycle id %q", id)
	}
}
