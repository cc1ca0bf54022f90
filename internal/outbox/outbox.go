// Package outbox is the producer side of syndication: it appends change
// events for the worker and keeps the table tidy.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/metrics"
	"github.com/ETAnderson/catalogsync/internal/state"
)

type Store interface {
	InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) (domain.OutboxEvent, error)
	RequeueErroredEvents(ctx context.Context, maxRetries int) (int64, error)
	ResetStuckEvents(ctx context.Context, claimedBefore time.Time) (int64, error)
	PurgeSucceededEvents(ctx context.Context, processedBefore time.Time) (int64, error)
	ListOutboxEvents(ctx context.Context, f state.OutboxFilter) ([]domain.OutboxEvent, error)
}

// ReadinessChecker is satisfied by *readiness.Gate.
type ReadinessChecker interface {
	IsReady(ctx context.Context, productID int64, channel string) bool
}

type EmitRequest struct {
	EventType  domain.EventType
	EntityType domain.EntityType
	EntityID   int64
	ProductID  int64
	Payload    any
	// BypassGate skips the readiness check; set it only when the caller has
	// just evaluated readiness against fresh fused data.
	BypassGate bool
}

type Emitter struct {
	store   Store
	gate    ReadinessChecker
	channel string
	log     *zap.Logger
}

// NewEmitter gates content events on readiness for channel.
func NewEmitter(store Store, gate ReadinessChecker, channel string, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{store: store, gate: gate, channel: channel, log: logger}
}

func (e *Emitter) Channel() string { return e.channel }

// Emit appends a pending event. It returns false without error when a content
// event was suppressed because the product is not ready.
func (e *Emitter) Emit(ctx context.Context, req EmitRequest) (bool, error) {
	if req.ProductID <= 0 {
		return false, fmt.Errorf("product id is required")
	}
	if req.EntityType == "" {
		req.EntityType = domain.EntityProduct
	}
	if req.EntityID == 0 {
		req.EntityID = req.ProductID
	}

	if req.EventType.AffectsContent() && !req.BypassGate {
		if e.gate == nil || !e.gate.IsReady(ctx, req.ProductID, e.channel) {
			metrics.Emitted(string(req.EventType), "gated")
			e.log.Debug("emit suppressed, product not ready",
				zap.Int64("product_id", req.ProductID),
				zap.String("event_type", string(req.EventType)),
				zap.String("channel", e.channel),
			)
			return false, nil
		}
	}

	var payload json.RawMessage
	if req.Payload != nil {
		b, err := json.Marshal(req.Payload)
		if err != nil {
			return false, fmt.Errorf("marshal payload: %w", err)
		}
		payload = b
	}

	ev, err := e.store.InsertOutboxEvent(ctx, domain.OutboxEvent{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		ProductID:  req.ProductID,
		EventType:  req.EventType,
		Payload:    payload,
		Status:     domain.OutboxPending,
	})
	if err != nil {
		return false, fmt.Errorf("insert outbox event: %w", err)
	}

	metrics.Emitted(string(req.EventType), "queued")
	e.log.Debug("outbox event queued",
		zap.Int64("event_id", ev.ID),
		zap.Int64("product_id", ev.ProductID),
		zap.String("event_type", string(ev.EventType)),
	)
	return true, nil
}

func (e *Emitter) List(ctx context.Context, f state.OutboxFilter) ([]domain.OutboxEvent, error) {
	return e.store.ListOutboxEvents(ctx, f)
}
