package domain

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxSuccess    OutboxStatus = "success"
	OutboxError      OutboxStatus = "error"
)

type EventType string

const (
	EventCreated      EventType = "created"
	EventUpdated      EventType = "updated"
	EventDeleted      EventType = "deleted"
	EventPriceChanged EventType = "price_changed"
	EventStockChanged EventType = "stock_changed"
)

// AffectsContent reports whether the event publishes product content and so
// must pass the readiness gate.
func (t EventType) AffectsContent() bool {
	switch t {
	case EventCreated, EventUpdated, EventPriceChanged, EventStockChanged:
		return true
	default:
		return false
	}
}

type EntityType string

const (
	EntityProduct EntityType = "product"
	EntityVariant EntityType = "variant"
	EntityOffer   EntityType = "offer"
)

type OutboxEvent struct {
	ID          int64           `json:"id"`
	EntityType  EntityType      `json:"entity_type"`
	EntityID    int64           `json:"entity_id"`
	ProductID   int64           `json:"product_id"`
	EventType   EventType       `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      OutboxStatus    `json:"status"`
	RetryCount  int             `json:"retry_count"`
	LastError   string          `json:"last_error,omitempty"`
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}
