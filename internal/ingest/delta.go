package ingest

import (
	"github.com/shopspring/decimal"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

type OfferChange string

const (
	OfferCreated      OfferChange = "created"
	OfferUnchanged    OfferChange = "unchanged"
	OfferPriceChanged OfferChange = "price_changed"
	OfferStockChanged OfferChange = "stock_changed"
	OfferUpdated      OfferChange = "updated"
)

// EventType maps the change onto the outbox event it produces.
func (c OfferChange) EventType() domain.EventType {
	switch c {
	case OfferCreated:
		return domain.EventCreated
	case OfferPriceChanged:
		return domain.EventPriceChanged
	case OfferStockChanged:
		return domain.EventStockChanged
	default:
		return domain.EventUpdated
	}
}

type DeltaDecision struct {
	Change OfferChange `json:"change"`
	Reason string      `json:"reason"`
}

// ComputeDelta compares the stored offer (nil when the supplier never sent
// this SKU) with the incoming hash, price and stock. A price change wins over
// a stock change when both moved.
func ComputeDelta(previous *domain.SupplierOffer, hash string, price decimal.Decimal, stock int) DeltaDecision {
	if previous == nil {
		return DeltaDecision{Change: OfferCreated, Reason: "new_offer"}
	}

	if previous.Hash == hash {
		return DeltaDecision{Change: OfferUnchanged, Reason: "no_change_detected"}
	}

	if !previous.Price.Equal(price) {
		return DeltaDecision{Change: OfferPriceChanged, Reason: "price_changed"}
	}
	if previous.Stock != stock {
		return DeltaDecision{Change: OfferStockChanged, Reason: "stock_changed"}
	}

	return DeltaDecision{Change: OfferUpdated, Reason: "content_changed"}
}
