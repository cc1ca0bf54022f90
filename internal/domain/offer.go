package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SupplierOffer is one supplier's listing. VariantID is zero for orphan offers
// that could only be attached to a product.
type SupplierOffer struct {
	ID          int64           `json:"id"`
	SupplierID  int64           `json:"supplier_id"`
	SupplierSKU string          `json:"supplier_sku"`
	ProductID   int64           `json:"product_id"`
	VariantID   int64           `json:"variant_id,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Payload     map[string]any  `json:"payload,omitempty"`
	Hash        string          `json:"hash"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (o SupplierOffer) Orphan() bool { return o.VariantID == 0 }
