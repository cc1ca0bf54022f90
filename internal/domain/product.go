package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateVariant = errors.New("variant with the same axis values already exists")
	ErrDuplicateProduct = errors.New("product with the same brand, family and model already exists")
)

type Brand struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Active bool   `json:"active"`
}

// BrandAlias maps a synonym or misspelling onto a canonical brand.
// Alias strings are unique across all brands.
type BrandAlias struct {
	ID      int64  `json:"id"`
	BrandID int64  `json:"brand_id"`
	Alias   string `json:"alias"`
}

// Rollup holds the denormalized figures Fusion recomputes from offers and
// variants. Nothing else writes them.
type Rollup struct {
	BestPrice     decimal.Decimal `json:"best_price"`
	VariantCount  int             `json:"variant_count"`
	OfferCount    int             `json:"offer_count"`
	SupplierCount int             `json:"supplier_count"`
	InStock       bool            `json:"in_stock"`
}

type Product struct {
	ID      int64  `json:"id"`
	BrandID int64  `json:"brand_id,omitempty"`
	Family  string `json:"family"`

	Name         string `json:"name"`
	ModelName    string `json:"model_name"`
	ModelKey     string `json:"-"`
	Manufacturer string `json:"manufacturer,omitempty"`

	Active bool `json:"active"`

	FusedAttributes map[string]any `json:"fused_attributes,omitempty"`
	Rollup          Rollup         `json:"rollup"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Variant is one sellable configuration of a product. Attributes holds only
// the variant-forming axes (e.g. width and length).
type Variant struct {
	ID         int64             `json:"id"`
	ProductID  int64             `json:"product_id"`
	GTIN       string            `json:"gtin,omitempty"`
	MPN        string            `json:"mpn,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Contains reports whether every key/value in want is present on the variant.
func (v Variant) Contains(want map[string]string) bool {
	for k, val := range want {
		if got, ok := v.Attributes[k]; !ok || got != val {
			return false
		}
	}
	return true
}

// SameAxes reports whether two attribute sets are identical.
func SameAxes(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
