package domain

import "github.com/shopspring/decimal"

// NormalizedRecord is one supplier row after upstream parsing.
type NormalizedRecord struct {
	SupplierSKU  string           `json:"supplier_sku"`
	Name         string           `json:"name"`
	Manufacturer string           `json:"manufacturer,omitempty"`
	Model        string           `json:"model,omitempty"`
	CategoryPath []string         `json:"category_path,omitempty"`
	Attributes   map[string]any   `json:"attributes,omitempty"`
	Raw          map[string]any   `json:"raw,omitempty"`
	Variants     []map[string]any `json:"variants,omitempty"`

	Price *decimal.Decimal `json:"price,omitempty"`
	Stock *int             `json:"stock,omitempty"`
}
