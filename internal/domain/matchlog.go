package domain

import "time"

// MatcherNone is recorded when no strategy produced a match.
const MatcherNone = "none"

type MatchLogEntry struct {
	ID          int64          `json:"id"`
	SessionID   string         `json:"session_id"`
	SupplierID  int64          `json:"supplier_id"`
	SupplierSKU string         `json:"supplier_sku"`
	Matcher     string         `json:"matcher"`
	Confidence  float64        `json:"confidence"`
	ProductID   int64          `json:"product_id,omitempty"`
	VariantID   int64          `json:"variant_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
