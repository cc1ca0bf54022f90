package domain

import (
	"fmt"
	"time"
)

type SourceType string

const (
	SourceSupplier   SourceType = "supplier"
	SourceEnrichment SourceType = "enrichment"
	SourceManual     SourceType = "manual"
)

// Priority orders sources for fusion; higher wins.
func (t SourceType) Priority() int {
	switch t {
	case SourceManual:
		return 100
	case SourceEnrichment:
		return 50
	case SourceSupplier:
		return 30
	default:
		return 0
	}
}

func (t SourceType) Valid() bool {
	return t.Priority() > 0
}

// SourceContribution is one source's proposed attribute values for a product.
// There is at most one row per (ProductID, SourceType, SourceID).
type SourceContribution struct {
	ID         int64          `json:"id"`
	ProductID  int64          `json:"product_id"`
	SourceType SourceType     `json:"source_type"`
	SourceID   string         `json:"source_id"`
	Attributes map[string]any `json:"attributes"`
	Confidence float64        `json:"confidence"`
	Author     string         `json:"author,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func SupplierSourceID(supplierID int64) string {
	return fmt.Sprintf("supplier:%d", supplierID)
}
