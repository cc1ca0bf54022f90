package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

// maxSKULength matches the supplier_offers.supplier_sku column.
const maxSKULength = 255

type ValidationIssue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Issues []ValidationIssue `json:"issues"`
}

func (r ValidationResult) IsValid() bool {
	return len(r.Issues) == 0
}

func ValidateRecord(rec domain.NormalizedRecord) ValidationResult {
	var res ValidationResult

	requireNonEmpty(&res, "supplier_sku", rec.SupplierSKU)
	requireNonEmpty(&res, "name", rec.Name)

	if utf8.RuneCountInString(rec.SupplierSKU) > maxSKULength {
		addIssue(&res, "supplier_sku", "too_long", fmt.Sprintf("supplier_sku must be at most %d characters", maxSKULength))
	}
	if rec.Price != nil && rec.Price.IsNegative() {
		addIssue(&res, "price", "negative", "price must not be negative")
	}
	if rec.Stock != nil && *rec.Stock < 0 {
		addIssue(&res, "stock", "negative", "stock must not be negative")
	}
	for i, v := range rec.Variants {
		if len(v) == 0 {
			addIssue(&res, fmt.Sprintf("variants[%d]", i), "empty", "variant option set is empty")
		}
	}

	return res
}

func requireNonEmpty(res *ValidationResult, path string, v string) {
	if strings.TrimSpace(v) == "" {
		addIssue(res, path, "required", "field is required")
	}
}

func addIssue(res *ValidationResult, path string, code string, msg string) {
	res.Issues = append(res.Issues, ValidationIssue{
		Path:    path,
		Code:    code,
		Message: msg,
	})
}
