package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

type Hasher struct{}

// HashRecord fingerprints everything a supplier sent for one offer. Two
// records hash equal when they differ only in map ordering.
func (h Hasher) HashRecord(rec domain.NormalizedRecord) (string, error) {
	b, err := json.Marshal(normalizeForHash(rec))
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func normalizeForHash(rec domain.NormalizedRecord) any {
	variants := make([]any, 0, len(rec.Variants))
	for _, v := range rec.Variants {
		variants = append(variants, sortedAnyMap(v))
	}

	price := ""
	if rec.Price != nil {
		price = rec.Price.StringFixed(2)
	}
	var stock any
	if rec.Stock != nil {
		stock = *rec.Stock
	}

	return map[string]any{
		"supplier_sku":  rec.SupplierSKU,
		"name":          rec.Name,
		"manufacturer":  rec.Manufacturer,
		"model":         rec.Model,
		"category_path": rec.CategoryPath,
		"attributes":    sortedAnyMap(rec.Attributes),
		"raw":           sortedAnyMap(rec.Raw),
		"variants":      variants,
		"price":         price,
		"stock":         stock,
	}
}

// sortedAnyMap turns a map into a key-ordered list so that nested maps hash
// the same way regardless of iteration order.
func sortedAnyMap(m map[string]any) []any {
	if len(m) == 0 {
		return []any{}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		if nested, ok := v.(map[string]any); ok {
			v = sortedAnyMap(nested)
		}
		out = append(out, map[string]any{
			"k": k,
			"v": v,
		})
	}

	return out
}
