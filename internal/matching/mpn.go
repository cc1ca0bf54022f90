package matching

import (
	"context"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

const (
	mpnScopedConfidence   = 0.95
	mpnUnscopedConfidence = 0.80
)

// MPNMatcher resolves a record by manufacturer part number. A lookup is
// accepted only when every hit belongs to one product; a known brand narrows
// the search and raises the confidence.
type MPNMatcher struct {
	store Store
}

func NewMPNMatcher(store Store) *MPNMatcher {
	return &MPNMatcher{store: store}
}

func (m *MPNMatcher) Name() string  { return "mpn" }
func (m *MPNMatcher) Priority() int { return 20 }

func (m *MPNMatcher) Match(ctx context.Context, rec domain.NormalizedRecord, mc MatchContext) (Result, bool, error) {
	mpn := ExtractMPN(rec)
	if mpn == "" {
		return Result{}, false, nil
	}

	variants, err := m.store.FindVariantsByMPN(ctx, mpn, mc.BrandID)
	if err != nil {
		return Result{}, false, err
	}
	if len(variants) == 0 {
		return Result{Details: map[string]any{"mpn": mpn, "found": false}}, false, nil
	}

	products := map[int64]struct{}{}
	for _, v := range variants {
		products[v.ProductID] = struct{}{}
	}
	if len(products) > 1 {
		details := map[string]any{"mpn": mpn, "ambiguous": len(products)}
		if mc.BrandID != 0 {
			details["brand_id"] = mc.BrandID
		}
		return Result{Details: details}, false, nil
	}

	if mc.BrandID != 0 {
		v := variants[0]
		return Result{
			Kind:       FoundVariant,
			ProductID:  v.ProductID,
			VariantID:  v.ID,
			Confidence: mpnScopedConfidence,
			Details:    map[string]any{"mpn": mpn, "brand_id": mc.BrandID},
		}, true, nil
	}

	v := variants[0]
	return Result{
		Kind:       FoundVariant,
		ProductID:  v.ProductID,
		VariantID:  v.ID,
		Confidence: mpnUnscopedConfidence,
		Details:    map[string]any{"mpn": mpn},
	}, true, nil
}
