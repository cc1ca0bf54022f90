package matching

import (
	"context"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/rules"
	"github.com/ETAnderson/catalogsync/internal/textnorm"
)

const (
	compositeVariantConfidence = 0.85
	compositeProductConfidence = 0.70

	// SimilarityThreshold is the minimum trigram similarity for a fuzzy
	// model-name match within a brand and family.
	SimilarityThreshold = 0.6
)

// CompositeMatcher resolves a record from brand, model name and the
// variant-forming axes of its family.
type CompositeMatcher struct {
	store   Store
	catalog rules.Catalog
}

func NewCompositeMatcher(store Store, catalog rules.Catalog) *CompositeMatcher {
	return &CompositeMatcher{store: store, catalog: catalog}
}

func (m *CompositeMatcher) Name() string  { return "composite" }
func (m *CompositeMatcher) Priority() int { return 30 }

func (m *CompositeMatcher) Match(ctx context.Context, rec domain.NormalizedRecord, mc MatchContext) (Result, bool, error) {
	model := ModelName(rec)
	modelKey := textnorm.Key(model)
	if modelKey == "" {
		return Result{}, false, nil
	}

	family := mc.Family
	if family == "" {
		family = m.catalog.DetectFamily(rec.CategoryPath, rec.Name)
	}

	brandID := mc.BrandID
	if brandID == 0 {
		b, ok, err := ResolveBrand(ctx, m.store, rec.Manufacturer)
		if err != nil {
			return Result{}, false, err
		}
		if ok {
			brandID = b.ID
		}
	}

	details := map[string]any{"model_name": model}
	if brandID != 0 {
		details["brand_id"] = brandID
	}

	product, lookup, err := m.findProduct(ctx, rec, brandID, family, model, modelKey, details)
	if err != nil {
		return Result{}, false, err
	}
	if lookup == "" {
		details["found"] = false
		return Result{Details: details}, false, nil
	}
	details["lookup"] = lookup

	fam, _ := m.catalog.Family(product.Family)
	axes := ExtractAxes(rec, fam)
	if len(axes) > 0 {
		details["axes"] = axes
		v, ok, err := m.store.FindVariantByAxes(ctx, product.ID, axes)
		if err != nil {
			return Result{}, false, err
		}
		if ok {
			return Result{
				Kind:       FoundVariant,
				ProductID:  product.ID,
				VariantID:  v.ID,
				Confidence: compositeVariantConfidence,
				Details:    details,
			}, true, nil
		}
	}

	return Result{
		Kind:       FoundProductOnly,
		ProductID:  product.ID,
		Confidence: compositeProductConfidence,
		Details:    details,
	}, true, nil
}

// findProduct tries the exact brand lookup, then the manufacturer lookup,
// then the fuzzy brand lookup. lookup names the one that hit, or is empty.
func (m *CompositeMatcher) findProduct(
	ctx context.Context,
	rec domain.NormalizedRecord,
	brandID int64,
	family, model, modelKey string,
	details map[string]any,
) (domain.Product, string, error) {
	if brandID != 0 {
		p, ok, err := m.store.FindProductByModel(ctx, brandID, family, modelKey)
		if err != nil || ok {
			return p, lookupName(ok, "brand_model"), err
		}
	}

	if rec.Manufacturer != "" {
		p, ok, err := m.store.FindProductByManufacturerModel(ctx, rec.Manufacturer, family, modelKey)
		if err != nil || ok {
			return p, lookupName(ok, "manufacturer_model"), err
		}
	}

	if brandID != 0 {
		p, score, ok, err := m.store.FindSimilarProduct(ctx, brandID, family, model, SimilarityThreshold)
		if err != nil {
			return domain.Product{}, "", err
		}
		if ok {
			details["similarity"] = score
			return p, "similar", nil
		}
	}
	return domain.Product{}, "", nil
}

func lookupName(ok bool, name string) string {
	if ok {
		return name
	}
	return ""
}
