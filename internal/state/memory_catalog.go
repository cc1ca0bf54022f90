package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/textnorm"
)

func (s *MemoryStore) GetProduct(ctx context.Context, id int64) (domain.Product, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, false, nil
	}
	p.FusedAttributes = cloneAnyMap(p.FusedAttributes)
	return p, true, nil
}

func (s *MemoryStore) FindProductByModel(ctx context.Context, brandID int64, family string, modelKey string) (domain.Product, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.firstProduct(func(p domain.Product) bool {
		return p.BrandID == brandID && p.ModelKey == modelKey && familyMatches(p.Family, family)
	})
}

func (s *MemoryStore) FindProductByManufacturerModel(ctx context.Context, manufacturer string, family string, modelKey string) (domain.Product, bool, error) {
	mk := textnorm.Key(manufacturer)
	if mk == "" {
		return domain.Product{}, false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.firstProduct(func(p domain.Product) bool {
		return textnorm.Key(p.Manufacturer) == mk && p.ModelKey == modelKey && familyMatches(p.Family, family)
	})
}

func (s *MemoryStore) FindSimilarProduct(ctx context.Context, brandID int64, family string, modelName string, threshold float64) (domain.Product, float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best      domain.Product
		bestScore float64
		found     bool
	)
	for _, id := range s.sortedProductIDs() {
		p := s.products[id]
		if p.BrandID != brandID || !familyMatches(p.Family, family) {
			continue
		}
		score := textnorm.Similarity(p.ModelName, modelName)
		if score < threshold {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = p, score, true
		}
	}
	return best, bestScore, found, nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.ModelKey == "" {
		p.ModelKey = textnorm.Key(p.ModelName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.BrandID != 0 {
		for _, existing := range s.products {
			if existing.BrandID == p.BrandID && existing.Family == p.Family && existing.ModelKey == p.ModelKey {
				return domain.Product{}, domain.ErrDuplicateProduct
			}
		}
	}

	now := s.now()
	p.ID = s.nextID()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.FusedAttributes = cloneAnyMap(p.FusedAttributes)
	s.products[p.ID] = p
	return p, nil
}

func (s *MemoryStore) UpdateProductFusion(ctx context.Context, id int64, fused map[string]any, rollup domain.Rollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	p.FusedAttributes = cloneAnyMap(fused)
	p.Rollup = rollup
	p.UpdatedAt = s.now()
	s.products[id] = p
	return nil
}

func (s *MemoryStore) SetProductActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	p.Active = active
	p.UpdatedAt = s.now()
	s.products[id] = p
	return nil
}

func (s *MemoryStore) GetVariant(ctx context.Context, id int64) (domain.Variant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variants[id]
	v.Attributes = cloneStringMap(v.Attributes)
	return v, ok, nil
}

func (s *MemoryStore) FindVariantByGTIN(ctx context.Context, gtin string) (domain.Variant, bool, error) {
	if gtin == "" {
		return domain.Variant{}, false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.sortedVariants() {
		if v.GTIN == gtin {
			return v, true, nil
		}
	}
	return domain.Variant{}, false, nil
}

func (s *MemoryStore) FindVariantsByMPN(ctx context.Context, mpn string, brandID int64) ([]domain.Variant, error) {
	out := []domain.Variant{}
	if mpn == "" {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.sortedVariants() {
		if v.MPN != mpn {
			continue
		}
		if brandID != 0 && s.products[v.ProductID].BrandID != brandID {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *MemoryStore) FindVariantByAxes(ctx context.Context, productID int64, axes map[string]string) (domain.Variant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.sortedVariants() {
		if v.ProductID == productID && v.Contains(axes) {
			return v, true, nil
		}
	}
	return domain.Variant{}, false, nil
}

func (s *MemoryStore) ListVariants(ctx context.Context, productID int64) ([]domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Variant{}
	for _, v := range s.sortedVariants() {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateVariant(ctx context.Context, v domain.Variant) (domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[v.ProductID]; !ok {
		return domain.Variant{}, fmt.Errorf("product %d: %w", v.ProductID, ErrNotFound)
	}
	for _, existing := range s.variants {
		if existing.ProductID == v.ProductID && domain.SameAxes(existing.Attributes, v.Attributes) {
			return domain.Variant{}, domain.ErrDuplicateVariant
		}
		if v.GTIN != "" && existing.GTIN == v.GTIN {
			return domain.Variant{}, fmt.Errorf("gtin %s already assigned to variant %d", v.GTIN, existing.ID)
		}
	}

	v.ID = s.nextID()
	v.CreatedAt = s.now()
	v.Attributes = cloneStringMap(v.Attributes)
	s.variants[v.ID] = v
	return v, nil
}

func (s *MemoryStore) GetOffer(ctx context.Context, supplierID int64, supplierSKU string) (domain.SupplierOffer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[offerKey(supplierID, supplierSKU)]
	o.Payload = cloneAnyMap(o.Payload)
	return o, ok, nil
}

func (s *MemoryStore) UpsertOffer(ctx context.Context, o domain.SupplierOffer) (domain.SupplierOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := offerKey(o.SupplierID, o.SupplierSKU)
	if existing, ok := s.offers[key]; ok {
		o.ID = existing.ID
	} else {
		o.ID = s.nextID()
	}
	o.UpdatedAt = s.now()
	o.Payload = cloneAnyMap(o.Payload)
	s.offers[key] = o
	return o, nil
}

func (s *MemoryStore) ListOffers(ctx context.Context, productID int64) ([]domain.SupplierOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.SupplierOffer{}
	for _, o := range s.offers {
		if o.ProductID == productID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) firstProduct(match func(domain.Product) bool) (domain.Product, bool, error) {
	for _, id := range s.sortedProductIDs() {
		p := s.products[id]
		if match(p) {
			p.FusedAttributes = cloneAnyMap(p.FusedAttributes)
			return p, true, nil
		}
	}
	return domain.Product{}, false, nil
}

func (s *MemoryStore) sortedProductIDs() []int64 {
	ids := make([]int64, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *MemoryStore) sortedVariants() []domain.Variant {
	out := make([]domain.Variant, 0, len(s.variants))
	for _, v := range s.variants {
		v.Attributes = cloneStringMap(v.Attributes)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func familyMatches(productFamily string, want string) bool {
	return want == "" || productFamily == want
}

func offerKey(supplierID int64, sku string) string {
	return strconv.FormatInt(supplierID, 10) + "/" + sku
}
