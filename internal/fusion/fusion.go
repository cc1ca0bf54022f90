// Package fusion folds per-source attribute contributions into one attribute
// map per product, and recomputes the product rollups derived from offers.
package fusion

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

// Merge sorts contributions by source priority (stable, so rows of one tier
// keep their order) and folds them left to right. A non-empty value from a
// later contribution overwrites the key; empty values never do.
func Merge(contributions []domain.SourceContribution) map[string]any {
	ordered := append([]domain.SourceContribution(nil), contributions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SourceType.Priority() < ordered[j].SourceType.Priority()
	})

	out := map[string]any{}
	for _, c := range ordered {
		for k, v := range c.Attributes {
			if IsEmpty(v) {
				continue
			}
			out[k] = v
		}
	}
	return out
}

// IsEmpty reports whether v carries no information: nil, a blank string, or
// an empty slice or map.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

type Store interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, bool, error)
	UpdateProductFusion(ctx context.Context, id int64, fused map[string]any, rollup domain.Rollup) error
	ListVariants(ctx context.Context, productID int64) ([]domain.Variant, error)
	ListOffers(ctx context.Context, productID int64) ([]domain.SupplierOffer, error)
	UpsertContribution(ctx context.Context, c domain.SourceContribution) (domain.SourceContribution, error)
	ListContributions(ctx context.Context, productID int64) ([]domain.SourceContribution, error)
	InvalidateProductReadiness(ctx context.Context, productID int64) error
}

type Service struct {
	store Store
	log   *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, log: logger}
}

// Merge returns the fused attributes for productID from its stored rows.
func (s *Service) Merge(ctx context.Context, productID int64) (map[string]any, error) {
	rows, err := s.store.ListContributions(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	return Merge(rows), nil
}

// Contribute stores c, replacing any earlier row from the same source, and
// refreshes the product.
func (s *Service) Contribute(ctx context.Context, c domain.SourceContribution) (domain.SourceContribution, error) {
	if !c.SourceType.Valid() {
		return domain.SourceContribution{}, fmt.Errorf("unknown source type %q", c.SourceType)
	}
	if c.SourceID == "" {
		return domain.SourceContribution{}, fmt.Errorf("source id is required")
	}

	saved, err := s.store.UpsertContribution(ctx, c)
	if err != nil {
		return domain.SourceContribution{}, fmt.Errorf("upsert contribution: %w", err)
	}
	if _, err := s.Refresh(ctx, c.ProductID); err != nil {
		return saved, err
	}
	return saved, nil
}

// Refresh recomputes fused attributes and rollups onto the product and drops
// its cached readiness rows.
func (s *Service) Refresh(ctx context.Context, productID int64) (domain.Product, error) {
	p, ok, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	if !ok {
		return domain.Product{}, fmt.Errorf("product %d not found", productID)
	}

	fused, err := s.Merge(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	rollup, err := s.rollup(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.store.UpdateProductFusion(ctx, productID, fused, rollup); err != nil {
		return domain.Product{}, fmt.Errorf("update product fusion: %w", err)
	}

	if err := s.store.InvalidateProductReadiness(ctx, productID); err != nil {
		return domain.Product{}, fmt.Errorf("invalidate readiness: %w", err)
	}

	s.log.Debug("product fused",
		zap.Int64("product_id", productID),
		zap.Int("attributes", len(fused)),
		zap.Int("offers", rollup.OfferCount),
	)

	p.FusedAttributes = fused
	p.Rollup = rollup
	return p, nil
}

func (s *Service) rollup(ctx context.Context, productID int64) (domain.Rollup, error) {
	variants, err := s.store.ListVariants(ctx, productID)
	if err != nil {
		return domain.Rollup{}, fmt.Errorf("list variants: %w", err)
	}
	offers, err := s.store.ListOffers(ctx, productID)
	if err != nil {
		return domain.Rollup{}, fmt.Errorf("list offers: %w", err)
	}
	r := Rollup(offers)
	r.VariantCount = len(variants)
	return r, nil
}

// Rollup computes offer-derived figures: the lowest positive price, offer and
// distinct supplier counts, and whether any offer has stock.
func Rollup(offers []domain.SupplierOffer) domain.Rollup {
	var (
		r         domain.Rollup
		best      decimal.Decimal
		havePrice bool
	)
	suppliers := map[int64]struct{}{}
	for _, o := range offers {
		r.OfferCount++
		suppliers[o.SupplierID] = struct{}{}
		if o.Stock > 0 {
			r.InStock = true
		}
		if o.Price.IsPositive() && (!havePrice || o.Price.LessThan(best)) {
			best, havePrice = o.Price, true
		}
	}
	r.SupplierCount = len(suppliers)
	r.BestPrice = best
	return r
}
