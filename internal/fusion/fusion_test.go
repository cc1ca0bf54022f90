package fusion

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/state"
)

func contribution(t domain.SourceType, attrs map[string]any) domain.SourceContribution {
	return domain.SourceContribution{SourceType: t, SourceID: string(t), Attributes: attrs}
}

func TestMerge_ManualWinsRegardlessOfOrder(t *testing.T) {
	manual := contribution(domain.SourceManual, map[string]any{"description": "hand written"})
	enrich := contribution(domain.SourceEnrichment, map[string]any{"description": "generated", "height": 22})
	supplier := contribution(domain.SourceSupplier, map[string]any{"description": "raw", "height": 20, "color": "white"})

	orders := [][]domain.SourceContribution{
		{manual, enrich, supplier},
		{supplier, enrich, manual},
		{enrich, manual, supplier},
	}
	for _, rows := range orders {
		got := Merge(rows)
		assert.Equal(t, "hand written", got["description"])
		assert.Equal(t, 22, got["height"])
		assert.Equal(t, "white", got["color"])
	}
}

func TestMerge_EmptyValuesNeverOverwrite(t *testing.T) {
	got := Merge([]domain.SourceContribution{
		contribution(domain.SourceSupplier, map[string]any{
			"description": "from supplier",
			"images":      []any{"a.jpg"},
			"dims":        map[string]any{"h": 20},
		}),
		contribution(domain.SourceManual, map[string]any{
			"description": "   ",
			"images":      []any{},
			"dims":        map[string]any{},
			"note":        nil,
		}),
	})

	assert.Equal(t, "from supplier", got["description"])
	assert.Equal(t, []any{"a.jpg"}, got["images"])
	assert.Equal(t, map[string]any{"h": 20}, got["dims"])
	_, ok := got["note"]
	assert.False(t, ok)
}

func TestMerge_TiesKeepRowOrder(t *testing.T) {
	got := Merge([]domain.SourceContribution{
		{SourceType: domain.SourceSupplier, SourceID: "supplier:1", Attributes: map[string]any{"color": "grey"}},
		{SourceType: domain.SourceSupplier, SourceID: "supplier:2", Attributes: map[string]any{"color": "white"}},
	})
	assert.Equal(t, "white", got["color"])
}

func TestService_ContributeRefreshesProduct(t *testing.T) {
	ctx := context.Background()
	s := state.NewMemoryStore()
	svc := NewService(s, nil)

	p, err := s.CreateProduct(ctx, domain.Product{ModelName: "Оптима", Active: true})
	require.NoError(t, err)
	v, err := s.CreateVariant(ctx, domain.Variant{ProductID: p.ID, Attributes: map[string]string{"width": "160"}})
	require.NoError(t, err)

	_, err = s.UpsertOffer(ctx, domain.SupplierOffer{SupplierID: 1, SupplierSKU: "A", ProductID: p.ID, VariantID: v.ID, Price: decimal.RequireFromString("15990"), Stock: 0})
	require.NoError(t, err)
	_, err = s.UpsertOffer(ctx, domain.SupplierOffer{SupplierID: 2, SupplierSKU: "B", ProductID: p.ID, VariantID: v.ID, Price: decimal.RequireFromString("14990.50"), Stock: 3})
	require.NoError(t, err)
	_, err = s.UpsertOffer(ctx, domain.SupplierOffer{SupplierID: 2, SupplierSKU: "C", ProductID: p.ID, Price: decimal.Zero})
	require.NoError(t, err)

	require.NoError(t, s.PutReadiness(ctx, domain.ReadinessResult{ProductID: p.ID, Channel: "main", Ready: true, Score: 100}))

	_, err = svc.Contribute(ctx, domain.SourceContribution{
		ProductID:  p.ID,
		SourceType: domain.SourceManual,
		SourceID:   "admin",
		Attributes: map[string]any{"description": "manual"},
	})
	require.NoError(t, err)

	got, ok, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "manual", got.FusedAttributes["description"])
	assert.True(t, got.Rollup.BestPrice.Equal(decimal.RequireFromString("14990.50")))
	assert.Equal(t, 1, got.Rollup.VariantCount)
	assert.Equal(t, 3, got.Rollup.OfferCount)
	assert.Equal(t, 2, got.Rollup.SupplierCount)
	assert.True(t, got.Rollup.InStock)

	_, ok, err = s.GetReadiness(ctx, p.ID, "main")
	require.NoError(t, err)
	assert.False(t, ok, "refresh drops cached readiness")
}

func TestService_RefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := state.NewMemoryStore()
	svc := NewService(s, nil)

	p, err := s.CreateProduct(ctx, domain.Product{ModelName: "X"})
	require.NoError(t, err)
	_, err = s.UpsertContribution(ctx, domain.SourceContribution{
		ProductID: p.ID, SourceType: domain.SourceSupplier, SourceID: "supplier:1",
		Attributes: map[string]any{"color": "white", "height": 20},
	})
	require.NoError(t, err)

	first, err := svc.Refresh(ctx, p.ID)
	require.NoError(t, err)
	second, err := svc.Refresh(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.FusedAttributes, second.FusedAttributes)
	assert.Equal(t, first.Rollup, second.Rollup)
}

func TestService_ContributeRejectsUnknownSource(t *testing.T) {
	svc := NewService(state.NewMemoryStore(), nil)
	_, err := svc.Contribute(context.Background(), domain.SourceContribution{ProductID: 1, SourceType: "robot", SourceID: "x"})
	assert.Error(t, err)
}
