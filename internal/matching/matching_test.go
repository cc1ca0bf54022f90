package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/rules"
	"github.com/ETAnderson/catalogsync/internal/state"
)

type fixture struct {
	store   *state.MemoryStore
	engine  *Engine
	brand   domain.Brand
	product domain.Product
	variant domain.Variant
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s := state.NewMemoryStore()

	b, err := s.CreateBrand(ctx, domain.Brand{Name: "Орматек", Active: true})
	require.NoError(t, err)
	require.NoError(t, s.AddBrandAlias(ctx, domain.BrandAlias{BrandID: b.ID, Alias: "Ормmatek"}))

	p, err := s.CreateProduct(ctx, domain.Product{
		BrandID:      b.ID,
		Family:       "mattress",
		Name:         "Ормmatek Оптима",
		ModelName:    "Ормmatek Оптима",
		Manufacturer: "Орматек",
		Active:       true,
	})
	require.NoError(t, err)

	v, err := s.CreateVariant(ctx, domain.Variant{
		ProductID:  p.ID,
		GTIN:       "4601234567890",
		MPN:        "OPT-140",
		Attributes: map[string]string{"width": "140", "length": "200"},
	})
	require.NoError(t, err)

	return fixture{
		store:   s,
		engine:  NewEngine(s, rules.Default(), nil),
		brand:   b,
		product: p,
		variant: v,
	}
}

func TestEngine_SameGTINYieldsSameVariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := domain.NormalizedRecord{
		SupplierSKU: "A-1",
		Name:        "Матрас Оптима",
		Attributes:  map[string]any{"EAN": "4 601234 567890"},
	}
	b := domain.NormalizedRecord{
		SupplierSKU: "B-7",
		Name:        "Optima mattress",
		Raw:         map[string]any{"штрихкод": float64(4601234567890)},
	}

	ra, err := f.engine.Match(ctx, a, MatchContext{SupplierID: 1})
	require.NoError(t, err)
	rb, err := f.engine.Match(ctx, b, MatchContext{SupplierID: 2})
	require.NoError(t, err)

	for _, r := range []Result{ra, rb} {
		assert.Equal(t, FoundVariant, r.Kind)
		assert.Equal(t, f.variant.ID, r.VariantID)
		assert.Equal(t, 1.0, r.Confidence)
		assert.Equal(t, "identifier", r.Matcher)
	}
}

func TestEngine_UPCIsPaddedBeforeLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateVariant(ctx, domain.Variant{
		ProductID:  f.product.ID,
		GTIN:       "0012345678905",
		Attributes: map[string]string{"width": "90", "length": "200"},
	})
	require.NoError(t, err)

	res, err := f.engine.Match(ctx, domain.NormalizedRecord{
		SupplierSKU: "U-1",
		Name:        "x",
		Variants:    []map[string]any{{"upc": "012345678905"}},
	}, MatchContext{})
	require.NoError(t, err)
	assert.Equal(t, FoundVariant, res.Kind)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestEngine_CompositeProductOnlyWhenSizeIsNew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Match(ctx, domain.NormalizedRecord{
		SupplierSKU:  "S-160",
		Name:         "Ормmatek Оптима 160x200",
		Manufacturer: "Ормmatek",
	}, MatchContext{SupplierID: 3, Family: "mattress"})
	require.NoError(t, err)

	assert.Equal(t, FoundProductOnly, res.Kind)
	assert.Equal(t, f.product.ID, res.ProductID)
	assert.Zero(t, res.VariantID)
	assert.Equal(t, 0.70, res.Confidence)
	assert.Equal(t, "composite", res.Matcher)
	assert.Equal(t, map[string]string{"width": "160", "length": "200"}, res.Details["axes"])
}

func TestEngine_CompositeFindsExistingSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Match(ctx, domain.NormalizedRecord{
		SupplierSKU:  "S-140",
		Name:         "Ормmatek Оптима",
		Manufacturer: "Орматек",
		Attributes:   map[string]any{"Ширина": "140 см", "длина": 200},
	}, MatchContext{Family: "mattress"})
	require.NoError(t, err)

	assert.Equal(t, FoundVariant, res.Kind)
	assert.Equal(t, f.variant.ID, res.VariantID)
	assert.Equal(t, 0.85, res.Confidence)
}

func TestEngine_CompositeFuzzyWithinBrand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Match(ctx, domain.NormalizedRecord{
		SupplierSKU: "F-1",
		Name:        "Ормmatek Оптимa",
	}, MatchContext{BrandID: f.brand.ID, Family: "mattress"})
	require.NoError(t, err)

	require.True(t, res.Found())
	assert.Equal(t, f.product.ID, res.ProductID)
	assert.Equal(t, "similar", res.Details["lookup"])
}

func TestEngine_MPNScopedAndAmbiguous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scoped, err := f.engine.Match(ctx, domain.NormalizedRecord{
		SupplierSKU: "M-1",
		Name:        "unrelated",
		Attributes:  map[string]any{"article": " opt-140 "},
	}, MatchContext{BrandID: f.brand.ID})
	require.NoError(t, err)
	assert.Equal(t, FoundVariant, scoped.Kind)
	assert.Equal(t, 0.95, scoped.Confidence)

	unscoped, err := f.engine.Match(ctx, domain.NormalizedRecord{
		SupplierSKU: "M-2",
		Name:        "unrelated",
		Attributes:  map[string]any{"mpn": "OPT-140"},
	}, MatchContext{})
	require.NoError(t, err)
	assert.Equal(t, 0.80, unscoped.Confidence)

	other, err := f.store.CreateProduct(ctx, domain.Product{Family: "mattress", ModelName: "Другой"})
	require.NoError(t, err)
	_, err = f.store.CreateVariant(ctx, domain.Variant{ProductID: other.ID, MPN: "OPT-140"})
	require.NoError(t, err)

	ambiguous, err := f.engine.Match(ctx, domain.NormalizedRecord{
		SupplierSKU: "M-3",
		Name:        "unrelated",
		Attributes:  map[string]any{"mpn": "OPT-140"},
	}, MatchContext{})
	require.NoError(t, err)
	assert.Equal(t, NotFound, ambiguous.Kind)
	assert.Equal(t, domain.MatcherNone, ambiguous.Matcher)

	attempts, ok := ambiguous.Details["attempts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, attempts["mpn"].(map[string]any)["ambiguous"])
}

func TestEngine_MPNAmbiguousWithinBrand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sibling, err := f.store.CreateProduct(ctx, domain.Product{BrandID: f.brand.ID, Family: "mattress", ModelName: "Оптима Люкс"})
	require.NoError(t, err)
	_, err = f.store.CreateVariant(ctx, domain.Variant{ProductID: sibling.ID, MPN: "OPT-140"})
	require.NoError(t, err)

	res, err := f.engine.Match(ctx, domain.NormalizedRecord{
		SupplierSKU: "M-4",
		Name:        "unrelated",
		Attributes:  map[string]any{"mpn": "OPT-140"},
	}, MatchContext{BrandID: f.brand.ID})
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Kind)
	assert.Equal(t, domain.MatcherNone, res.Matcher)

	attempts, ok := res.Details["attempts"].(map[string]any)
	require.True(t, ok)
	mpn := attempts["mpn"].(map[string]any)
	assert.Equal(t, 2, mpn["ambiguous"])
	assert.Equal(t, f.brand.ID, mpn["brand_id"])
}

func TestEngine_NoMatchIsLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Match(ctx, domain.NormalizedRecord{SupplierSKU: "N-1", Name: "Совсем новый товар"},
		MatchContext{SessionID: "sess-1", SupplierID: 9})
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Kind)
	assert.Zero(t, res.Confidence)

	log, err := f.store.ListMatchLog(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, domain.MatcherNone, log[0].Matcher)
	assert.Equal(t, "N-1", log[0].SupplierSKU)
	assert.Equal(t, int64(9), log[0].SupplierID)
	assert.Equal(t, string(NotFound), log[0].Details["kind"])
}

type failingLogStore struct {
	*state.MemoryStore
}

func (failingLogStore) InsertMatchLog(context.Context, domain.MatchLogEntry) error {
	return errors.New("audit unavailable")
}

func TestEngine_AuditFailureDoesNotAbortMatch(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(failingLogStore{f.store}, rules.Default(), nil)

	res, err := engine.Match(context.Background(), domain.NormalizedRecord{
		SupplierSKU: "A-1",
		Attributes:  map[string]any{"gtin": "4601234567890"},
	}, MatchContext{})
	require.NoError(t, err)
	assert.Equal(t, f.variant.ID, res.VariantID)
}

type brokenGTINStore struct {
	*state.MemoryStore
}

func (brokenGTINStore) FindVariantByGTIN(context.Context, string) (domain.Variant, bool, error) {
	return domain.Variant{}, false, errors.New("connection reset")
}

func TestEngine_StoreFailureSurfacesAndIsLogged(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(brokenGTINStore{f.store}, rules.Default(), nil)

	res, err := engine.Match(context.Background(), domain.NormalizedRecord{
		SupplierSKU: "E-1",
		Attributes:  map[string]any{"gtin": "4601234567890"},
	}, MatchContext{SessionID: "s-err"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identifier")
	assert.Equal(t, NotFound, res.Kind)

	log, err := f.store.ListMatchLog(context.Background(), "s-err", 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "identifier", log[0].Details["failed_matcher"])
}

func TestExtractAxes_Sources(t *testing.T) {
	fam, ok := rules.Default().Family("mattress")
	require.True(t, ok)

	fromVariant := ExtractAxes(domain.NormalizedRecord{
		Name:     "Матрас 80x190",
		Variants: []map[string]any{{"width_cm": 90, "length_cm": "200"}},
	}, fam)
	assert.Equal(t, map[string]string{"width": "90", "length": "200"}, fromVariant)

	fromName := ExtractAxes(domain.NormalizedRecord{Name: "Матрас 80 х 190 см"}, fam)
	assert.Equal(t, map[string]string{"width": "80", "length": "190"}, fromName)

	assert.Empty(t, ExtractAxes(domain.NormalizedRecord{Name: "Матрас"}, fam))
}
