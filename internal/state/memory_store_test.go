package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

func TestMemoryStore_IdempotencyTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	keyHash := HashIdempotencyKey("k1")
	now := time.Now().UTC()

	require.NoError(t, s.PutIdempotency(ctx, "/x", keyHash, IdempotencyRecord{
		StatusCode: 200,
		BodyJSON:   []byte(`{"ok":true}`),
		CreatedAt:  now,
		ExpiresAt:  now.Add(-1 * time.Second),
	}))

	_, ok, err := s.GetIdempotency(ctx, "/x", keyHash)
	require.NoError(t, err)
	assert.False(t, ok, "expired record must be treated as missing")
}

func TestMemoryStore_BrandAliasLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	b, err := s.CreateBrand(ctx, domain.Brand{Name: "Орматек", Active: true})
	require.NoError(t, err)
	require.NoError(t, s.AddBrandAlias(ctx, domain.BrandAlias{BrandID: b.ID, Alias: "Ormatek"}))

	got, ok, err := s.FindBrandByAlias(ctx, "  ORMATEK ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.ID, got.ID)

	again, err := s.CreateBrand(ctx, domain.Brand{Name: "орматек"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID, "same slug returns the existing brand")

	other, err := s.CreateBrand(ctx, domain.Brand{Name: "Askona"})
	require.NoError(t, err)
	assert.Error(t, s.AddBrandAlias(ctx, domain.BrandAlias{BrandID: other.ID, Alias: "ormatek"}))
}

func TestMemoryStore_VariantAxesAreUniquePerProduct(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p, err := s.CreateProduct(ctx, domain.Product{Name: "Optima 160x200", ModelName: "Optima", Family: "mattress", Active: true})
	require.NoError(t, err)
	assert.Equal(t, "optima", p.ModelKey)

	axes := map[string]string{"width": "160", "length": "200"}
	v, err := s.CreateVariant(ctx, domain.Variant{ProductID: p.ID, GTIN: "4601234567890", Attributes: axes})
	require.NoError(t, err)

	_, err = s.CreateVariant(ctx, domain.Variant{ProductID: p.ID, Attributes: map[string]string{"length": "200", "width": "160"}})
	assert.ErrorIs(t, err, domain.ErrDuplicateVariant)

	found, ok, err := s.FindVariantByAxes(ctx, p.ID, map[string]string{"width": "160"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v.ID, found.ID)

	byGTIN, ok, err := s.FindVariantByGTIN(ctx, "4601234567890")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v.ID, byGTIN.ID)
}

func TestMemoryStore_CreateProductRejectsDuplicateModel(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.CreateProduct(ctx, domain.Product{BrandID: 1, Family: "mattress", ModelName: "Оптима"})
	require.NoError(t, err)

	_, err = s.CreateProduct(ctx, domain.Product{BrandID: 1, Family: "mattress", ModelName: "оптима"})
	assert.ErrorIs(t, err, domain.ErrDuplicateProduct)

	_, err = s.CreateProduct(ctx, domain.Product{BrandID: 1, Family: "pillow", ModelName: "Оптима"})
	require.NoError(t, err, "another family is another product")
	_, err = s.CreateProduct(ctx, domain.Product{BrandID: 2, Family: "mattress", ModelName: "Оптима"})
	require.NoError(t, err)

	got, ok, err := s.FindProductByModel(ctx, 1, "mattress", first.ModelKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)
}

func TestMemoryStore_FindSimilarProductPicksBest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	b, err := s.CreateBrand(ctx, domain.Brand{Name: "Ormatek"})
	require.NoError(t, err)

	_, err = s.CreateProduct(ctx, domain.Product{BrandID: b.ID, Family: "mattress", ModelName: "Optima Classic"})
	require.NoError(t, err)
	want, err := s.CreateProduct(ctx, domain.Product{BrandID: b.ID, Family: "mattress", ModelName: "Optima Lux"})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, domain.Product{BrandID: b.ID, Family: "pillow", ModelName: "Optima Lux"})
	require.NoError(t, err)

	got, score, ok, err := s.FindSimilarProduct(ctx, b.ID, "mattress", "Optima Luxe", 0.6)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.ID, got.ID)
	assert.GreaterOrEqual(t, score, 0.6)

	_, _, ok, err = s.FindSimilarProduct(ctx, b.ID, "mattress", "Completely Different", 0.6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ContributionUpsertKeepsIdentity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.UpsertContribution(ctx, domain.SourceContribution{
		ProductID: 1, SourceType: domain.SourceSupplier, SourceID: "supplier:7",
		Attributes: map[string]any{"height": 20},
	})
	require.NoError(t, err)

	second, err := s.UpsertContribution(ctx, domain.SourceContribution{
		ProductID: 1, SourceType: domain.SourceSupplier, SourceID: "supplier:7",
		Attributes: map[string]any{"height": 22},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	rows, err := s.ListContributions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 22, rows[0].Attributes["height"])
}

func TestMemoryStore_ReadinessInvalidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, r := range []domain.ReadinessResult{
		{ProductID: 1, Channel: "main", Ready: true, Score: 100},
		{ProductID: 1, Channel: "market", Ready: false, Score: 50, Missing: []string{"required:image"}},
		{ProductID: 2, Channel: "main", Ready: true, Score: 100},
	} {
		require.NoError(t, s.PutReadiness(ctx, r))
	}

	require.NoError(t, s.InvalidateProductReadiness(ctx, 1))
	_, ok, _ := s.GetReadiness(ctx, 1, "main")
	assert.False(t, ok)
	_, ok, _ = s.GetReadiness(ctx, 2, "main")
	assert.True(t, ok)

	require.NoError(t, s.InvalidateChannelReadiness(ctx, "main"))
	_, ok, _ = s.GetReadiness(ctx, 2, "main")
	assert.False(t, ok)
}

func TestMemoryStore_OfferUpsertKeepsID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.UpsertOffer(ctx, domain.SupplierOffer{SupplierID: 7, SupplierSKU: "A1", ProductID: 1, Price: decimal.NewFromInt(100)})
	require.NoError(t, err)
	b, err := s.UpsertOffer(ctx, domain.SupplierOffer{SupplierID: 7, SupplierSKU: "A1", ProductID: 1, Price: decimal.NewFromInt(90)})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	got, ok, err := s.GetOffer(ctx, 7, "A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(90)))
}

func TestMemoryStore_ClaimRespectsAvailability(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	ready, err := s.InsertOutboxEvent(ctx, domain.OutboxEvent{ProductID: 1, EventType: domain.EventCreated, AvailableAt: now.Add(-time.Second)})
	require.NoError(t, err)
	_, err = s.InsertOutboxEvent(ctx, domain.OutboxEvent{ProductID: 2, EventType: domain.EventCreated, AvailableAt: now.Add(time.Hour)})
	require.NoError(t, err)

	claimed, err := s.ClaimOutboxEvents(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, ready.ID, claimed[0].ID)
	assert.Equal(t, domain.OutboxProcessing, claimed[0].Status)

	again, err := s.ClaimOutboxEvents(ctx, 10, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMemoryStore_ConcurrentClaimsAreDisjoint(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const total = 200
	for i := 0; i < total; i++ {
		_, err := s.InsertOutboxEvent(ctx, domain.OutboxEvent{ProductID: int64(i%17 + 1), EventType: domain.EventUpdated})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		wg   sync.WaitGroup
	)
	now := time.Now().UTC().Add(time.Second)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.ClaimOutboxEvents(ctx, 7, now)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, e := range batch {
					seen[e.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %d claimed more than once", id)
	}
}

func TestMemoryStore_ReleaseAndHousekeeping(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	e1, _ := s.InsertOutboxEvent(ctx, domain.OutboxEvent{ProductID: 1, EventType: domain.EventCreated})
	e2, _ := s.InsertOutboxEvent(ctx, domain.OutboxEvent{ProductID: 2, EventType: domain.EventCreated})
	e3, _ := s.InsertOutboxEvent(ctx, domain.OutboxEvent{ProductID: 3, EventType: domain.EventCreated})

	_, err := s.ClaimOutboxEvents(ctx, 10, clock)
	require.NoError(t, err)

	retryAt := clock.Add(30 * time.Second)
	require.NoError(t, s.ReleaseOutboxEvents(ctx, []int64{e1.ID}, retryAt, "channel down"))
	require.NoError(t, s.MarkOutboxError(ctx, []int64{e2.ID}, "rejected"))
	require.NoError(t, s.MarkOutboxSuccess(ctx, []int64{e3.ID}))

	pending, err := s.ListOutboxEvents(ctx, OutboxFilter{Status: domain.OutboxPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "channel down", pending[0].LastError)
	assert.Equal(t, retryAt, pending[0].AvailableAt)

	early, err := s.ClaimOutboxEvents(ctx, 10, clock)
	require.NoError(t, err)
	assert.Empty(t, early, "released event is not claimable before available_at")

	n, err := s.RequeueErroredEvents(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.RequeueErroredEvents(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock = clock.Add(2 * time.Hour)
	n, err = s.PurgeSucceededEvents(ctx, clock.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	claimed, err := s.ClaimOutboxEvents(ctx, 10, clock)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	clock = clock.Add(20 * time.Minute)
	n, err = s.ResetStuckEvents(ctx, clock.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryStore_MatchLogAndSessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.InsertMatchLog(ctx, domain.MatchLogEntry{SessionID: "s1", SupplierSKU: "A"}))
	require.NoError(t, s.InsertMatchLog(ctx, domain.MatchLogEntry{SessionID: "s1", SupplierSKU: "B", Matcher: "identifier", Confidence: 1}))
	require.NoError(t, s.InsertMatchLog(ctx, domain.MatchLogEntry{SessionID: "s2", SupplierSKU: "C"}))

	entries, err := s.ListMatchLog(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.MatcherNone, entries[0].Matcher)
	assert.Equal(t, "identifier", entries[1].Matcher)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertImportSession(ctx, domain.ImportSession{SessionID: "s1", CreatedAt: t0}))
	require.NoError(t, s.InsertImportSession(ctx, domain.ImportSession{SessionID: "s2", CreatedAt: t0.Add(time.Minute)}))
	assert.Error(t, s.InsertImportSession(ctx, domain.ImportSession{SessionID: "s1"}))

	list, err := s.ListImportSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s2", list[0].SessionID)
}
