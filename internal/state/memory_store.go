package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/textnorm"
)

type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	seq int64

	brands       map[int64]domain.Brand
	brandAliases map[string]domain.BrandAlias // alias key -> alias

	products map[int64]domain.Product
	variants map[int64]domain.Variant
	offers   map[string]domain.SupplierOffer // supplier_id/sku -> offer

	contributions []domain.SourceContribution
	requirements  map[string]domain.ChannelRequirement // channel/family
	readiness     map[string]domain.ReadinessResult    // product/channel

	outbox   []domain.OutboxEvent
	matchLog []domain.MatchLogEntry
	sessions map[string]domain.ImportSession
	idem     map[string]map[string]IdempotencyRecord // endpoint -> keyhash -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          func() time.Time { return time.Now().UTC() },
		brands:       make(map[int64]domain.Brand),
		brandAliases: make(map[string]domain.BrandAlias),
		products:     make(map[int64]domain.Product),
		variants:     make(map[int64]domain.Variant),
		offers:       make(map[string]domain.SupplierOffer),
		requirements: make(map[string]domain.ChannelRequirement),
		readiness:    make(map[string]domain.ReadinessResult),
		sessions:     make(map[string]domain.ImportSession),
		idem:         make(map[string]map[string]IdempotencyRecord),
	}
}

// SetClock replaces the time source used for timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *MemoryStore) GetBrand(ctx context.Context, id int64) (domain.Brand, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.brands[id]
	return b, ok, nil
}

func (s *MemoryStore) FindBrandByName(ctx context.Context, name string) (domain.Brand, bool, error) {
	slug := textnorm.Slug(name)
	if slug == "" {
		return domain.Brand{}, false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.brands {
		if b.Slug == slug {
			return b, true, nil
		}
	}
	return domain.Brand{}, false, nil
}

func (s *MemoryStore) FindBrandByAlias(ctx context.Context, alias string) (domain.Brand, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.brandAliases[textnorm.Key(alias)]
	if !ok {
		return domain.Brand{}, false, nil
	}
	b, ok := s.brands[a.BrandID]
	return b, ok, nil
}

func (s *MemoryStore) CreateBrand(ctx context.Context, b domain.Brand) (domain.Brand, error) {
	if b.Slug == "" {
		b.Slug = textnorm.Slug(b.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.brands {
		if existing.Slug == b.Slug {
			return existing, nil
		}
	}

	b.ID = s.nextID()
	s.brands[b.ID] = b
	return b, nil
}

func (s *MemoryStore) AddBrandAlias(ctx context.Context, a domain.BrandAlias) error {
	key := textnorm.Key(a.Alias)
	if key == "" {
		return fmt.Errorf("empty alias")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.brands[a.BrandID]; !ok {
		return fmt.Errorf("brand %d: %w", a.BrandID, ErrNotFound)
	}
	if existing, ok := s.brandAliases[key]; ok && existing.BrandID != a.BrandID {
		return fmt.Errorf("alias %q already belongs to brand %d", a.Alias, existing.BrandID)
	}

	a.ID = s.nextID()
	s.brandAliases[key] = a
	return nil
}

func (s *MemoryStore) GetIdempotency(ctx context.Context, endpoint string, idemKeyHash string) (IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.idem[endpoint]
	if !ok {
		return IdempotencyRecord{}, false, nil
	}
	rec, ok := ep[idemKeyHash]
	if !ok {
		return IdempotencyRecord{}, false, nil
	}

	if s.now().After(rec.ExpiresAt) {
		return IdempotencyRecord{}, false, nil
	}

	return rec, true, nil
}

func (s *MemoryStore) PutIdempotency(ctx context.Context, endpoint string, idemKeyHash string, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.idem[endpoint]
	if !ok {
		ep = make(map[string]IdempotencyRecord)
		s.idem[endpoint] = ep
	}
	ep[idemKeyHash] = rec
	return nil
}

// Helper for hashing idempotency keys deterministically
func HashIdempotencyKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
