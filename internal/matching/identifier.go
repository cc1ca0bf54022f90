package matching

import (
	"context"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

// IdentifierMatcher resolves a record by its GTIN/EAN. A trade identifier is
// globally unique, so a hit is certain.
type IdentifierMatcher struct {
	store Store
}

func NewIdentifierMatcher(store Store) *IdentifierMatcher {
	return &IdentifierMatcher{store: store}
}

func (m *IdentifierMatcher) Name() string  { return "identifier" }
func (m *IdentifierMatcher) Priority() int { return 10 }

func (m *IdentifierMatcher) Match(ctx context.Context, rec domain.NormalizedRecord, _ MatchContext) (Result, bool, error) {
	gtin, ok := ExtractGTIN(rec)
	if !ok {
		return Result{}, false, nil
	}

	v, found, err := m.store.FindVariantByGTIN(ctx, gtin)
	if err != nil {
		return Result{}, false, err
	}
	if !found {
		return Result{Details: map[string]any{"gtin": gtin, "found": false}}, false, nil
	}

	return Result{
		Kind:       FoundVariant,
		ProductID:  v.ProductID,
		VariantID:  v.ID,
		Confidence: 1.0,
		Details:    map[string]any{"gtin": gtin},
	}, true, nil
}
