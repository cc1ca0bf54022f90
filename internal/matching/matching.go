// Package matching decides whether an incoming supplier record refers to a
// known variant, a known product that needs a new variant, or nothing at all.
package matching

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/metrics"
	"github.com/ETAnderson/catalogsync/internal/rules"
	"github.com/ETAnderson/catalogsync/internal/state"
)

type Kind string

const (
	NotFound         Kind = "not_found"
	FoundVariant     Kind = "found_variant"
	FoundProductOnly Kind = "found_product_only"
)

type Result struct {
	Kind       Kind           `json:"kind"`
	ProductID  int64          `json:"product_id,omitempty"`
	VariantID  int64          `json:"variant_id,omitempty"`
	Matcher    string         `json:"matcher"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details,omitempty"`
}

func (r Result) Found() bool { return r.Kind == FoundVariant || r.Kind == FoundProductOnly }

// MatchContext carries what the caller already knows about the record.
// BrandID is zero when the brand is unresolved; Family is empty when unknown.
type MatchContext struct {
	SessionID  string
	SupplierID int64
	BrandID    int64
	Family     string
}

// Matcher is one strategy in the chain. ok is false when the strategy has
// nothing to say; details may still describe why (e.g. an ambiguous MPN).
type Matcher interface {
	Name() string
	Priority() int
	Match(ctx context.Context, rec domain.NormalizedRecord, mc MatchContext) (res Result, ok bool, err error)
}

// Store is the slice of state.Store the matchers read.
type Store interface {
	state.BrandStore
	FindProductByModel(ctx context.Context, brandID int64, family string, modelKey string) (domain.Product, bool, error)
	FindProductByManufacturerModel(ctx context.Context, manufacturer string, family string, modelKey string) (domain.Product, bool, error)
	FindSimilarProduct(ctx context.Context, brandID int64, family string, modelName string, threshold float64) (domain.Product, float64, bool, error)
	FindVariantByGTIN(ctx context.Context, gtin string) (domain.Variant, bool, error)
	FindVariantsByMPN(ctx context.Context, mpn string, brandID int64) ([]domain.Variant, error)
	FindVariantByAxes(ctx context.Context, productID int64, axes map[string]string) (domain.Variant, bool, error)
	InsertMatchLog(ctx context.Context, e domain.MatchLogEntry) error
}

type Engine struct {
	store    Store
	matchers []Matcher
	log      *zap.Logger
}

// NewEngine builds the default chain: identifier, mpn, composite.
func NewEngine(store Store, catalog rules.Catalog, logger *zap.Logger) *Engine {
	return NewEngineWith(store, logger,
		NewIdentifierMatcher(store),
		NewMPNMatcher(store),
		NewCompositeMatcher(store, catalog),
	)
}

// NewEngineWith builds an engine over an explicit chain. Matchers run in
// ascending Priority order.
func NewEngineWith(store Store, logger *zap.Logger, matchers ...Matcher) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	chain := append([]Matcher(nil), matchers...)
	sort.SliceStable(chain, func(i, j int) bool { return chain[i].Priority() < chain[j].Priority() })
	return &Engine{store: store, matchers: chain, log: logger}
}

// Match runs the chain until a strategy matches. It always produces a result;
// the error is non-nil only when the store failed, so the caller can fail the
// single record. Every attempt is written to the match log.
func (e *Engine) Match(ctx context.Context, rec domain.NormalizedRecord, mc MatchContext) (Result, error) {
	attempts := map[string]any{}

	for _, m := range e.matchers {
		res, ok, err := m.Match(ctx, rec, mc)
		if err != nil {
			failed := Result{
				Kind:    NotFound,
				Matcher: domain.MatcherNone,
				Details: map[string]any{"error": err.Error(), "failed_matcher": m.Name(), "attempts": attempts},
			}
			e.audit(ctx, rec, mc, failed)
			return failed, fmt.Errorf("matcher %s: %w", m.Name(), err)
		}
		if ok {
			res.Matcher = m.Name()
			if len(attempts) > 0 {
				if res.Details == nil {
					res.Details = map[string]any{}
				}
				res.Details["attempts"] = attempts
			}
			e.audit(ctx, rec, mc, res)
			return res, nil
		}
		if len(res.Details) > 0 {
			attempts[m.Name()] = res.Details
		}
	}

	res := Result{Kind: NotFound, Matcher: domain.MatcherNone, Confidence: 0}
	if len(attempts) > 0 {
		res.Details = map[string]any{"attempts": attempts}
	}
	e.audit(ctx, rec, mc, res)
	return res, nil
}

func (e *Engine) audit(ctx context.Context, rec domain.NormalizedRecord, mc MatchContext, res Result) {
	metrics.MatchAttempt(res.Matcher)

	details := map[string]any{"kind": string(res.Kind)}
	for k, v := range res.Details {
		details[k] = v
	}

	err := e.store.InsertMatchLog(ctx, domain.MatchLogEntry{
		SessionID:   mc.SessionID,
		SupplierID:  mc.SupplierID,
		SupplierSKU: rec.SupplierSKU,
		Matcher:     res.Matcher,
		Confidence:  res.Confidence,
		ProductID:   res.ProductID,
		VariantID:   res.VariantID,
		Details:     details,
	})
	if err != nil {
		e.log.Warn("match log write failed",
			zap.String("session_id", mc.SessionID),
			zap.String("supplier_sku", rec.SupplierSKU),
			zap.Error(err),
		)
	}
}
