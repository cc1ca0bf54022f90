// Package readiness decides whether a product meets a channel's minimum
// publication requirements and caches the verdict per (product, channel).
package readiness

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/fusion"
	"github.com/ETAnderson/catalogsync/internal/metrics"
)

const (
	CheckImage       = "image"
	CheckBarcode     = "barcode"
	CheckDescription = "description"
	CheckBrand       = "brand"
	CheckPrice       = "price"
)

// Image and description attributes inside the fused map.
const (
	imagesAttr      = "images"
	imageAttr       = "image"
	descriptionAttr = "description"
)

type Store interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, bool, error)
	ListVariants(ctx context.Context, productID int64) ([]domain.Variant, error)
	GetRequirement(ctx context.Context, channel string, family string) (domain.ChannelRequirement, bool, error)
	UpsertRequirement(ctx context.Context, r domain.ChannelRequirement) error
	GetReadiness(ctx context.Context, productID int64, channel string) (domain.ReadinessResult, bool, error)
	PutReadiness(ctx context.Context, r domain.ReadinessResult) error
	InvalidateChannelReadiness(ctx context.Context, channel string) error
}

type Gate struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewGate(store Store, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

type check struct {
	name     string
	required bool
	passed   bool
}

func (c check) tag() string {
	if c.required {
		return "required:" + c.name
	}
	return "recommended:" + c.name
}

// Evaluate returns the readiness of productID for channel. A cached verdict is
// returned unless forceRefresh is set; a miss evaluates and stores a new one.
func (g *Gate) Evaluate(ctx context.Context, productID int64, channel string, forceRefresh bool) (domain.ReadinessResult, error) {
	if !forceRefresh {
		cached, ok, err := g.store.GetReadiness(ctx, productID, channel)
		if err != nil {
			return domain.ReadinessResult{}, fmt.Errorf("get cached readiness: %w", err)
		}
		if ok {
			return cached, nil
		}
	}

	p, ok, err := g.store.GetProduct(ctx, productID)
	if err != nil {
		return domain.ReadinessResult{}, fmt.Errorf("get product: %w", err)
	}
	if !ok {
		return domain.ReadinessResult{}, fmt.Errorf("product %d not found", productID)
	}

	req, found, err := g.requirement(ctx, channel, p.Family)
	if err != nil {
		return domain.ReadinessResult{}, err
	}

	var checks []check
	if found {
		variants, err := g.store.ListVariants(ctx, productID)
		if err != nil {
			return domain.ReadinessResult{}, fmt.Errorf("list variants: %w", err)
		}
		checks = evaluateChecks(p, variants, req)
	}

	res := score(checks)
	res.ProductID = productID
	res.Channel = channel
	res.EvaluatedAt = g.now()

	if err := g.store.PutReadiness(ctx, res); err != nil {
		return domain.ReadinessResult{}, fmt.Errorf("store readiness: %w", err)
	}
	metrics.ReadinessEvaluated(channel, res.Ready)
	return res, nil
}

// IsReady is Evaluate for callers that only need a yes/no. An evaluation
// failure is logged and counts as not ready.
func (g *Gate) IsReady(ctx context.Context, productID int64, channel string) bool {
	res, err := g.Evaluate(ctx, productID, channel, false)
	if err != nil {
		g.log.Warn("readiness evaluation failed",
			zap.Int64("product_id", productID),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return false
	}
	return res.Ready
}

// SetRequirement stores r and drops every cached verdict for its channel.
func (g *Gate) SetRequirement(ctx context.Context, r domain.ChannelRequirement) error {
	if strings.TrimSpace(r.Channel) == "" {
		return fmt.Errorf("channel is required")
	}
	if r.Family == "" {
		r.Family = domain.WildcardFamily
	}
	if err := g.store.UpsertRequirement(ctx, r); err != nil {
		return fmt.Errorf("upsert requirement: %w", err)
	}
	if err := g.store.InvalidateChannelReadiness(ctx, r.Channel); err != nil {
		return fmt.Errorf("invalidate channel readiness: %w", err)
	}
	return nil
}

func (g *Gate) requirement(ctx context.Context, channel, family string) (domain.ChannelRequirement, bool, error) {
	if family != "" && family != domain.WildcardFamily {
		r, ok, err := g.store.GetRequirement(ctx, channel, family)
		if err != nil || ok {
			return r, ok, err
		}
	}
	return g.store.GetRequirement(ctx, channel, domain.WildcardFamily)
}

// evaluateChecks lists the configured checks for p in their fixed order.
func evaluateChecks(p domain.Product, variants []domain.Variant, req domain.ChannelRequirement) []check {
	fused := p.FusedAttributes
	var out []check

	if req.MinImages > 0 {
		out = append(out, check{name: CheckImage, required: true, passed: ImageCount(fused) >= req.MinImages})
	}
	if req.RequireBarcode {
		out = append(out, check{name: CheckBarcode, required: true, passed: hasBarcode(variants)})
	}
	if req.RequireDescription || req.MinDescriptionLength > 0 {
		desc, _ := fused[descriptionAttr].(string)
		desc = strings.TrimSpace(desc)
		ok := desc != "" && utf8.RuneCountInString(desc) >= req.MinDescriptionLength
		out = append(out, check{name: CheckDescription, required: true, passed: ok})
	}
	if req.RequireBrand {
		out = append(out, check{name: CheckBrand, required: true, passed: p.BrandID != 0})
	}
	if req.RequirePrice {
		out = append(out, check{name: CheckPrice, required: true, passed: p.Rollup.BestPrice.IsPositive()})
	}
	for _, attr := range req.RequiredAttributes {
		out = append(out, check{name: attr, required: true, passed: !fusion.IsEmpty(fused[attr])})
	}
	for _, attr := range req.RecommendedAttributes {
		out = append(out, check{name: attr, required: false, passed: !fusion.IsEmpty(fused[attr])})
	}
	return out
}

func score(checks []check) domain.ReadinessResult {
	res := domain.ReadinessResult{Ready: true, Score: 100, Missing: []string{}}
	if len(checks) == 0 {
		return res
	}

	passed := 0
	for _, c := range checks {
		if c.passed {
			passed++
			continue
		}
		res.Missing = append(res.Missing, c.tag())
		if c.required {
			res.Ready = false
		}
	}
	res.Score = int(math.Round(100 * float64(passed) / float64(len(checks))))
	return res
}

// ImageCount counts image references in fused attributes: the images list
// plus a single image value.
func ImageCount(fused map[string]any) int {
	n := 0
	switch v := fused[imagesAttr].(type) {
	case []any:
		for _, img := range v {
			if s, ok := img.(string); ok && strings.TrimSpace(s) != "" {
				n++
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				n++
			}
		}
	case string:
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	if s, ok := fused[imageAttr].(string); ok && strings.TrimSpace(s) != "" {
		n++
	}
	return n
}

func hasBarcode(variants []domain.Variant) bool {
	for _, v := range variants {
		if v.GTIN != "" {
			return true
		}
	}
	return false
}
