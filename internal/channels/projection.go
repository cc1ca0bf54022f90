package channels

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

type BrandRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type VariantProjection struct {
	ID      int64             `json:"id"`
	GTIN    string            `json:"gtin,omitempty"`
	MPN     string            `json:"mpn,omitempty"`
	Axes    map[string]string `json:"axes,omitempty"`
	Price   decimal.Decimal   `json:"price"`
	Stock   int               `json:"stock"`
	InStock bool              `json:"in_stock"`
}

// Projection is the full outbound view of a product. It is rebuilt from the
// current fused state on every push.
type Projection struct {
	ProductID    int64               `json:"product_id"`
	Name         string              `json:"name"`
	ModelName    string              `json:"model_name"`
	Family       string              `json:"family,omitempty"`
	Brand        *BrandRef           `json:"brand,omitempty"`
	Description  string              `json:"description,omitempty"`
	Images       []string            `json:"images"`
	Variants     []VariantProjection `json:"variants"`
	SelectorAxes []string            `json:"selector_axes"`
	BestPrice    decimal.Decimal     `json:"best_price"`
	InStock      bool                `json:"in_stock"`
	Attributes   map[string]any      `json:"attributes,omitempty"`
}

// BuildProjection assembles the projection from stored rows. Orphan offers
// count toward the product's best price and stock but belong to no variant.
func BuildProjection(p domain.Product, brand *domain.Brand, variants []domain.Variant, offers []domain.SupplierOffer) Projection {
	out := Projection{
		ProductID:    p.ID,
		Name:         p.Name,
		ModelName:    p.ModelName,
		Family:       p.Family,
		Images:       images(p.FusedAttributes),
		Variants:     make([]VariantProjection, 0, len(variants)),
		SelectorAxes: selectorAxes(variants),
		BestPrice:    p.Rollup.BestPrice,
		InStock:      p.Rollup.InStock,
		Attributes:   p.FusedAttributes,
	}
	if brand != nil && brand.ID != 0 {
		out.Brand = &BrandRef{ID: brand.ID, Name: brand.Name}
	}
	if d, ok := p.FusedAttributes["description"].(string); ok {
		out.Description = strings.TrimSpace(d)
	}

	byVariant := map[int64][]domain.SupplierOffer{}
	for _, o := range offers {
		if !o.Orphan() {
			byVariant[o.VariantID] = append(byVariant[o.VariantID], o)
		}
	}

	for _, v := range variants {
		vp := VariantProjection{ID: v.ID, GTIN: v.GTIN, MPN: v.MPN, Axes: v.Attributes}
		havePrice := false
		for _, o := range byVariant[v.ID] {
			if o.Stock > 0 {
				vp.Stock += o.Stock
			}
			if o.Price.IsPositive() && (!havePrice || o.Price.LessThan(vp.Price)) {
				vp.Price, havePrice = o.Price, true
			}
		}
		vp.InStock = vp.Stock > 0
		out.Variants = append(out.Variants, vp)
	}
	return out
}

// selectorAxes lists, sorted, the axes whose values differ between variants.
func selectorAxes(variants []domain.Variant) []string {
	values := map[string]map[string]struct{}{}
	for _, v := range variants {
		for k, val := range v.Attributes {
			if values[k] == nil {
				values[k] = map[string]struct{}{}
			}
			values[k][val] = struct{}{}
		}
	}
	out := []string{}
	for k, vals := range values {
		if len(vals) > 1 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func images(fused map[string]any) []string {
	out := []string{}
	add := func(v any) {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	switch v := fused["images"].(type) {
	case []any:
		for _, img := range v {
			add(img)
		}
	case []string:
		for _, img := range v {
			add(img)
		}
	default:
		add(v)
	}
	add(fused["image"])
	return out
}
