package matching

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/rules"
	"github.com/ETAnderson/catalogsync/internal/textnorm"
)

var (
	gtinKeys = []string{"gtin", "ean", "ean13", "barcode", "upc", "штрихкод"}
	mpnKeys  = []string{"mpn", "article", "part_number", "vendor_code"}
)

// ExtractGTIN returns the first valid trade identifier found in the record's
// attributes, raw payload or first sub-variant, in that order.
func ExtractGTIN(rec domain.NormalizedRecord) (string, bool) {
	for _, bag := range recordBags(rec) {
		for _, raw := range lookupAll(bag, gtinKeys) {
			if gtin, ok := textnorm.NormalizeGTIN(raw); ok {
				return gtin, true
			}
		}
	}
	return "", false
}

// ExtractMPN returns the first non-empty manufacturer part number.
func ExtractMPN(rec domain.NormalizedRecord) string {
	for _, bag := range recordBags(rec) {
		for _, raw := range lookupAll(bag, mpnKeys) {
			if mpn := textnorm.NormalizeMPN(raw); mpn != "" {
				return mpn
			}
		}
	}
	return ""
}

// ModelName is the record's name with size tokens stripped, falling back to
// the model field.
func ModelName(rec domain.NormalizedRecord) string {
	if m := textnorm.ExtractModelName(rec.Name); m != "" {
		return m
	}
	return textnorm.ExtractModelName(rec.Model)
}

// ExtractAxes reads the family's variant-forming axes from the record's
// attributes, then its first sub-variant, then the size token in its name.
// The first source that yields any axis wins.
func ExtractAxes(rec domain.NormalizedRecord, family rules.Family) map[string]string {
	if axes := axesFrom(rec.Attributes, family); len(axes) > 0 {
		return axes
	}
	if len(rec.Variants) > 0 {
		if axes := axesFrom(rec.Variants[0], family); len(axes) > 0 {
			return axes
		}
	}
	if len(family.SizeAxes) == 2 {
		if w, l, ok := textnorm.ParseSize(rec.Name); ok {
			return map[string]string{
				family.SizeAxes[0]: strconv.Itoa(w),
				family.SizeAxes[1]: strconv.Itoa(l),
			}
		}
	}
	return map[string]string{}
}

func axesFrom(bag map[string]any, family rules.Family) map[string]string {
	out := map[string]string{}
	for k, v := range bag {
		axis, ok := family.AxisKey(k)
		if !ok {
			continue
		}
		if val := textnorm.NormalizeAxisValue(v); val != "" {
			out[axis] = val
		}
	}
	return out
}

// ResolveBrand finds a brand by exact name (slug) and then by alias.
func ResolveBrand(ctx context.Context, store interface {
	FindBrandByName(ctx context.Context, name string) (domain.Brand, bool, error)
	FindBrandByAlias(ctx context.Context, alias string) (domain.Brand, bool, error)
}, name string) (domain.Brand, bool, error) {
	if textnorm.Key(name) == "" {
		return domain.Brand{}, false, nil
	}
	b, ok, err := store.FindBrandByName(ctx, name)
	if err != nil || ok {
		return b, ok, err
	}
	return store.FindBrandByAlias(ctx, name)
}

func recordBags(rec domain.NormalizedRecord) []map[string]any {
	bags := []map[string]any{rec.Attributes, rec.Raw}
	if len(rec.Variants) > 0 {
		bags = append(bags, rec.Variants[0])
	}
	return bags
}

// lookupAll returns values in bag whose normalized key is one of keys, in
// keys order.
func lookupAll(bag map[string]any, keys []string) []string {
	if len(bag) == 0 {
		return nil
	}
	norm := make(map[string]any, len(bag))
	for k, v := range bag {
		norm[textnorm.Key(k)] = v
	}

	var out []string
	for _, k := range keys {
		v, ok := norm[textnorm.Key(k)]
		if !ok || v == nil {
			continue
		}
		out = append(out, scalarString(v))
	}
	return out
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
