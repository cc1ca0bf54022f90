package textnorm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	minSizeValue = 30
	maxSizeValue = 400
)

// sizeToken matches "160x200", "160 х 200", "160×200", "160*200" with an
// optional unit suffix. The х is Cyrillic. Digit runs are captured whole so a
// size never starts or ends inside a longer number; sizeValue checks them.
var sizeToken = regexp.MustCompile(`(?i)(\d+)\s*[xх×*]\s*(\d+)(?:\s*(?:см|cm)\.?)?`)

// ParseSize returns the first width x length pair in s whose values both fall
// within the accepted range.
func ParseSize(s string) (width int, length int, ok bool) {
	for _, m := range sizeToken.FindAllStringSubmatch(s, -1) {
		w, wok := sizeValue(m[1])
		l, lok := sizeValue(m[2])
		if wok && lok {
			return w, l, true
		}
	}
	return 0, 0, false
}

// ExtractModelName strips size tokens from a product name.
func ExtractModelName(name string) string {
	out := sizeToken.ReplaceAllStringFunc(name, func(tok string) string {
		m := sizeToken.FindStringSubmatch(tok)
		_, wok := sizeValue(m[1])
		_, lok := sizeValue(m[2])
		if wok && lok {
			return " "
		}
		return tok
	})
	out = strings.Join(strings.Fields(out), " ")
	return strings.Trim(out, " ,;-–/")
}

// sizeValue parses a two or three digit dimension within the accepted range.
func sizeValue(digits string) (int, bool) {
	if len(digits) < 2 || len(digits) > 3 {
		return 0, false
	}
	v, err := strconv.Atoi(digits)
	if err != nil || v < minSizeValue || v > maxSizeValue {
		return 0, false
	}
	return v, true
}

var unitSuffix = regexp.MustCompile(`(?i)\s*(см|cm|мм|mm)\.?$`)

// NormalizeAxisValue renders a variant axis value in canonical form so that
// 160, "160", "160 см" and 160.0 compare equal.
func NormalizeAxisValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		s := strings.TrimSpace(x)
		s = unitSuffix.ReplaceAllString(s, "")
		if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return Key(s)
	default:
		return Key(fmt.Sprint(x))
	}
}
