package textnorm

import "strings"

// NormalizeGTIN strips separators and returns an 8, 13 or 14 digit trade
// identifier. 12-digit UPC-A codes are padded to 13 with a leading zero.
func NormalizeGTIN(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '_' || r == '/' || r == '\t':
			// separator
		default:
			return "", false
		}
	}

	s := b.String()
	switch len(s) {
	case 8, 13, 14:
		return s, true
	case 12:
		return "0" + s, true
	default:
		return "", false
	}
}

// NormalizeMPN upper-cases and trims a manufacturer part number, dropping
// inner whitespace.
func NormalizeMPN(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}
