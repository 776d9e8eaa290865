// Package address canonicalizes free-form addresses into the query string the
// county search accepts.
package address

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultStripTokens lists the Pinellas municipalities and state names removed
// before searching. The county search matches on street address only.
var DefaultStripTokens = []string{
	"BELLEAIR BEACH",
	"BELLEAIR BLUFFS",
	"BELLEAIR SHORE",
	"BELLEAIR",
	"CLEARWATER",
	"DUNEDIN",
	"GULFPORT",
	"INDIAN ROCKS BEACH",
	"INDIAN SHORES",
	"KENNETH CITY",
	"LARGO",
	"MADEIRA BEACH",
	"NORTH REDINGTON BEACH",
	"OLDSMAR",
	"PALM HARBOR",
	"PINELLAS PARK",
	"REDINGTON BEACH",
	"REDINGTON SHORES",
	"SAFETY HARBOR",
	"SEMINOLE",
	"SOUTH PASADENA",
	"ST PETERSBURG",
	"ST. PETERSBURG",
	"SAINT PETERSBURG",
	"ST PETE BEACH",
	"ST. PETE BEACH",
	"TARPON SPRINGS",
	"TREASURE ISLAND",
	"FLORIDA",
	"FL",
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalizer strips a configured set of municipality/state tokens.
type Normalizer struct {
	patterns []*regexp.Regexp
}

// NewNormalizer compiles tokens into word-bounded, case-insensitive matchers.
// Longer tokens are applied first so "BELLEAIR BEACH" is removed whole rather
// than leaving "BEACH" behind once "BELLEAIR" matched.
func NewNormalizer(tokens []string) *Normalizer {
	cleaned := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		cleaned = append(cleaned, tok)
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		return len(cleaned[i]) > len(cleaned[j])
	})

	patterns := make([]*regexp.Regexp, 0, len(cleaned))
	for _, tok := range cleaned {
		parts := strings.Fields(tok)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		// A token ending in punctuation ("ST.") has no trailing word boundary.
		expr := `(?i)(^|[^\pL\pN_])` + strings.Join(parts, `\s+`)
		if last := tok[len(tok)-1]; isWordByte(last) {
			expr += `($|[^\pL\pN_])`
		} else {
			expr += `()`
		}
		patterns = append(patterns, regexp.MustCompile(expr))
	}
	return &Normalizer{patterns: patterns}
}

// Normalize uppercases raw, removes every configured token, turns commas into
// spaces, and collapses whitespace. It never fails; the result may be empty.
func (n *Normalizer) Normalize(raw string) string {
	out := strings.ToUpper(raw)
	out = strings.ReplaceAll(out, ",", " ")
	// Removing one token can bring two others together ("ST ST PETE BEACH
	// PETERSBURG"), so passes repeat until nothing matches.
	for changed := true; changed; {
		changed = false
		for _, re := range n.patterns {
			next := re.ReplaceAllString(out, "$1 $2")
			if next != out {
				out = next
				changed = true
			}
		}
	}
	out = whitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
