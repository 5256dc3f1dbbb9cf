// Package phone canonicalizes phone numbers and expands them into the set of
// equivalent representations used for fuzzy lookups.
package phone

import "strings"

// Sentinel marks a pending attribution whose real phone is not known yet.
const Sentinel = "PENDING"

// DefaultCountryCode is prepended or stripped when generating variations.
const DefaultCountryCode = "55"

// Normalize strips every non-digit character. Digits are never added or removed.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsSentinel reports whether value is the "not yet known" placeholder.
func IsSentinel(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), Sentinel)
}

// Normalizer generates variations for a fixed two digit country code.
type Normalizer struct {
	CountryCode string
}

// NewNormalizer returns a Normalizer, falling back to DefaultCountryCode.
func NewNormalizer(countryCode string) Normalizer {
	countryCode = Normalize(countryCode)
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return Normalizer{CountryCode: countryCode}
}

func (n Normalizer) code() string {
	if n.CountryCode == "" {
		return DefaultCountryCode
	}
	return n.CountryCode
}

// Variations returns the bounded, ordered, de-duplicated set of equivalent
// representations of raw: the canonical form, the country-code toggled form,
// and for 11+ digit numbers the trailing 11 and 10 digits.
func (n Normalizer) Variations(raw string) []string {
	canonical := Normalize(raw)
	if canonical == "" {
		return []string{}
	}
	cc := n.code()
	out := make([]string, 0, 5)
	seen := make(map[string]struct{}, 5)
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	add(canonical)
	hasCode := strings.HasPrefix(canonical, cc)
	if !hasCode && len(canonical) >= 10 {
		add(cc + canonical)
	}
	if hasCode {
		add(strings.TrimPrefix(canonical, cc))
	}
	if len(canonical) >= 11 {
		add(canonical[len(canonical)-11:])
		add(canonical[len(canonical)-10:])
	}
	return out
}

// Key returns the representation used as the unique join key for a lead:
// the canonical form with the country code present.
func (n Normalizer) Key(raw string) string {
	canonical := Normalize(raw)
	if canonical == "" {
		return ""
	}
	cc := n.code()
	if !strings.HasPrefix(canonical, cc) && len(canonical) >= 10 {
		return cc + canonical
	}
	return canonical
}

// Variations uses DefaultCountryCode.
func Variations(raw string) []string {
	return Normalizer{}.Variations(raw)
}

// Key uses DefaultCountryCode.
func Key(raw string) string {
	return Normalizer{}.Key(raw)
}
