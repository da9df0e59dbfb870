package recognition

import "strings"

const (
	DefaultMinLength   = 3
	DefaultMaxLength   = 12
	DefaultMinDistinct = 3
)

// DefaultDenylist holds common misreads of distractor lines
var DefaultDenylist = []string{"bets", "bests", "pets", "pats", "ets", "ests", "sees", "sess", "pss", "ess"}

// Filter decides whether cleaned OCR output is worth keeping
type Filter struct {
	MinLength   int
	MaxLength   int
	MinDistinct int
	// Denylist entries are compared case-insensitively
	Denylist []string
	// JunkChars: text made only of these characters is rejected
	JunkChars string
	// DenyPrefixes are rejected case-insensitively
	DenyPrefixes []string
}

// DefaultFilter returns the filter tuned for line-crossed CAPTCHAs
func DefaultFilter() Filter {
	return Filter{
		MinLength:    DefaultMinLength,
		MaxLength:    DefaultMaxLength,
		MinDistinct:  DefaultMinDistinct,
		Denylist:     append([]string(nil), DefaultDenylist...),
		JunkChars:    "se",
		DenyPrefixes: []string{"dav"},
	}
}

// NewFilter builds the default filter with an overridden denylist and
// distinct character threshold. Zero values keep the defaults.
func NewFilter(denylist []string, minDistinct int) Filter {
	f := DefaultFilter()
	if len(denylist) > 0 {
		f.Denylist = append([]string(nil), denylist...)
	}
	if minDistinct > 0 {
		f.MinDistinct = minDistinct
	}
	return f
}

// Base keeps only the shape rules: length, alphabet and distinct characters
func (f Filter) Base() Filter {
	return Filter{MinLength: f.MinLength, MaxLength: f.MaxLength, MinDistinct: f.MinDistinct}
}

// Clean strips everything but ASCII letters and digits
func Clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Accept cleans raw and reports whether it passes the filter
func (f Filter) Accept(raw string) (string, bool) {
	text := Clean(raw)
	if text == "" {
		return "", false
	}
	if f.MinLength > 0 && len(text) < f.MinLength {
		return "", false
	}
	if f.MaxLength > 0 && len(text) > f.MaxLength {
		return "", false
	}

	lower := strings.ToLower(text)
	for _, d := range f.Denylist {
		if lower == strings.ToLower(d) {
			return "", false
		}
	}
	if f.JunkChars != "" && strings.Trim(lower, f.JunkChars) == "" {
		return "", false
	}
	for _, p := range f.DenyPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return "", false
		}
	}
	if distinct(lower) < f.MinDistinct {
		return "", false
	}
	return text, true
}

func distinct(s string) int {
	var seen [256]bool
	n := 0
	for i := 0; i < len(s); i++ {
		if !seen[s[i]] {
			seen[s[i]] = true
			n++
		}
	}
	return n
}
