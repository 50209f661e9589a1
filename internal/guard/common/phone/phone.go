// Package phone normalizes sender and callee identifiers into the canonical
// form used as the blocklist key.
package phone

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

var (
	numericForm = regexp.MustCompile(`^\+?[0-9*#]{1,20}$`)
	alphaForm   = regexp.MustCompile(`^[A-Z0-9 ._&'-]{1,32}$`)
)

// Normalize returns the canonical identifier for raw:
//   - surrounding whitespace and a tel:/sms: scheme are removed, as are URI parameters
//   - numeric identifiers keep digits, '*', '#' and a leading '+'; "00" becomes '+'
//   - identifiers containing letters are treated as alphanumeric sender IDs,
//     upper-cased with inner whitespace collapsed
//
// An empty or separator-only input yields "".
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = stripScheme(s)
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	if u, err := url.PathUnescape(s); err == nil {
		s = u
	}
	if s == "" {
		return ""
	}
	if strings.IndexFunc(s, unicode.IsLetter) >= 0 {
		return strings.ToUpper(strings.Join(strings.Fields(s), " "))
	}

	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '*', r == '#':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "00") && len(out) > 2 {
		out = "+" + out[2:]
	}
	if out == "+" {
		return ""
	}
	return out
}

// Valid reports whether id is already in canonical form and usable as a key.
func Valid(id string) bool {
	if id == "" || Normalize(id) != id {
		return false
	}
	return numericForm.MatchString(id) || alphaForm.MatchString(id)
}

func stripScheme(s string) string {
	lower := strings.ToLower(s)
	for _, scheme := range []string{"tel:", "sms:", "smsto:"} {
		if strings.HasPrefix(lower, scheme) {
			return strings.TrimSpace(s[len(scheme):])
		}
	}
	return s
}
