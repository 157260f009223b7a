// Package address canonicalizes the address strings that clients log in
// with, so the same logical identity always maps to one lookup key no matter
// which login path supplied it or how it was cased.
package address

import "strings"

// Normalize trims surrounding whitespace and case-folds an address into its
// lookup key. It never fails; an empty or all-whitespace input yields "".
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Equal reports whether two addresses normalize to the same key.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
