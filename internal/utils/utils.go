package utils

import (
	"strings"
	"unicode/utf8"
)

// IsSubsequence reports whether the runes of query appear in s in order,
// not necessarily next to each other. An empty query matches everything.
func IsSubsequence(query, s string) bool {
	for _, q := range query {
		i := strings.IndexRune(s, q)
		if i < 0 {
			return false
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		s = s[i+size:]
	}
	return true
}
