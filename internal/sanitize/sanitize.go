// Package sanitize validates caller-supplied identifiers and makes them
// safe to embed in NATS subjects.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxTokenLength bounds a single subject token.
	MaxTokenLength = 128

	// HashSuffixLength is the length of the "_<8 hex>" suffix added to
	// truncated tokens.
	HashSuffixLength = 9

	// EmptyToken replaces an identifier that sanitizes to nothing.
	EmptyToken = "_"
)

// SubjectToken returns s with NATS subject separators and wildcards
// replaced by underscores, so it always occupies exactly one token.
//
// Examples:
//
//	"user-1"  -> "user-1"
//	"a.b*c"   -> "a_b_c"
//	"x > y"   -> "x___y"
//
// Tokens longer than MaxTokenLength are truncated with a hash suffix, so
// distinct long IDs stay distinct.
func SubjectToken(s string) string {
	if s == "" {
		return EmptyToken
	}
	token := strings.Map(func(r rune) rune {
		switch {
		case r == '.', r == '*', r == '>', unicode.IsSpace(r), unicode.IsControl(r):
			return '_'
		}
		return r
	}, s)
	if len(token) > MaxTokenLength {
		token = truncateWithHash(token)
	}
	return token
}

// truncateWithHash keeps at most MaxTokenLength-HashSuffixLength bytes,
// cut on a rune boundary, and appends the first 8 hex digits of the
// SHA-256 of the full token.
func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	n := MaxTokenLength - HashSuffixLength
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "_" + hex.EncodeToString(sum[:4])
}
