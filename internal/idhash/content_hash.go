package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeText lower-cases text, strips punctuation and collapses whitespace.
// Two providers republishing the same headline with different casing or
// spacing normalize to the same string.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			space = true
		}
	}
	return b.String()
}

// ComputeContentHash computes a deterministic content hash using SHA256.
// Formula: SHA256(normalize(title)|normalize(body))
// Returns hex-encoded hash (64 characters).
func ComputeContentHash(title, body string) string {
	data := NormalizeText(title) + "|" + NormalizeText(body)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
