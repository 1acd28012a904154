package onboarding

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

const (
	// tokenLetters has 24 letters: no I, no O.
	tokenLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	// tokenDigits has 8 digits: no 0, no 1.
	tokenDigits = "23456789"

	tokenLen = 6

	// maxTokenAttempts bounds regeneration on collision.
	maxTokenAttempts = 10
)

// NewToken draws a token of three letters and three digits from r, usually
// crypto/rand.Reader.
func NewToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	var b strings.Builder
	b.Grow(tokenLen)
	for i := 0; i < tokenLen; i++ {
		alphabet := tokenLetters
		if i >= 3 {
			alphabet = tokenDigits
		}
		ch, err := pick(r, alphabet)
		if err != nil {
			return "", fmt.Errorf("token entropy: %w", err)
		}
		b.WriteByte(ch)
	}
	return b.String(), nil
}

// pick draws one character uniformly, rejecting bytes past the last full
// multiple of the alphabet size.
func pick(r io.Reader, alphabet string) (byte, error) {
	limit := 256 - 256%len(alphabet)
	var buf [1]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		if int(buf[0]) < limit {
			return alphabet[int(buf[0])%len(alphabet)], nil
		}
	}
}

// NormalizeToken trims and upper-cases user input.
func NormalizeToken(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidToken reports whether s has the token shape.
func ValidToken(s string) bool {
	if len(s) != tokenLen {
		return false
	}
	for i := 0; i < tokenLen; i++ {
		alphabet := tokenLetters
		if i >= 3 {
			alphabet = tokenDigits
		}
		if !strings.ContainsRune(alphabet, rune(s[i])) {
			return false
		}
	}
	return true
}
