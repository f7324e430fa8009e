package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	DefaultShortCodeLength = 6
	DefaultCharset         = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	MaxShortCodeLength     = 50
)

var shortCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// CodeGenerator produces fixed-length random short codes. It does not check
// uniqueness; the store's unique constraint does.
type CodeGenerator struct {
	Alphabet string
	Length   int
}

// NewCodeGenerator returns a generator over the default alphanumeric charset.
func NewCodeGenerator(length int) *CodeGenerator {
	if length <= 0 {
		length = DefaultShortCodeLength
	}
	return &CodeGenerator{Alphabet: DefaultCharset, Length: length}
}

// Generate returns a new code drawn from crypto/rand
func (g *CodeGenerator) Generate() (string, error) {
	if g.Length <= 0 || g.Length > MaxShortCodeLength {
		return "", fmt.Errorf("invalid code length %d", g.Length)
	}
	if len(g.Alphabet) == 0 {
		return "", fmt.Errorf("empty alphabet")
	}

	max := big.NewInt(int64(len(g.Alphabet)))
	code := make([]byte, g.Length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		code[i] = g.Alphabet[n.Int64()]
	}
	return string(code), nil
}

// IsValidShortCode reports whether code matches the accepted short code format.
func IsValidShortCode(code string) bool {
	return shortCodePattern.MatchString(code)
}
