// Package token generates and validates the short alphanumeric identifiers
// bytebin hands back to clients as content keys and modification keys.
package token

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var validPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Generator produces cryptographically random alphanumeric strings of a
// fixed length.
type Generator struct {
	length int
}

// NewGenerator returns a Generator producing strings of the given length.
// A non-positive length defaults to 7, matching bytebin's historical key
// length.
func NewGenerator(length int) *Generator {
	if length <= 0 {
		length = 7
	}
	return &Generator{length: length}
}

// Generate returns a fresh random key.
func (g *Generator) Generate() (string, error) {
	return random(g.length)
}

// ModificationKey returns a fresh 32-character random auth key, independent
// of the generator's configured content-key length.
func (g *Generator) ModificationKey() (string, error) {
	return random(32)
}

func random(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Valid reports whether s matches the key shape bytebin requires of both
// content keys and (incidentally) modification keys: one or more
// alphanumeric characters.
func Valid(s string) bool {
	return s != "" && validPattern.MatchString(s)
}
