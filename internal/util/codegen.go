package util

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	ErrInvalidLength    = errors.New("code length must be positive")
	ErrNegativeSequence = errors.New("sequence value must be non-negative")
	ErrInvalidCharacter = errors.New("invalid base62 character")
)

var (
	base62Radix = big.NewInt(int64(len(base62Chars)))
	charIndex   [256]int
)

func init() {
	for i := range charIndex {
		charIndex[i] = -1
	}
	for i := 0; i < len(base62Chars); i++ {
		charIndex[base62Chars[i]] = i
	}
}

// Generate returns length symbols drawn from the base62 alphabet using crypto/rand.
func Generate(length int) (string, error) {
	return generateFrom(rand.Reader, length)
}

func generateFrom(r io.Reader, length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = base62Chars[int(b)%len(base62Chars)]
	}
	return string(buf), nil
}

// EncodeSequential converts n to base62, most significant symbol first.
func EncodeSequential(n *big.Int) (string, error) {
	if n == nil || n.Sign() < 0 {
		return "", ErrNegativeSequence
	}
	if n.Sign() == 0 {
		return "0", nil
	}
	var (
		out []byte
		q   = new(big.Int).Set(n)
		r   = new(big.Int)
	)
	for q.Sign() > 0 {
		q.QuoRem(q, base62Radix, r)
		out = append(out, base62Chars[r.Int64()])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

// DecodeSequential is the inverse of EncodeSequential. Leading '0' symbols are ignored.
func DecodeSequential(code string) (*big.Int, error) {
	if code == "" {
		return nil, ErrInvalidCharacter
	}
	n := new(big.Int)
	for i := 0; i < len(code); i++ {
		v := charIndex[code[i]]
		if v < 0 {
			return nil, fmt.Errorf("%w: %q at %d", ErrInvalidCharacter, code[i], i)
		}
		n.Mul(n, base62Radix)
		n.Add(n, big.NewInt(int64(v)))
	}
	return n, nil
}

// DeterministicCode folds a SHA-256 digest of raw into a length-symbol code,
// two bytes per symbol. The digest is re-hashed when more bytes are needed.
func DeterministicCode(raw string, length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}
	sum := sha256.Sum256([]byte(raw))
	stream := sum[:]
	for len(stream) < 2*length {
		next := sha256.Sum256(stream[len(stream)-sha256.Size:])
		stream = append(stream, next[:]...)
	}
	out := make([]byte, length)
	for i := range out {
		pair := int(stream[2*i])<<8 | int(stream[2*i+1])
		out[i] = base62Chars[pair%len(base62Chars)]
	}
	return string(out), nil
}

// IsCode reports whether s is non-empty and made only of base62 symbols.
func IsCode(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if charIndex[s[i]] < 0 {
			return false
		}
	}
	return true
}
