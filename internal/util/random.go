package util

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// ErrRandomness is returned whenever the secure random source fails or
// returns short. There is no fallback source.
var ErrRandomness = errors.New("secure randomness unavailable")

var (
	alphanumericChars = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
)

// ReadRandom fills a new n-byte slice from rnd. A nil rnd means crypto/rand.
func ReadRandom(rnd io.Reader, n int) ([]byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rnd, b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRandomness, err)
	}
	return b, nil
}

func RandomBytes(n int) ([]byte, error) {
	return ReadRandom(nil, n)
}

func RandomIntn(rnd io.Reader, max int) (int, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	n, err := rand.Int(rnd, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRandomness, err)
	}
	return int(n.Int64()), nil
}

// RandomAlphanumeric returns n characters drawn uniformly from [a-zA-Z0-9].
func RandomAlphanumeric(rnd io.Reader, n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := RandomIntn(rnd, len(alphanumericChars))
		if err != nil {
			return "", err
		}
		sb.WriteRune(alphanumericChars[idx])
	}
	return sb.String(), nil
}
