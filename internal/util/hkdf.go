package util

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFKeyLength is the size of every subkey HKDF returns.
const HKDFKeyLength = 32

// HKDF expands secret into a 32-byte HKDF-SHA256 subkey bound to info.
// Distinct info labels yield independent subkeys from the same secret.
// An empty secret is rejected.
func HKDF(secret, salt, info []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("hkdf: empty secret")
	}
	r := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return key, nil
}
