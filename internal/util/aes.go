package util

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

const (
	AESKeySize   = 32
	GCMNonceSize = 12
	GCMTagSize   = 16
)

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// SealAESGCM encrypts plainText under rawKey with a caller supplied nonce.
// The returned slice is ciphertext || tag. Callers own nonce uniqueness.
func SealAESGCM(plainText, rawKey, nonce, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), gcm.NonceSize())
	}
	return gcm.Seal(nil, nonce, plainText, aad), nil
}

// OpenAESGCM is the inverse of SealAESGCM. It returns no plaintext when
// authentication fails.
func OpenAESGCM(cipherText, rawKey, nonce, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), gcm.NonceSize())
	}
	if len(cipherText) < gcm.Overhead() {
		return nil, fmt.Errorf("ciphertext shorter than tag size")
	}

	plainText, err := gcm.Open(nil, nonce, cipherText, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}

// EncryptAESWithAAD seals plainText with a fresh nonce read from rnd and
// returns nonce || ciphertext || tag.
func EncryptAESWithAAD(rnd io.Reader, plainText, rawKey, aad []byte) ([]byte, error) {
	nonce, err := ReadRandom(rnd, GCMNonceSize)
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	sealed, err := SealAESGCM(plainText, rawKey, nonce, aad)
	if err != nil {
		return nil, err
	}
	return append(nonce, sealed...), nil
}
