package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jmcleod/credshield/internal/util"
)

const (
	KeySize  = util.AESKeySize
	SaltSize = 32
	IVSize   = util.GCMNonceSize
	TagSize  = util.GCMTagSize
)

// Backend is a loaded cryptographic module. Implementations must be safe
// for concurrent use once returned by a Loader.
type Backend interface {
	KDF() KDF
	DeriveKey(password, salt []byte) ([]byte, error)
	Seal(plaintext, key, iv, aad []byte) ([]byte, error)
	Open(ciphertext, key, iv, aad []byte) ([]byte, error)
}

// Loader produces a Backend. It is invoked at most once per in-flight
// initialization.
type Loader func(ctx context.Context) (Backend, error)

type nativeBackend struct {
	kdf KDFConfig
}

// NativeLoader returns a Loader for the in-process AES-GCM backend with the
// given derivation settings. Loading validates the settings and runs an
// AEAD self-test.
func NativeLoader(cfg KDFConfig) Loader {
	return func(ctx context.Context) (Backend, error) {
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("kdf config: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := &nativeBackend{kdf: cfg}
		if err := b.selfTest(); err != nil {
			return nil, fmt.Errorf("self-test: %w", err)
		}
		return b, nil
	}
}

func (b *nativeBackend) KDF() KDF {
	return b.kdf.Algorithm
}

func (b *nativeBackend) DeriveKey(password, salt []byte) ([]byte, error) {
	return b.kdf.derive(password, salt)
}

func (b *nativeBackend) Seal(plaintext, key, iv, aad []byte) ([]byte, error) {
	return util.SealAESGCM(plaintext, key, iv, aad)
}

func (b *nativeBackend) Open(ciphertext, key, iv, aad []byte) ([]byte, error) {
	return util.OpenAESGCM(ciphertext, key, iv, aad)
}

// selfTest seals and opens a fixed vector and checks that a flipped tag
// byte is rejected.
func (b *nativeBackend) selfTest() error {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	iv := bytes.Repeat([]byte{0x24}, IVSize)
	msg := []byte("credshield self-test")

	ct, err := b.Seal(msg, key, iv, nil)
	if err != nil {
		return err
	}
	pt, err := b.Open(ct, key, iv, nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(pt, msg) {
		return errors.New("aead round trip mismatch")
	}
	ct[len(ct)-1] ^= 0x01
	if _, err := b.Open(ct, key, iv, nil); err == nil {
		return errors.New("aead accepted a forged tag")
	}
	return nil
}
