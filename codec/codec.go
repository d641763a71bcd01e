// Package codec assembles and validates the encrypted credential envelope
// carried by login requests.
//
// Every envelope gets a fresh 32-byte salt and a fresh 12-byte iv from the
// secure random source. A key is derived from the key material and salt,
// each field is sealed under its own HKDF subkey with the field name as
// AAD, and the iv is shared by the two fields. See engine.FieldInfo for the
// subkey labels a receiving server must use; the single-key, no-AAD scheme
// keyed by SHA-256(password || base64 salt) cannot open these envelopes.
package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/credshield/engine"
	"github.com/jmcleod/credshield/internal/util"
)

const (
	FieldUsername = "username"
	FieldPassword = "password"
)

var (
	// ErrRandomnessUnavailable indicates the secure random source failed.
	// There is no fallback to a weaker source.
	ErrRandomnessUnavailable = errors.New("secure randomness unavailable")
	// ErrMalformedEnvelope indicates an envelope with missing or
	// wrongly-sized fields.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Envelope is the encrypted half of a login request. Byte fields marshal to
// standard base64 in JSON.
type Envelope struct {
	EncryptedUsername []byte     `json:"encrypted_username"`
	EncryptedPassword []byte     `json:"encrypted_password"`
	Salt              []byte     `json:"salt"`
	IV                []byte     `json:"iv"`
	KDF               engine.KDF `json:"kdf"`
}

// Validate checks field presence and sizes without decrypting.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrMalformedEnvelope)
	}
	if len(e.Salt) != engine.SaltSize {
		return fmt.Errorf("%w: salt is %d bytes, want %d", ErrMalformedEnvelope, len(e.Salt), engine.SaltSize)
	}
	if len(e.IV) != engine.IVSize {
		return fmt.Errorf("%w: iv is %d bytes, want %d", ErrMalformedEnvelope, len(e.IV), engine.IVSize)
	}
	if len(e.EncryptedUsername) < engine.TagSize || len(e.EncryptedPassword) < engine.TagSize {
		return fmt.Errorf("%w: ciphertext shorter than tag", ErrMalformedEnvelope)
	}
	if _, err := engine.ParseKDF(string(e.KDF)); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return nil
}

// Codec builds envelopes with a shared, already-initialized Engine.
type Codec struct {
	engine *engine.Engine
	rand   io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithRandom replaces the secure random source. Intended for tests.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		c.rand = r
	}
}

func New(e *engine.Engine, opts ...Option) *Codec {
	c := &Codec{engine: e}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) random(n int) ([]byte, error) {
	b, err := util.ReadRandom(c.rand, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRandomnessUnavailable, err)
	}
	return b, nil
}

// deriveKey returns the derived key in a locked buffer the caller destroys.
func (c *Codec) deriveKey(keyMaterial, salt []byte) (*memguard.LockedBuffer, error) {
	key, err := c.engine.DeriveKey(keyMaterial, salt)
	if err != nil {
		return nil, err
	}
	// NewBufferFromBytes wipes key.
	return memguard.NewBufferFromBytes(key), nil
}

func (c *Codec) sealField(key []byte, field string, plaintext, iv []byte) ([]byte, error) {
	sub, err := c.engine.DeriveFieldKey(key, field)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(sub)
	return c.engine.Encrypt(plaintext, sub, iv, []byte(field))
}

func (c *Codec) openField(key []byte, field string, ciphertext, iv []byte) ([]byte, error) {
	sub, err := c.engine.DeriveFieldKey(key, field)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(sub)
	return c.engine.Decrypt(ciphertext, sub, iv, []byte(field))
}

// MakeEnvelope encrypts username and password under a key derived from
// keyMaterial and a fresh salt. Salt and iv are never reused across calls.
func (c *Codec) MakeEnvelope(username, password, keyMaterial []byte) (*Envelope, error) {
	kdf, err := c.engine.KDF()
	if err != nil {
		return nil, err
	}
	salt, err := c.random(engine.SaltSize)
	if err != nil {
		return nil, err
	}
	iv, err := c.random(engine.IVSize)
	if err != nil {
		return nil, err
	}

	key, err := c.deriveKey(keyMaterial, salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	encUser, err := c.sealField(key.Bytes(), FieldUsername, username, iv)
	if err != nil {
		return nil, fmt.Errorf("sealing username: %w", err)
	}
	encPass, err := c.sealField(key.Bytes(), FieldPassword, password, iv)
	if err != nil {
		return nil, fmt.Errorf("sealing password: %w", err)
	}

	return &Envelope{
		EncryptedUsername: encUser,
		EncryptedPassword: encPass,
		Salt:              salt,
		IV:                iv,
		KDF:               kdf,
	}, nil
}

// Open reverses MakeEnvelope given the same key material. It is the
// server-side half of the contract. Any tampering fails closed with
// engine.ErrDecryptionFailed.
func (c *Codec) Open(env *Envelope, keyMaterial []byte) (username, password []byte, err error) {
	if err := env.Validate(); err != nil {
		return nil, nil, err
	}
	kdf, err := c.engine.KDF()
	if err != nil {
		return nil, nil, err
	}
	if env.KDF != kdf {
		return nil, nil, fmt.Errorf("%w: envelope kdf %q, engine kdf %q", ErrMalformedEnvelope, env.KDF, kdf)
	}

	key, err := c.deriveKey(keyMaterial, env.Salt)
	if err != nil {
		return nil, nil, err
	}
	defer key.Destroy()

	username, err = c.openField(key.Bytes(), FieldUsername, env.EncryptedUsername, env.IV)
	if err != nil {
		return nil, nil, fmt.Errorf("opening username: %w", err)
	}
	password, err = c.openField(key.Bytes(), FieldPassword, env.EncryptedPassword, env.IV)
	if err != nil {
		util.WipeBytes(username)
		return nil, nil, fmt.Errorf("opening password: %w", err)
	}
	return username, password, nil
}
