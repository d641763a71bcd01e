package engine

import (
	"fmt"
	"strings"

	"github.com/jmcleod/credshield/internal/util"
)

// KDF names a password-based key derivation function.
type KDF string

const (
	KDFArgon2id     KDF = "argon2id"
	KDFPBKDF2SHA256 KDF = "pbkdf2-sha256"
)

// ParseKDF accepts the wire names of the supported derivation functions.
func ParseKDF(s string) (KDF, error) {
	switch KDF(strings.ToLower(strings.TrimSpace(s))) {
	case KDFArgon2id:
		return KDFArgon2id, nil
	case KDFPBKDF2SHA256:
		return KDFPBKDF2SHA256, nil
	default:
		return "", fmt.Errorf("unsupported kdf %q", s)
	}
}

// KDFConfig selects the derivation function and its cost parameters.
type KDFConfig struct {
	Algorithm        KDF                 `json:"algorithm"`
	Argon2id         util.Argon2idParams `json:"argon2id"`
	PBKDF2Iterations int                 `json:"pbkdf2_iterations"`
}

func DefaultKDFConfig() KDFConfig {
	return KDFConfig{
		Algorithm:        KDFArgon2id,
		Argon2id:         util.DefaultArgon2idParams(),
		PBKDF2Iterations: util.DefaultPBKDF2Iterations,
	}
}

func (c KDFConfig) validate() error {
	switch c.Algorithm {
	case KDFArgon2id:
		return util.ValidateArgon2idParams(c.Argon2id)
	case KDFPBKDF2SHA256:
		if c.PBKDF2Iterations <= 0 {
			return fmt.Errorf("pbkdf2 iterations must be positive")
		}
		return nil
	default:
		return fmt.Errorf("unsupported kdf %q", c.Algorithm)
	}
}

func (c KDFConfig) derive(password, salt []byte) ([]byte, error) {
	switch c.Algorithm {
	case KDFArgon2id:
		return util.DeriveArgon2idKey(password, salt, c.Argon2id)
	case KDFPBKDF2SHA256:
		return util.DerivePBKDF2Key(password, salt, c.PBKDF2Iterations)
	default:
		return nil, fmt.Errorf("unsupported kdf %q", c.Algorithm)
	}
}
