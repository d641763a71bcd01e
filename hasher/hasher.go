// Package hasher computes the password verification digest sent alongside
// the encrypted login envelope. The digest takes no salt: it is compared
// against a server-held reference and is never used as key material.
package hasher

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/jmcleod/credshield/internal/util"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// Digest is a SHA-256 verification digest.
type Digest [Size]byte

// String returns the standard base64 wire form.
func (d Digest) String() string {
	return util.Base64Encode(d[:])
}

// ParseDigest decodes the base64 wire form.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := util.Base64Decode(s)
	if err != nil {
		return d, fmt.Errorf("decoding digest: %w", err)
	}
	if len(b) != Size {
		return d, fmt.Errorf("digest is %d bytes, want %d", len(b), Size)
	}
	copy(d[:], b)
	return d, nil
}

// Hash returns the deterministic digest of password.
func Hash(password []byte) Digest {
	return sha256.Sum256(password)
}

// Verify recomputes the digest of password and compares it with d in
// constant time.
func Verify(password []byte, d Digest) bool {
	got := Hash(password)
	return subtle.ConstantTimeCompare(got[:], d[:]) == 1
}

// VerifyString is Verify for the base64 wire form. A malformed digest never
// matches.
func VerifyString(password []byte, encoded string) bool {
	d, err := ParseDigest(encoded)
	if err != nil {
		return false
	}
	return Verify(password, d)
}
