package engine

import "errors"

var (
	// ErrEngineUnavailable indicates the module failed to load or is not
	// initialized. Retrying Initialize is safe.
	ErrEngineUnavailable = errors.New("crypto engine unavailable")
	// ErrInvalidParameters indicates a key, salt or iv of the wrong size.
	ErrInvalidParameters = errors.New("invalid crypto parameters")
	// ErrDecryptionFailed indicates an authentication failure on open.
	ErrDecryptionFailed = errors.New("decryption failed")
)
