// Package engine owns the lifecycle of the client-side cryptographic module
// and exposes its key derivation and authenticated encryption primitives.
//
// An Engine starts Uninitialized. Initialize loads the Backend exactly once:
// concurrent callers join the in-flight load and observe the same outcome.
// A failed load leaves the engine Failed and the next Initialize retries.
//
// The derivation function (Argon2id or PBKDF2-SHA256), the per-field subkey
// schedule and the AEAD (AES-256-GCM, 12-byte iv, 16-byte tag) form part of
// the login wire contract; a server decrypting envelopes must use the same.
package engine
