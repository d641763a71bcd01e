package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/credshield/internal/util"
)

// State is the lifecycle state of an Engine.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// errClosedDuringLoad is returned to callers of a load that Close overtook.
var errClosedDuringLoad = errors.New("engine closed during initialization")

// Engine is the process-wide owner of the cryptographic backend. Create one
// with New, share it between clients, and release it with Close.
type Engine struct {
	loader Loader
	logger *slog.Logger
	rand   io.Reader

	flight singleflight.Group
	// waiting counts callers joined to an in-flight load.
	waiting atomic.Int32

	mu      sync.RWMutex
	state   State
	backend Backend
	lastErr error
	// gen advances on Close; a load only commits if gen is unchanged.
	gen uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRandom replaces the secure random source used by RandomString.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) {
		e.rand = r
	}
}

// New returns an uninitialized Engine that loads its backend with loader.
func New(loader Loader, opts ...Option) *Engine {
	e := &Engine{loader: loader}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Err returns the error recorded by the most recent failed load, if any.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Initialize loads the backend if needed. It returns immediately when the
// engine is Ready. Concurrent callers share one in-flight load and receive
// the same result. A caller whose ctx ends stops waiting, but the shared
// load keeps running for the others.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.RLock()
	state, gen := e.state, e.gen
	e.mu.RUnlock()
	if state == StateReady {
		return nil
	}

	ch := e.flight.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return nil, e.load(context.WithoutCancel(ctx), gen)
	})
	e.waiting.Add(1)
	defer e.waiting.Add(-1)

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

func (e *Engine) load(ctx context.Context, gen uint64) error {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, errClosedDuringLoad)
	}
	if e.state == StateReady {
		e.mu.Unlock()
		return nil
	}
	e.state = StateInitializing
	e.mu.Unlock()

	var (
		backend Backend
		err     error
	)
	if e.loader == nil {
		err = errors.New("no loader configured")
	} else {
		backend, err = e.loader(ctx)
	}
	if err == nil && backend == nil {
		err = errors.New("loader returned no backend")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		if c, ok := backend.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				e.logger.WarnContext(ctx, "closing discarded crypto backend", "error", cerr)
			}
		}
		e.logger.DebugContext(ctx, "discarding crypto engine load overtaken by Close")
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, errClosedDuringLoad)
	}
	if err != nil {
		e.state = StateFailed
		e.lastErr = fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
		e.logger.WarnContext(ctx, "crypto engine initialization failed", "error", err)
		return e.lastErr
	}
	e.state = StateReady
	e.backend = backend
	e.lastErr = nil
	e.logger.DebugContext(ctx, "crypto engine ready", "kdf", string(backend.KDF()))
	return nil
}

// Close tears the engine down to Uninitialized. A backend implementing
// io.Closer is closed. A load still in flight is discarded when it
// finishes. The engine may be initialized again afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	var err error
	if c, ok := e.backend.(io.Closer); ok {
		err = c.Close()
	}
	e.backend = nil
	e.state = StateUninitialized
	e.lastErr = nil
	return err
}

func (e *Engine) ready() (Backend, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateReady || e.backend == nil {
		return nil, fmt.Errorf("%w: engine is %s", ErrEngineUnavailable, e.state)
	}
	return e.backend, nil
}

// KDF reports the derivation function of the loaded backend.
func (e *Engine) KDF() (KDF, error) {
	b, err := e.ready()
	if err != nil {
		return "", err
	}
	return b.KDF(), nil
}

// DeriveKey derives a KeySize key from password and salt. The result is
// deterministic for a given (password, salt) pair.
func (e *Engine) DeriveKey(password, salt []byte) ([]byte, error) {
	b, err := e.ready()
	if err != nil {
		return nil, err
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt is %d bytes, want %d", ErrInvalidParameters, len(salt), SaltSize)
	}
	key, err := b.DeriveKey(password, salt)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	if len(key) != KeySize {
		util.WipeBytes(key)
		return nil, fmt.Errorf("%w: backend derived %d-byte key", ErrInvalidParameters, len(key))
	}
	return key, nil
}

// DeriveFieldKey expands a derived key into an independent subkey for one
// envelope field so that fields sharing an iv never share a (key, iv) pair.
func (e *Engine) DeriveFieldKey(key []byte, field string) ([]byte, error) {
	if _, err := e.ready(); err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrInvalidParameters, len(key), KeySize)
	}
	if field == "" {
		return nil, fmt.Errorf("%w: empty field label", ErrInvalidParameters)
	}
	return util.HKDF(key, nil, []byte(FieldInfo(field)))
}

// FieldInfo is the HKDF info string for an envelope field.
//
// Envelopes built with these subkeys are not wire-compatible with a server
// that expects the older scheme: a key of SHA-256(password || base64 salt),
// used for both fields without AAD. Such a server rejects every envelope
// this package produces; its receiving side must derive per-field subkeys
// with this info string and pass the field name as AAD.
func FieldInfo(field string) string {
	return "credshield/v1/" + field
}

func checkKeyIV(key, iv []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: key is %d bytes, want %d", ErrInvalidParameters, len(key), KeySize)
	}
	if len(iv) != IVSize {
		return fmt.Errorf("%w: iv is %d bytes, want %d", ErrInvalidParameters, len(iv), IVSize)
	}
	return nil
}

// Encrypt seals plaintext and returns ciphertext || tag.
func (e *Engine) Encrypt(plaintext, key, iv, aad []byte) ([]byte, error) {
	b, err := e.ready()
	if err != nil {
		return nil, err
	}
	if err := checkKeyIV(key, iv); err != nil {
		return nil, err
	}
	ct, err := b.Seal(plaintext, key, iv, aad)
	if err != nil {
		return nil, fmt.Errorf("sealing: %w", err)
	}
	return ct, nil
}

// Decrypt opens ciphertext || tag. Any authentication failure returns
// ErrDecryptionFailed and no plaintext.
func (e *Engine) Decrypt(ciphertext, key, iv, aad []byte) ([]byte, error) {
	b, err := e.ready()
	if err != nil {
		return nil, err
	}
	if err := checkKeyIV(key, iv); err != nil {
		return nil, err
	}
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", ErrDecryptionFailed)
	}
	pt, err := b.Open(ciphertext, key, iv, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return pt, nil
}

// RandomString returns n alphanumeric characters from the secure source.
func (e *Engine) RandomString(n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("%w: negative length", ErrInvalidParameters)
	}
	return util.RandomAlphanumeric(e.rand, n)
}
