package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/credshield/internal/util"
)

func testKDFConfig() KDFConfig {
	return KDFConfig{
		Algorithm: KDFArgon2id,
		Argon2id: util.Argon2idParams{
			Time:        util.MinArgon2Time,
			MemoryKiB:   util.MinArgon2MemoryKiB,
			Parallelism: 1,
			KeyLen:      32,
		},
	}
}

func readyEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(NativeLoader(testKDFConfig()))
	require.NoError(t, e.Initialize(t.Context()))
	return e
}

func mustRandom(t *testing.T, n int) []byte {
	t.Helper()
	b, err := util.RandomBytes(n)
	require.NoError(t, err)
	return b
}

func TestInitialize_Idempotent(t *testing.T) {
	var calls atomic.Int32
	loader := func(ctx context.Context) (Backend, error) {
		calls.Add(1)
		return NativeLoader(testKDFConfig())(ctx)
	}
	e := New(loader)
	assert.Equal(t, StateUninitialized, e.State())

	require.NoError(t, e.Initialize(t.Context()))
	require.NoError(t, e.Initialize(t.Context()))
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, int32(1), calls.Load())
}

func TestInitialize_ConcurrentCallersShareOneLoad(t *testing.T) {
	const n = 16
	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (Backend, error) {
		calls.Add(1)
		<-release
		return NativeLoader(testKDFConfig())(ctx)
	}
	e := New(loader)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.Initialize(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool {
		return e.waiting.Load() == n && e.State() == StateInitializing
	}, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, StateReady, e.State())
}

func TestInitialize_ConcurrentFailureSharedThenRetried(t *testing.T) {
	const n = 8
	var calls atomic.Int32
	release := make(chan struct{})
	boom := errors.New("module fetch failed")
	fail := atomic.Bool{}
	fail.Store(true)
	loader := func(ctx context.Context) (Backend, error) {
		calls.Add(1)
		<-release
		if fail.Load() {
			return nil, boom
		}
		return NativeLoader(testKDFConfig())(ctx)
	}
	e := New(loader)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.Initialize(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool { return e.waiting.Load() == n }, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEngineUnavailable)
		assert.ErrorIs(t, err, boom)
		assert.Same(t, errs[0], err)
	}
	assert.Equal(t, StateFailed, e.State())
	assert.ErrorIs(t, e.Err(), boom)

	fail.Store(false)
	require.NoError(t, e.Initialize(t.Context()))
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, int32(2), calls.Load())
	assert.NoError(t, e.Err())
}

func TestInitialize_CallerCancellationDoesNotAbortSharedLoad(t *testing.T) {
	release := make(chan struct{})
	loader := func(ctx context.Context) (Backend, error) {
		<-release
		return NativeLoader(testKDFConfig())(ctx)
	}
	e := New(loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Initialize(ctx) }()
	require.Eventually(t, func() bool { return e.waiting.Load() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	err := <-done
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, e.Initialize(t.Context()))
	assert.Equal(t, StateReady, e.State())
}

func TestInitialize_InvalidKDFConfig(t *testing.T) {
	cfg := testKDFConfig()
	cfg.Argon2id.MemoryKiB = 8
	e := New(NativeLoader(cfg))
	err := e.Initialize(t.Context())
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Equal(t, StateFailed, e.State())
}

func TestOperationsRequireReady(t *testing.T) {
	e := New(NativeLoader(testKDFConfig()))
	_, err := e.DeriveKey([]byte("pw"), make([]byte, SaltSize))
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	_, err = e.Encrypt([]byte("x"), make([]byte, KeySize), make([]byte, IVSize), nil)
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	_, err = e.KDF()
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestClose_ReturnsToUninitialized(t *testing.T) {
	e := readyEngine(t)
	require.NoError(t, e.Close())
	assert.Equal(t, StateUninitialized, e.State())
	_, err := e.DeriveKey([]byte("pw"), make([]byte, SaltSize))
	assert.ErrorIs(t, err, ErrEngineUnavailable)

	require.NoError(t, e.Initialize(t.Context()))
	assert.Equal(t, StateReady, e.State())
}

func TestDeriveKey(t *testing.T) {
	for _, algo := range []KDF{KDFArgon2id, KDFPBKDF2SHA256} {
		t.Run(string(algo), func(t *testing.T) {
			cfg := testKDFConfig()
			cfg.Algorithm = algo
			cfg.PBKDF2Iterations = 1000
			e := New(NativeLoader(cfg))
			require.NoError(t, e.Initialize(t.Context()))

			salt := mustRandom(t, SaltSize)
			k1, err := e.DeriveKey([]byte("secret123"), salt)
			require.NoError(t, err)
			k2, err := e.DeriveKey([]byte("secret123"), salt)
			require.NoError(t, err)
			assert.Len(t, k1, KeySize)
			assert.Equal(t, k1, k2)

			k3, err := e.DeriveKey([]byte("secret123"), mustRandom(t, SaltSize))
			require.NoError(t, err)
			assert.NotEqual(t, k1, k3)

			got, err := e.KDF()
			require.NoError(t, err)
			assert.Equal(t, algo, got)
		})
	}
}

func TestDeriveKey_RejectsBadSalt(t *testing.T) {
	e := readyEngine(t)
	_, err := e.DeriveKey([]byte("pw"), []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestDeriveFieldKey(t *testing.T) {
	e := readyEngine(t)
	key := mustRandom(t, KeySize)

	u1, err := e.DeriveFieldKey(key, "username")
	require.NoError(t, err)
	u2, err := e.DeriveFieldKey(key, "username")
	require.NoError(t, err)
	p, err := e.DeriveFieldKey(key, "password")
	require.NoError(t, err)

	assert.Equal(t, u1, u2)
	assert.NotEqual(t, u1, p)
	assert.NotEqual(t, key, u1)

	_, err = e.DeriveFieldKey(key[:5], "username")
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = e.DeriveFieldKey(key, "")
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestEncryptDecrypt(t *testing.T) {
	e := readyEngine(t)
	key := mustRandom(t, KeySize)
	iv := mustRandom(t, IVSize)
	aad := []byte("password")
	msg := []byte("secret123")

	ct, err := e.Encrypt(msg, key, iv, aad)
	require.NoError(t, err)
	assert.Len(t, ct, len(msg)+TagSize)

	pt, err := e.Decrypt(ct, key, iv, aad)
	require.NoError(t, err)
	assert.Equal(t, msg, pt)

	t.Run("WrongKey", func(t *testing.T) {
		pt, err := e.Decrypt(ct, mustRandom(t, KeySize), iv, aad)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
		assert.Nil(t, pt)
	})

	t.Run("TamperEveryByte", func(t *testing.T) {
		for i := range ct {
			bad := bytes.Clone(ct)
			bad[i] ^= 0x80
			pt, err := e.Decrypt(bad, key, iv, aad)
			assert.ErrorIs(t, err, ErrDecryptionFailed, "byte %d", i)
			assert.Nil(t, pt)
		}
	})

	t.Run("TamperIV", func(t *testing.T) {
		bad := bytes.Clone(iv)
		bad[0] ^= 0x01
		_, err := e.Decrypt(ct, key, bad, aad)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := e.Decrypt(ct, key, iv, []byte("username"))
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := e.Decrypt(ct[:TagSize-1], key, iv, aad)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestEncrypt_InvalidParameters(t *testing.T) {
	e := readyEngine(t)
	tests := []struct {
		name string
		key  []byte
		iv   []byte
	}{
		{"ShortKey", make([]byte, 16), make([]byte, IVSize)},
		{"LongIV", make([]byte, KeySize), make([]byte, 16)},
		{"EmptyIV", make([]byte, KeySize), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Encrypt([]byte("x"), tc.key, tc.iv, nil)
			assert.ErrorIs(t, err, ErrInvalidParameters)
			_, err = e.Decrypt(make([]byte, 32), tc.key, tc.iv, nil)
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
}

func TestRandomString(t *testing.T) {
	e := New(nil)
	s1, err := e.RandomString(20)
	require.NoError(t, err)
	s2, err := e.RandomString(20)
	require.NoError(t, err)
	assert.Len(t, s1, 20)
	assert.NotEqual(t, s1, s2)

	_, err = e.RandomString(-1)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestParseKDF(t *testing.T) {
	k, err := ParseKDF(" Argon2id ")
	require.NoError(t, err)
	assert.Equal(t, KDFArgon2id, k)
	k, err = ParseKDF("pbkdf2-sha256")
	require.NoError(t, err)
	assert.Equal(t, KDFPBKDF2SHA256, k)
	_, err = ParseKDF("md5")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestClose_DuringLoadDiscardsResult(t *testing.T) {
	release := make(chan struct{})
	var loads atomic.Int32
	var closed *closerBackend
	loader := func(ctx context.Context) (Backend, error) {
		n := loads.Add(1)
		b, err := NativeLoader(testKDFConfig())(ctx)
		if err != nil {
			return nil, err
		}
		cb := &closerBackend{Backend: b}
		if n == 1 {
			closed = cb
			<-release
		}
		return cb, nil
	}
	e := New(loader)

	done := make(chan error, 1)
	go func() { done <- e.Initialize(t.Context()) }()
	require.Eventually(t, func() bool { return e.State() == StateInitializing }, 5*time.Second, time.Millisecond)

	require.NoError(t, e.Close())
	close(release)

	err := <-done
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Equal(t, StateUninitialized, e.State())
	require.NotNil(t, closed)
	assert.True(t, closed.closed.Load(), "overtaken backend should be closed")

	require.NoError(t, e.Initialize(t.Context()))
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, int32(2), loads.Load())
}

func TestFieldInfo(t *testing.T) {
	assert.Equal(t, "credshield/v1/username", FieldInfo("username"))
	assert.Equal(t, "credshield/v1/password", FieldInfo("password"))
	assert.NotEqual(t, FieldInfo("username"), FieldInfo("password"))
}

type closerBackend struct {
	Backend
	closed atomic.Bool
}

func (c *closerBackend) Close() error {
	c.closed.Store(true)
	return nil
}
