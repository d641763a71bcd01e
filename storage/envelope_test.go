package storage

import (
	"bytes"
	"testing"

	"github.com/jmcleod/credshield/internal/util"
)

func TestEnvelope(t *testing.T) {
	key, _ := util.RandomBytes(util.AESKeySize)
	plain := []byte("top secret")
	aad := []byte("context")

	env, err := SealRecord(nil, key, plain, aad)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}

	if env.Ver != 1 {
		t.Errorf("expected version 1, got %d", env.Ver)
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}

	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("MarshalRoundTrip", func(t *testing.T) {
		raw, err := env.Marshal()
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		back, err := UnmarshalEnvelope(raw)
		if err != nil {
			t.Fatalf("UnmarshalEnvelope failed: %v", err)
		}
		got, err := OpenRecord(key, back, aad)
		if err != nil || !bytes.Equal(got, plain) {
			t.Errorf("round trip through JSON failed: %v", err)
		}
	})

	t.Run("UnmarshalGarbage", func(t *testing.T) {
		if _, err := UnmarshalEnvelope([]byte("{nope")); err == nil {
			t.Error("expected error decoding garbage")
		}
	})

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := OpenRecord(key, env, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey, _ := util.RandomBytes(util.AESKeySize)
		_, err := OpenRecord(wrongKey, env, aad)
		if err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		_, err := OpenRecord(key, &badEnv, aad)
		if err == nil {
			t.Error("expected error with unsupported version, got nil")
		}
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		badEnv := *env
		badEnv.Scheme = "unknown"
		_, err := OpenRecord(key, &badEnv, aad)
		if err == nil {
			t.Error("expected error with unsupported scheme, got nil")
		}
	})
}

func TestRecordAAD(t *testing.T) {
	a := RecordAAD("session", "user", 1)
	if !bytes.Equal(a, RecordAAD("session", "user", 1)) {
		t.Error("RecordAAD must be deterministic")
	}
	// Length prefixes keep ("ab","c") and ("a","bc") apart.
	if bytes.Equal(RecordAAD("ab", "c", 1), RecordAAD("a", "bc", 1)) {
		t.Error("RecordAAD must not be ambiguous across part boundaries")
	}
	if bytes.Equal(a, RecordAAD("session", "user", 2)) {
		t.Error("version must be bound")
	}

	key, _ := util.RandomBytes(util.AESKeySize)
	env, err := SealRecord(nil, key, []byte("tok"), RecordAAD("session", "access_token", 1))
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if _, err := OpenRecord(key, env, RecordAAD("session", "user", 1)); err == nil {
		t.Error("record moved to another key must not open")
	}
}
