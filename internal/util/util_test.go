package util

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy source closed") }

func TestAESGCM(t *testing.T) {
	key, _ := RandomBytes(AESKeySize)
	nonce, _ := RandomBytes(GCMNonceSize)
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("SealOpen", func(t *testing.T) {
		cipherText, err := SealAESGCM(plainText, key, nonce, aad)
		if err != nil {
			t.Fatalf("SealAESGCM failed: %v", err)
		}
		if len(cipherText) != len(plainText)+GCMTagSize {
			t.Errorf("expected %d bytes, got %d", len(plainText)+GCMTagSize, len(cipherText))
		}
		decrypted, err := OpenAESGCM(cipherText, key, nonce, aad)
		if err != nil {
			t.Fatalf("OpenAESGCM failed: %v", err)
		}
		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := SealAESGCM(plainText, key, nonce, aad)
		if _, err := OpenAESGCM(cipherText, key, nonce, []byte("wrong context")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperTag", func(t *testing.T) {
		cipherText, _ := SealAESGCM(plainText, key, nonce, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		pt, err := OpenAESGCM(cipherText, key, nonce, aad)
		if err == nil {
			t.Error("expected error with tampered tag, got nil")
		}
		if pt != nil {
			t.Error("no plaintext may be released on failure")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		if _, err := SealAESGCM(plainText, []byte("too short"), nonce, aad); err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectBadNonceSize", func(t *testing.T) {
		if _, err := SealAESGCM(plainText, key, []byte{1, 2, 3}, aad); err == nil {
			t.Error("expected error with wrong nonce size, got nil")
		}
	})

	t.Run("RandomNonceRoundTrip", func(t *testing.T) {
		cipherText, err := EncryptAESWithAAD(nil, plainText, key, aad)
		if err != nil {
			t.Fatalf("EncryptAESWithAAD failed: %v", err)
		}
		if len(cipherText) != GCMNonceSize+len(plainText)+GCMTagSize {
			t.Fatalf("unexpected sealed length %d", len(cipherText))
		}
		decrypted, err := OpenAESGCM(cipherText[GCMNonceSize:], key, cipherText[:GCMNonceSize], aad)
		if err != nil {
			t.Fatalf("OpenAESGCM failed: %v", err)
		}
		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("RandomNonceFailure", func(t *testing.T) {
		_, err := EncryptAESWithAAD(failingReader{}, plainText, key, aad)
		if !errors.Is(err, ErrRandomness) {
			t.Errorf("expected ErrRandomness, got %v", err)
		}
	})
}

func TestArgon2id(t *testing.T) {
	params := Argon2idParams{Time: MinArgon2Time, MemoryKiB: MinArgon2MemoryKiB, Parallelism: 1, KeyLen: 32}
	password := []byte("correct horse battery staple")

	key, err := DeriveArgon2idKey(password, []byte("random salt"), params)
	if err != nil {
		t.Fatalf("DeriveArgon2idKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected key length 32, got %d", len(key))
	}

	again, _ := DeriveArgon2idKey(password, []byte("random salt"), params)
	if !bytes.Equal(key, again) {
		t.Error("argon2id should be deterministic")
	}

	other, _ := DeriveArgon2idKey(password, []byte("other salt"), params)
	if bytes.Equal(key, other) {
		t.Error("different salts should produce different keys")
	}
}

func TestValidateArgon2idParams(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		if err := ValidateArgon2idParams(DefaultArgon2idParams()); err != nil {
			t.Errorf("default params should be valid: %v", err)
		}
	})

	t.Run("KeyLenNot32", func(t *testing.T) {
		p := DefaultArgon2idParams()
		p.KeyLen = 16
		if err := ValidateArgon2idParams(p); err == nil {
			t.Error("expected error for KeyLen != 32")
		}
	})

	t.Run("MemoryTooLow", func(t *testing.T) {
		p := DefaultArgon2idParams()
		p.MemoryKiB = 1024
		if err := ValidateArgon2idParams(p); err == nil {
			t.Error("expected error for MemoryKiB=1024")
		}
	})

	t.Run("ParallelismTooLow", func(t *testing.T) {
		p := DefaultArgon2idParams()
		p.Parallelism = 0
		if err := ValidateArgon2idParams(p); err == nil {
			t.Error("expected error for Parallelism=0")
		}
	})
}

func TestPBKDF2(t *testing.T) {
	k1, err := DerivePBKDF2Key([]byte("pw"), []byte("salt"), 1000)
	if err != nil {
		t.Fatalf("DerivePBKDF2Key failed: %v", err)
	}
	k2, _ := DerivePBKDF2Key([]byte("pw"), []byte("salt"), 1000)
	if !bytes.Equal(k1, k2) || len(k1) != AESKeySize {
		t.Error("pbkdf2 should be deterministic and 32 bytes")
	}
	if _, err := DerivePBKDF2Key([]byte("pw"), []byte("salt"), 0); err == nil {
		t.Error("expected error for zero iterations")
	}
}

func TestHKDF(t *testing.T) {
	seed := []byte("seed")
	salt := []byte("salt")
	info := []byte("info")

	key1, err := HKDF(seed, salt, info)
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	if len(key1) != 32 {
		t.Errorf("expected key length 32, got %d", len(key1))
	}

	key2, _ := HKDF(seed, salt, info)
	if !bytes.Equal(key1, key2) {
		t.Error("HKDF should be deterministic")
	}

	key3, _ := HKDF(seed, salt, []byte("different info"))
	if bytes.Equal(key1, key3) {
		t.Error("HKDF should produce different output with different info")
	}

	if _, err := HKDF(nil, salt, info); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}
	copied := CopyBytes(a)
	if !bytes.Equal(copied, a) {
		t.Error("CopyBytes failed")
	}
	copied[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("CopyBytes should return a new slice")
	}

	WipeBytes(a)
	if !bytes.Equal(a, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left %v", a)
	}
}

func TestEncoding(t *testing.T) {
	encoded := Base64Encode([]byte("test string"))
	decoded, err := Base64Decode(encoded)
	if err != nil {
		t.Fatalf("Base64Decode failed: %v", err)
	}
	if string(decoded) != "test string" {
		t.Errorf("expected %q, got %q", "test string", decoded)
	}

	if got := NormalizeIdentifier("ｂｏｂ"); got != "bob" {
		t.Errorf("NormalizeIdentifier failed, got %q", got)
	}
	if got := NormalizeIdentifier("café"); got != "café" {
		t.Errorf("NormalizeIdentifier should compose, got %q", got)
	}
}

func TestRandom(t *testing.T) {
	t.Run("RandomBytes", func(t *testing.T) {
		b1, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		b2, _ := RandomBytes(32)
		if len(b1) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b1))
		}
		if bytes.Equal(b1, b2) {
			t.Error("RandomBytes should produce different outputs")
		}
	})

	t.Run("ShortRead", func(t *testing.T) {
		_, err := ReadRandom(io.LimitReader(strings.NewReader("abc"), 3), 32)
		if !errors.Is(err, ErrRandomness) {
			t.Errorf("expected ErrRandomness, got %v", err)
		}
	})

	t.Run("RandomAlphanumeric", func(t *testing.T) {
		s1, err := RandomAlphanumeric(nil, 24)
		if err != nil {
			t.Fatalf("RandomAlphanumeric failed: %v", err)
		}
		s2, _ := RandomAlphanumeric(nil, 24)
		if len(s1) != 24 {
			t.Errorf("expected length 24, got %d", len(s1))
		}
		if s1 == s2 {
			t.Error("RandomAlphanumeric should produce different outputs")
		}
		for _, r := range s1 {
			if !strings.ContainsRune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", r) {
				t.Errorf("unexpected rune %q", r)
			}
		}
	})

	t.Run("RandomAlphanumericFailure", func(t *testing.T) {
		if _, err := RandomAlphanumeric(failingReader{}, 8); !errors.Is(err, ErrRandomness) {
			t.Errorf("expected ErrRandomness, got %v", err)
		}
	})
}
