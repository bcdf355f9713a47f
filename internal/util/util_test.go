package util

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAESSIV(t *testing.T) {
	key, _ := NewSIVKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("EncryptDecryptWithAAD", func(t *testing.T) {
		nonce, cipherText, err := EncryptAESSIV(plainText, key, aad)
		if err != nil {
			t.Fatalf("EncryptAESSIV failed: %v", err)
		}
		if len(nonce) != SIVNonceSize {
			t.Fatalf("expected %d byte nonce, got %d", SIVNonceSize, len(nonce))
		}

		decrypted, err := DecryptAESSIV(nonce, cipherText, key, aad)
		if err != nil {
			t.Fatalf("DecryptAESSIV failed: %v", err)
		}

		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("FreshNonce", func(t *testing.T) {
		n1, _, _ := EncryptAESSIV(plainText, key, aad)
		n2, _, _ := EncryptAESSIV(plainText, key, aad)
		if bytes.Equal(n1, n2) {
			t.Error("expected distinct nonces")
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		nonce, cipherText, _ := EncryptAESSIV(plainText, key, aad)
		_, err := DecryptAESSIV(nonce, cipherText, key, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		nonce, cipherText, _ := EncryptAESSIV(plainText, key, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		_, err := DecryptAESSIV(nonce, cipherText, key, aad)
		if err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		nonce, cipherText, _ := EncryptAESSIV(plainText, key, aad)
		other, _ := NewSIVKey()
		_, err := DecryptAESSIV(nonce, cipherText, other, aad)
		if err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, _, err := EncryptAESSIV(plainText, []byte("too short"), aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})
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

	WipeBytes(copied)
	if !bytes.Equal(copied, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left %v", copied)
	}
}

func TestEncoding(t *testing.T) {
	s := "test string"
	encoded := HexEncode([]byte(s))
	decoded, err := HexDecode(encoded)
	if err != nil {
		t.Fatalf("HexDecode failed: %v", err)
	}
	if string(decoded) != s {
		t.Errorf("expected %s, got %s", s, string(decoded))
	}
}

func TestZ85(t *testing.T) {
	t.Run("ReferenceVector", func(t *testing.T) {
		raw := []byte{0x86, 0x4F, 0xD2, 0x6F, 0xB5, 0x59, 0xF7, 0x5B}
		if got := Z85Encode(raw); got != "HelloWorld" {
			t.Fatalf("expected HelloWorld, got %s", got)
		}
		decoded, err := Z85Decode("HelloWorld")
		if err != nil {
			t.Fatalf("Z85Decode failed: %v", err)
		}
		if !bytes.Equal(decoded, raw) {
			t.Errorf("expected %x, got %x", raw, decoded)
		}
	})

	t.Run("ZeroGroup", func(t *testing.T) {
		if got := Z85Encode(make([]byte, 8)); got != "0000000000" {
			t.Errorf("expected ten zeros, got %s", got)
		}
	})

	t.Run("RoundTripAnyLength", func(t *testing.T) {
		for n := 0; n < 40; n++ {
			raw, _ := RandomBytes(n)
			decoded, err := Z85Decode(Z85Encode(raw))
			if err != nil {
				t.Fatalf("length %d: %v", n, err)
			}
			if !bytes.Equal(decoded, raw) {
				t.Fatalf("length %d: expected %x, got %x", n, raw, decoded)
			}
		}
	})

	t.Run("RejectIllegalCharacter", func(t *testing.T) {
		if _, err := Z85Decode("Hello~orld"); err == nil {
			t.Error("expected error for illegal character")
		}
	})
}

func TestRandom(t *testing.T) {
	t.Run("RandomBytes", func(t *testing.T) {
		b1, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		b2, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		if len(b1) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b1))
		}
		if bytes.Equal(b1, b2) {
			t.Error("RandomBytes should produce different outputs")
		}
	})

	t.Run("RandomSerial", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			n, err := RandomSerial()
			if err != nil {
				t.Fatalf("RandomSerial failed: %v", err)
			}
			if n.Sign() <= 0 {
				t.Fatalf("serial must be positive, got %s", n)
			}
			if n.BitLen() > SerialBits {
				t.Fatalf("serial has %d bits", n.BitLen())
			}
		}
	})
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.toml")

	if err := WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected second, got %s", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, got %d entries", len(entries))
	}
}
