package util

import (
	"crypto/rand"
	"fmt"

	"github.com/tink-crypto/tink-go/v2/aead/subtle"
)

const (
	SIVKeySize   = 16
	SIVNonceSize = 12
)

// EncryptAESSIV seals plainText with AES-GCM-SIV and returns the random nonce
// and the ciphertext (tag appended) separately.
func EncryptAESSIV(plainText, rawKey, aad []byte) (nonce, cipherText []byte, err error) {
	if len(rawKey) != SIVKeySize {
		return nil, nil, fmt.Errorf("invalid AES-GCM-SIV key size: got %d, want %d", len(rawKey), SIVKeySize)
	}

	siv, err := subtle.NewAESGCMSIV(rawKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating AES-GCM-SIV: %w", err)
	}

	sealed, err := siv.Encrypt(plainText, aad)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypting: %w", err)
	}
	if len(sealed) < SIVNonceSize {
		return nil, nil, fmt.Errorf("sealed output shorter than nonce size")
	}

	return CopyBytes(sealed[:SIVNonceSize]), CopyBytes(sealed[SIVNonceSize:]), nil
}

func DecryptAESSIV(nonce, cipherText, rawKey, aad []byte) ([]byte, error) {
	if len(rawKey) != SIVKeySize {
		return nil, fmt.Errorf("invalid AES-GCM-SIV key size: got %d, want %d", len(rawKey), SIVKeySize)
	}
	if len(nonce) != SIVNonceSize {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), SIVNonceSize)
	}

	siv, err := subtle.NewAESGCMSIV(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating AES-GCM-SIV: %w", err)
	}

	sealed := make([]byte, 0, len(nonce)+len(cipherText))
	sealed = append(sealed, nonce...)
	sealed = append(sealed, cipherText...)

	plainText, err := siv.Decrypt(sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}

	return plainText, nil
}

func NewSIVKey() ([]byte, error) {
	rawKey := make([]byte, SIVKeySize)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, fmt.Errorf("generating AES-GCM-SIV key: %w", err)
	}
	return rawKey, nil
}
