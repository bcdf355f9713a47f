package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// SerialBits is the width of generated certificate serial numbers. RFC 5280
// allows at most 20 octets and the value must be positive.
const SerialBits = 159

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomSerial returns a positive random integer of at most SerialBits bits.
func RandomSerial() (*big.Int, error) {
	for {
		b, err := RandomBytes(20)
		if err != nil {
			return nil, fmt.Errorf("generating serial: %w", err)
		}
		n := new(big.Int).SetBytes(b)
		n.Rsh(n, 160-SerialBits)
		if n.Sign() > 0 {
			return n, nil
		}
	}
}
