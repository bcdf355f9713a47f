package util

import (
	"bytes"
	"encoding/ascii85"
	"encoding/hex"
	"fmt"
	"strings"
)

const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

var z85Decode [256]byte

func init() {
	for i := range z85Decode {
		z85Decode[i] = 0xFF
	}
	for i := 0; i < len(z85Alphabet); i++ {
		z85Decode[z85Alphabet[i]] = byte(i)
	}
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// Z85Encode encodes src with the ZeroMQ base85 alphabet. Inputs whose length
// is not a multiple of four produce a short final group of n+1 characters.
func Z85Encode(src []byte) string {
	buf := make([]byte, ascii85.MaxEncodedLen(len(src)))
	buf = buf[:ascii85.Encode(buf, src)]

	var sb strings.Builder
	sb.Grow(len(buf))
	for _, c := range buf {
		if c == 'z' {
			sb.WriteString("00000")
			continue
		}
		sb.WriteByte(z85Alphabet[c-'!'])
	}
	return sb.String()
}

func Z85Decode(s string) ([]byte, error) {
	if len(s)%5 == 1 {
		return nil, fmt.Errorf("z85: invalid length %d", len(s))
	}

	src := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		v := z85Decode[s[i]]
		if v == 0xFF {
			return nil, fmt.Errorf("z85: illegal character %q at offset %d", s[i], i)
		}
		src[i] = '!' + v
	}

	dst := make([]byte, len(src)/5*4+4)
	n, _, err := ascii85.Decode(dst, src, true)
	if err != nil {
		return nil, fmt.Errorf("z85: %w", err)
	}
	return bytes.Clone(dst[:n]), nil
}
