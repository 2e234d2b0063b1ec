package wire

import (
	"fmt"
	"unicode/utf16"
)

// EncodeUTF16LE encodes s as little-endian, BOM-less UTF-16 code units, the
// byte order TcpMs strings use on the wire.
func EncodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		out[2*i] = byte(u)
		out[2*i+1] = byte(u >> 8)
	}
	return out
}

// DecodeUTF16LE decodes little-endian, BOM-less UTF-16 bytes into a string.
// It reports an error if b has an odd length.
func DecodeUTF16LE(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("odd-length UTF-16 payload (%d bytes)", len(b))
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return string(utf16.Decode(units)), nil
}
