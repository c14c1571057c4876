// Package base85 implements the RFC 1924 base85 alphabet used for both the
// Framer's transport encoding and HMAC tag transport. This is deliberately
// not stdlib's encoding/ascii85, which uses the Adobe/btoa alphabet.
package base85

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Alphabet is the RFC 1924 base85 character set.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz!#$%&()*+-;<=>?@^_`{|}~"

var decodeTable [256]int8

func init() {
	for i := range decodeTable {
		decodeTable[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		decodeTable[Alphabet[i]] = int8(i)
	}
}

// Encode encodes data using the RFC 1924 alphabet, four input bytes to
// five output characters, zero-padded on the last group.
func Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	padding := (4 - len(data)%4) % 4
	padded := make([]byte, len(data)+padding)
	copy(padded, data)

	out := make([]byte, 0, len(padded)/4*5)
	var group [5]byte
	for i := 0; i < len(padded); i += 4 {
		val := binary.BigEndian.Uint32(padded[i : i+4])
		for j := 4; j >= 0; j-- {
			group[j] = Alphabet[val%85]
			val /= 85
		}
		out = append(out, group[:]...)
	}

	if padding > 0 {
		out = out[:len(out)-padding]
	}
	return string(out)
}

// Decode decodes an RFC 1924 base85 string back to bytes. It returns an
// error on invalid characters or a malformed final group.
func Decode(s string) ([]byte, error) {
	if len(s) == 0 {
		return nil, nil
	}

	padding := (5 - len(s)%5) % 5
	padded := s + strings.Repeat(string(Alphabet[84]), padding)

	out := make([]byte, 0, len(padded)/5*4)
	var chunk [4]byte
	for i := 0; i < len(padded); i += 5 {
		var acc uint64
		for j := 0; j < 5; j++ {
			c := padded[i+j]
			v := decodeTable[c]
			if v < 0 {
				return nil, fmt.Errorf("base85: invalid character %q", c)
			}
			acc = acc*85 + uint64(v)
		}
		if acc > 0xFFFFFFFF {
			return nil, fmt.Errorf("base85: group overflow")
		}
		binary.BigEndian.PutUint32(chunk[:], uint32(acc))
		out = append(out, chunk[:]...)
	}

	if padding > 0 {
		out = out[:len(out)-padding]
	}
	return out, nil
}
