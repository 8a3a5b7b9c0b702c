// Package mutf8 implements the JVM's modified UTF-8 encoding, the
// external string form used by JNI's GetStringUTFChars/NewStringUTF.
//
// It differs from standard UTF-8 in two ways: U+0000 is encoded as the
// two-byte overlong sequence 0xC0 0x80 (so encoded strings never contain
// a NUL byte), and supplementary-plane characters are encoded as a
// UTF-16 surrogate pair with each surrogate encoded as a three-byte
// sequence (CESU-8); four-byte sequences never appear.
//
// Both directions fail closed: invalid input yields an error, never a
// U+FFFD substitution, since silent substitution would break string
// equality on the JVM side.
package mutf8

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// Encode converts a Go string to modified UTF-8 bytes. The input must be
// valid UTF-8; an invalid byte sequence is an error.
func Encode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			// range gives RuneError with width 1 for invalid bytes; a
			// genuine U+FFFD decodes with width 3.
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				return nil, fmt.Errorf("invalid UTF-8 byte at offset %d", i)
			}
		}
		out = appendRune(out, r)
	}
	return out, nil
}

// appendRune appends the modified UTF-8 encoding of r.
func appendRune(out []byte, r rune) []byte {
	switch {
	case r == 0:
		return append(out, 0xC0, 0x80)
	case r < 0x80:
		return append(out, byte(r))
	case r < 0x800:
		return append(out, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
	case r < 0x10000:
		return append(out, 0xE0|byte(r>>12), 0x80|byte(r>>6&0x3F), 0x80|byte(r&0x3F))
	default:
		hi, lo := utf16.EncodeRune(r)
		out = appendRune(out, hi)
		return appendRune(out, lo)
	}
}

// Decode converts modified UTF-8 bytes to a Go string. Malformed
// sequences, embedded NUL bytes, four-byte sequences, overlong encodings
// other than 0xC0 0x80, and unpaired surrogates are all errors.
func Decode(b []byte) (string, error) {
	// Decode to UTF-16 code units first, then combine surrogate pairs.
	var units []uint16
	for i := 0; i < len(b); {
		u, size, err := decodeUnit(b, i)
		if err != nil {
			return "", err
		}
		units = append(units, u)
		i += size
	}

	out := make([]byte, 0, len(b))
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		switch {
		case utf16.IsSurrogate(u):
			if i+1 >= len(units) {
				return "", fmt.Errorf("unpaired surrogate U+%04X at end of string", u)
			}
			r := utf16.DecodeRune(u, rune(units[i+1]))
			if r == utf8.RuneError {
				return "", fmt.Errorf("unpaired surrogate U+%04X", u)
			}
			out = utf8.AppendRune(out, r)
			i++
		default:
			out = utf8.AppendRune(out, u)
		}
	}
	return string(out), nil
}

// decodeUnit decodes one UTF-16 code unit starting at b[i] and returns
// it with the number of bytes consumed.
func decodeUnit(b []byte, i int) (uint16, int, error) {
	c := b[i]
	switch {
	case c == 0x00:
		return 0, 0, fmt.Errorf("embedded NUL byte at offset %d", i)
	case c < 0x80:
		return uint16(c), 1, nil
	case c&0xE0 == 0xC0:
		if i+1 >= len(b) {
			return 0, 0, fmt.Errorf("truncated 2-byte sequence at offset %d", i)
		}
		if b[i+1]&0xC0 != 0x80 {
			return 0, 0, fmt.Errorf("bad continuation byte 0x%02X at offset %d", b[i+1], i+1)
		}
		u := uint16(c&0x1F)<<6 | uint16(b[i+1]&0x3F)
		// The only legal overlong encoding is C0 80 for U+0000.
		if u < 0x80 && !(c == 0xC0 && b[i+1] == 0x80) {
			return 0, 0, fmt.Errorf("overlong 2-byte sequence at offset %d", i)
		}
		return u, 2, nil
	case c&0xF0 == 0xE0:
		if i+2 >= len(b) {
			return 0, 0, fmt.Errorf("truncated 3-byte sequence at offset %d", i)
		}
		if b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
			return 0, 0, fmt.Errorf("bad continuation byte in 3-byte sequence at offset %d", i)
		}
		u := uint16(c&0x0F)<<12 | uint16(b[i+1]&0x3F)<<6 | uint16(b[i+2]&0x3F)
		if u < 0x800 {
			return 0, 0, fmt.Errorf("overlong 3-byte sequence at offset %d", i)
		}
		return u, 3, nil
	default:
		// 4-byte (or longer) standard UTF-8 never appears in modified UTF-8.
		return 0, 0, fmt.Errorf("invalid lead byte 0x%02X at offset %d", c, i)
	}
}
