package indexedio

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// Escape maps an entry name to the key it is stored under.
//
// Bytes '%', '/', '.', control characters and DEL become %XX with uppercase
// hex digits; everything else, including non-ASCII UTF-8, is kept as is.
// The mapping is injective and Unescape is its exact inverse.
func Escape(name string) string {
	n := 0
	for i := 0; i < len(name); i++ {
		if needsEscape(name[i]) {
			n++
		}
	}
	if n == 0 {
		return name
	}
	var buf strings.Builder
	buf.Grow(len(name) + 2*n)
	for i := 0; i < len(name); i++ {
		c := name[i]
		if needsEscape(c) {
			buf.WriteByte('%')
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xF])
		} else {
			buf.WriteByte(c)
		}
	}
	return buf.String()
}

// Unescape reverses Escape. It rejects keys Escape could not have produced,
// so Escape(Unescape(key)) == key for every accepted key.
func Unescape(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidName)
	}
	if strings.IndexByte(key, '%') < 0 {
		for i := 0; i < len(key); i++ {
			if needsEscape(key[i]) {
				return "", fmt.Errorf("%w: unescaped byte 0x%02X in %q", ErrInvalidName, key[i], key)
			}
		}
		return key, nil
	}
	var buf strings.Builder
	buf.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '%' {
			if i+2 >= len(key) {
				return "", fmt.Errorf("%w: truncated escape in %q", ErrInvalidName, key)
			}
			hi, lo := unhex(key[i+1]), unhex(key[i+2])
			if hi < 0 || lo < 0 {
				return "", fmt.Errorf("%w: bad escape in %q", ErrInvalidName, key)
			}
			d := byte(hi<<4 | lo)
			if !needsEscape(d) {
				return "", fmt.Errorf("%w: non-canonical escape in %q", ErrInvalidName, key)
			}
			buf.WriteByte(d)
			i += 2
			continue
		}
		if needsEscape(c) {
			return "", fmt.Errorf("%w: unescaped byte 0x%02X in %q", ErrInvalidName, c, key)
		}
		buf.WriteByte(c)
	}
	return buf.String(), nil
}

// ValidateName reports whether name can be used as an entry name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	return nil
}

func needsEscape(c byte) bool {
	return c == '%' || c == '/' || c == '.' || c < 0x20 || c == 0x7F
}

// unhex only accepts uppercase digits, keeping the encoding canonical.
func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}
