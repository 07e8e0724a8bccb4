// Package sanitize renders peer-supplied strings safely for logs.
package sanitize

import (
	"strings"
	"unicode"

	"github.com/multiformats/go-multiaddr"
)

// MaxLen bounds the rendered length of a sanitized string.
const MaxLen = 256

// String escapes control characters and truncates s to MaxLen bytes of input.
func String(s string) string {
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(min(len(s), MaxLen) + 8)
	for i, r := range s {
		if i >= MaxLen {
			b.WriteString("...")
			break
		}
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\\':
			b.WriteString(`\\`)
		case unicode.IsControl(r):
			const hex = "0123456789abcdef"
			b.WriteString(`\x`)
			b.WriteByte(hex[byte(r)>>4])
			b.WriteByte(hex[byte(r)&0x0f])
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Multiaddr renders an address reported by a peer.
func Multiaddr(a multiaddr.Multiaddr) string {
	if a == nil {
		return "<nil>"
	}
	return String(a.String())
}

// Error renders an error whose text may carry peer-supplied data.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
