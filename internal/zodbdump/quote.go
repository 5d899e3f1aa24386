package zodbdump

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Quote wraps a byte string in '"' with '"', '\' and non-printable bytes
// backslash-escaped. The escaping is invertible by Unquote with zero
// information loss: quoted values may contain arbitrary bytes, including
// NUL and newlines.
func Quote(s []byte) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
			i++
			continue
		case '\\':
			b.WriteString(`\\`)
			i++
			continue
		case '\a':
			b.WriteString(`\a`)
			i++
			continue
		case '\b':
			b.WriteString(`\b`)
			i++
			continue
		case '\f':
			b.WriteString(`\f`)
			i++
			continue
		case '\n':
			b.WriteString(`\n`)
			i++
			continue
		case '\r':
			b.WriteString(`\r`)
			i++
			continue
		case '\t':
			b.WriteString(`\t`)
			i++
			continue
		case '\v':
			b.WriteString(`\v`)
			i++
			continue
		}

		r, size := utf8.DecodeRune(s[i:])
		if r == utf8.RuneError && size == 1 {
			// invalid UTF-8: escape the raw byte
			fmt.Fprintf(&b, `\x%02x`, c)
			i++
			continue
		}
		if !unicode.IsPrint(r) {
			for _, x := range s[i : i+size] {
				fmt.Fprintf(&b, `\x%02x`, x)
			}
			i += size
			continue
		}
		b.Write(s[i : i+size])
		i += size
	}
	b.WriteByte('"')
	return b.String()
}

// Unquote decodes a value produced by Quote, surrounding quotes included.
func Unquote(q []byte) ([]byte, error) {
	if len(q) < 2 || q[0] != '"' || q[len(q)-1] != '"' {
		return nil, fmt.Errorf("not a quoted string")
	}
	s := q[1 : len(q)-1]
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			return nil, fmt.Errorf("unescaped quote inside quoted string")
		}
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("truncated escape")
		}
		switch s[i] {
		case '"':
			out = append(out, '"')
		case '\\':
			out = append(out, '\\')
		case 'a':
			out = append(out, '\a')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'v':
			out = append(out, '\v')
		case 'x':
			if i+2 >= len(s) {
				return nil, fmt.Errorf("truncated \\x escape")
			}
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("invalid \\x escape")
			}
			out = append(out, hi<<4|lo)
			i += 2
		default:
			return nil, fmt.Errorf("invalid escape \\%c", s[i])
		}
	}
	return out, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
