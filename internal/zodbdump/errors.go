package zodbdump

import (
	"encoding/hex"
	"fmt"
)

// ParseError is a fatal dump-format error: malformed header, metadata or
// obj line, unknown hash function, truncated payload. It is tagged with the
// input name and the 1-based line number it was detected on; the input must
// be fixed by the caller, retrying cannot help.
type ParseError struct {
	Name string // input stream name, may be empty
	Line int
	Msg  string
	Data []byte // offending line, nil when the error is not about one line
}

func (e *ParseError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s+%d: invalid line: %s (%s)", e.Name, e.Line, e.Msg, Quote(e.Data))
	}
	return fmt.Sprintf("%s+%d: %s", e.Name, e.Line, e.Msg)
}

// CorruptError reports payload bytes whose computed hash does not match the
// hash declared on the obj line: corrupted or truncated input.
type CorruptError struct {
	Name     string
	Line     int
	HashFunc string
	Computed []byte
	Expected []byte
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s+%d: data corrupt: %s = %s, expected %s",
		e.Name, e.Line, e.HashFunc,
		hex.EncodeToString(e.Computed), hex.EncodeToString(e.Expected))
}
