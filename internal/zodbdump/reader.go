package zodbdump

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/roach88/zodbtool/internal/hashreg"
	"github.com/roach88/zodbtool/internal/zodb"
)

var (
	txnRe = regexp.MustCompile(`^txn ([0-9a-f]{16}) "(.)"$`)
	objRe = regexp.MustCompile(`^obj ([0-9a-f]{16}) (?:(delete)|from ([0-9a-f]{16})|([0-9]+) ([A-Za-z0-9_]+):([0-9a-f]+)( -)?)$`)
)

// DumpReader is a pull-style parser reconstructing Transaction records from
// a dump stream. It tracks a 1-based line counter so every error names the
// input and the exact line it was detected on.
type DumpReader struct {
	r      *bufio.Reader
	name   string
	lineno int
}

// NewReader returns a DumpReader over r. name identifies the input in
// diagnostics and may be empty.
func NewReader(r io.Reader, name string) *DumpReader {
	return &DumpReader{r: bufio.NewReader(r), name: name}
}

// Lineno returns the current 1-based line position.
func (r *DumpReader) Lineno() int { return r.lineno }

// AdjustLineno shifts the line counter by delta. Callers that prepend
// synthetic input (an artificial txn header) use a negative delta so that
// reported line numbers refer to the real input.
func (r *DumpReader) AdjustLineno(delta int) { r.lineno += delta }

// Tail returns whatever input remains after the last read transaction.
func (r *DumpReader) Tail() ([]byte, error) { return io.ReadAll(r.r) }

// readline returns the next line without its trailing LF, or io.EOF at
// clean end of input.
func (r *DumpReader) readline() ([]byte, error) {
	l, err := r.r.ReadBytes('\n')
	if len(l) == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	r.lineno++
	return bytes.TrimSuffix(l, []byte("\n")), nil
}

func (r *DumpReader) badline(line []byte, msg string) *ParseError {
	return &ParseError{Name: r.name, Line: r.lineno, Msg: msg, Data: line}
}

// ReadTxn reads the next transaction record from the stream. At clean end
// of input it returns (nil, io.EOF); any other condition is a *ParseError
// or *CorruptError.
func (r *DumpReader) ReadTxn() (*Transaction, error) {
	// header
	l, err := r.readline()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%s+%d: %w", r.name, r.lineno, err)
	}
	m := txnRe.FindSubmatch(l)
	if m == nil {
		return nil, r.badline(l, "no txn start")
	}
	tid, err := zodb.ParseTid(string(m[1]))
	if err != nil {
		return nil, r.badline(l, "no txn start")
	}
	status := zodb.TxnStatus(m[2][0])

	user, err := r.readMeta("user")
	if err != nil {
		return nil, err
	}
	description, err := r.readMeta("description")
	if err != nil {
		return nil, err
	}
	extension, err := r.readMeta("extension")
	if err != nil {
		return nil, err
	}

	// objects, up to the blank line terminating the transaction
	var objv []ObjectRec
	for {
		l, err := r.readline()
		if err != nil {
			return nil, r.badline(nil, "no obj")
		}
		if len(l) == 0 {
			break
		}
		if !bytes.HasPrefix(l, []byte("obj ")) {
			return nil, r.badline(l, "no obj")
		}

		m := objRe.FindSubmatch(l)
		if m == nil {
			return nil, r.badline(l, "invalid obj entry")
		}
		oid, err := zodb.ParseOid(string(m[1]))
		if err != nil {
			return nil, r.badline(l, "invalid obj entry")
		}

		switch {
		case len(m[2]) != 0: // delete
			objv = append(objv, ObjectDelete{Object{oid}})

		case len(m[3]) != 0: // from <tid>
			copyFrom, err := zodb.ParseTid(string(m[3]))
			if err != nil {
				return nil, r.badline(l, "invalid obj entry")
			}
			objv = append(objv, ObjectCopy{Object{oid}, copyFrom})

		default: // <size> <hashfunc>:<hash>[ -]
			obj, err := r.readData(l, oid, m)
			if err != nil {
				return nil, err
			}
			objv = append(objv, obj)
		}
	}

	return &Transaction{
		Tid:         tid,
		Status:      status,
		User:        user,
		Description: description,
		Extension:   extension,
		Objv:        objv,
	}, nil
}

// readMeta reads one `<field> "<quoted>"` metadata line.
func (r *DumpReader) readMeta(field string) ([]byte, error) {
	l, err := r.readline()
	if err != nil {
		return nil, r.badline(nil, "no "+field)
	}
	prefix := []byte(field + " ")
	if !bytes.HasPrefix(l, prefix) {
		return nil, r.badline(l, "no "+field)
	}
	v, err := Unquote(l[len(prefix):])
	if err != nil {
		return nil, r.badline(l, "invalid "+field)
	}
	return v, nil
}

// readData parses a data obj line and, unless it is hash-only, reads the
// inline payload and verifies its integrity.
func (r *DumpReader) readData(l []byte, oid zodb.Oid, m [][]byte) (ObjectRec, error) {
	size, err := strconv.ParseInt(string(m[4]), 10, 64)
	if err != nil {
		return nil, r.badline(l, "invalid obj entry")
	}
	hashFunc := string(m[5])
	declared, err := hex.DecodeString(string(m[6]))
	if err != nil {
		return nil, r.badline(l, "invalid obj entry")
	}
	hashOnly := len(m[7]) != 0

	// reject unknown hash functions before consuming any payload bytes
	h, ok := hashreg.New(hashFunc)
	if !ok {
		return nil, r.badline(l, fmt.Sprintf("unknown hash function %s", Quote([]byte(hashFunc))))
	}

	obj := ObjectData{
		Object:   Object{oid},
		Size:     size,
		HashFunc: hashFunc,
		Hash:     declared,
	}
	if hashOnly {
		obj.HashOnly = true
		return obj, nil
	}

	// payload + trailing LF, accumulated to the exact length: a short
	// read from the underlying source is not EOF
	buf := make([]byte, size+1)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, &ParseError{Name: r.name, Line: r.lineno, Msg: "unexpected EOF while reading object data"}
	}
	r.lineno += bytes.Count(buf, []byte("\n"))
	if buf[size] != '\n' {
		return nil, &ParseError{Name: r.name, Line: r.lineno, Msg: "no LF after obj data"}
	}
	data := buf[:size]

	h.Update(data)
	if computed := h.Digest(); !bytes.Equal(computed, declared) {
		return nil, &CorruptError{
			Name:     r.name,
			Line:     r.lineno,
			HashFunc: hashFunc,
			Computed: computed,
			Expected: declared,
		}
	}

	obj.Data = data
	return obj, nil
}
