package zodbdump

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/roach88/zodbtool/internal/hashreg"
	"github.com/roach88/zodbtool/internal/zodb"
)

// DumpOptions configures the dump writer.
type DumpOptions struct {
	// HashOnly omits payload bytes, emitting only size and hash of every
	// data record.
	HashOnly bool

	// HashFunc names the content hash embedded in data records. Empty
	// means hashreg.DefaultFunc.
	HashFunc string
}

// Dump serializes the transactions of stor over the inclusive range
// [tidMin, tidMax] into out, in dump format. An empty or inverted range
// produces no output and no error. Dump never mutates the store.
func Dump(ctx context.Context, out io.Writer, stor zodb.Storage, tidMin, tidMax zodb.Tid, opt DumpOptions) error {
	hashFunc := opt.HashFunc
	if hashFunc == "" {
		hashFunc = hashreg.DefaultFunc
	}
	if _, ok := hashreg.New(hashFunc); !ok {
		return fmt.Errorf("dump: unknown hash function %q", hashFunc)
	}

	w := bufio.NewWriter(out)
	it := stor.Iterate(ctx, tidMin, tidMax)
	for {
		rec, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("dump %s: %w", stor.Name(), err)
		}

		txn := TxnFromRecord(rec, hashFunc, opt.HashOnly)
		if _, err := w.Write(txn.Encode()); err != nil {
			return fmt.Errorf("dump %s: %w", stor.Name(), err)
		}
	}
	return w.Flush()
}

// TxnFromRecord converts a storage iteration record into a dump
// Transaction: object records are translated into the delete/copy/data
// variants, content hashes are computed with hashFunc, and the object list
// is sorted into canonical ascending-oid order regardless of the order the
// store reported.
func TxnFromRecord(rec *zodb.TxnRecord, hashFunc string, hashOnly bool) *Transaction {
	objv := make([]ObjectRec, 0, len(rec.Objects))
	for _, obj := range rec.Objects {
		switch {
		case obj.DataTid != 0:
			objv = append(objv, ObjectCopy{Object{obj.Oid}, obj.DataTid})

		case obj.Data == nil:
			objv = append(objv, ObjectDelete{Object{obj.Oid}})

		default:
			h, _ := hashreg.New(hashFunc) // verified by the caller
			h.Update(obj.Data)
			data := ObjectData{
				Object:   Object{obj.Oid},
				Size:     int64(len(obj.Data)),
				HashFunc: hashFunc,
				Hash:     h.Digest(),
			}
			if hashOnly {
				data.HashOnly = true
			} else {
				data.Data = obj.Data
			}
			objv = append(objv, data)
		}
	}

	sort.Slice(objv, func(i, j int) bool { return objv[i].Id() < objv[j].Id() })

	return &Transaction{
		Tid:         rec.Tid,
		Status:      rec.Status,
		User:        rec.User,
		Description: rec.Description,
		Extension:   rec.Extension,
		Objv:        objv,
	}
}
