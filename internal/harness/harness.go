package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/zodbtool/internal/hashreg"
	"github.com/roach88/zodbtool/internal/memstore"
	"github.com/roach88/zodbtool/internal/zodb"
	"github.com/roach88/zodbtool/internal/zodbcommit"
	"github.com/roach88/zodbtool/internal/zodbdump"
)

// Result holds the outcome of replaying a scenario.
type Result struct {
	// Storage is the in-memory storage after all transactions committed.
	Storage *memstore.Storage

	// Dump is the full-history dump of Storage, using the scenario's
	// hash function.
	Dump []byte
}

// hashFunc returns the scenario's hash function, defaulting to sha1.
func (s *Scenario) hashFunc() string {
	if s.HashFunc == "" {
		return hashreg.DefaultFunc
	}
	return s.HashFunc
}

// Build converts the scenario into transaction records ready to commit.
// Object data hashes are computed with the scenario's hash function.
func (s *Scenario) Build() ([]*zodbdump.Transaction, error) {
	hfunc := s.hashFunc()
	txnv := make([]*zodbdump.Transaction, 0, len(s.Transactions))
	for i := range s.Transactions {
		txn, err := buildTxn(&s.Transactions[i], hfunc)
		if err != nil {
			return nil, fmt.Errorf("transactions[%d]: %w", i, err)
		}
		txnv = append(txnv, txn)
	}
	return txnv, nil
}

func buildTxn(spec *TxnSpec, hfunc string) (*zodbdump.Transaction, error) {
	tid, err := zodb.ParseTid(spec.Tid)
	if err != nil {
		return nil, err
	}

	status := zodb.TxnComplete
	if spec.Status != "" {
		status = zodb.TxnStatus(spec.Status[0])
	}

	txn := &zodbdump.Transaction{
		Tid:         tid,
		Status:      status,
		User:        []byte(spec.User),
		Description: []byte(spec.Description),
		Extension:   []byte(spec.Extension),
	}

	for _, o := range spec.Objects {
		oid, err := zodb.ParseOid(o.Oid)
		if err != nil {
			return nil, err
		}
		switch {
		case o.Delete:
			txn.Objv = append(txn.Objv, zodbdump.ObjectDelete{
				Object: zodbdump.Object{Oid: oid},
			})
		case o.From != "":
			from, err := zodb.ParseTid(o.From)
			if err != nil {
				return nil, err
			}
			txn.Objv = append(txn.Objv, zodbdump.ObjectCopy{
				Object:   zodbdump.Object{Oid: oid},
				CopyFrom: from,
			})
		default:
			data := []byte(*o.Data)
			h, _ := hashreg.New(hfunc)
			h.Update(data)
			txn.Objv = append(txn.Objv, zodbdump.ObjectData{
				Object:   zodbdump.Object{Oid: oid},
				Data:     data,
				Size:     int64(len(data)),
				HashFunc: hfunc,
				Hash:     h.Digest(),
			})
		}
	}

	return txn, nil
}

// Run replays the scenario into a fresh in-memory storage, dumps the full
// resulting history and verifies the round-trip law: parsing the dump back
// and re-encoding it must reproduce the exact same bytes.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	txnv, err := s.Build()
	if err != nil {
		return nil, err
	}

	stor := memstore.New()
	at := zodb.Tid(0)
	for _, txn := range txnv {
		if _, err := zodbcommit.Commit(ctx, stor, at, txn); err != nil {
			return nil, fmt.Errorf("commit %s: %w", txn.Tid, err)
		}
		at = txn.Tid
	}

	var buf bytes.Buffer
	err = zodbdump.Dump(ctx, &buf, stor, 0, zodb.TidMax, zodbdump.DumpOptions{
		HashFunc: s.hashFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}
	dump := buf.Bytes()

	if err := verifyRoundTrip(dump); err != nil {
		return nil, err
	}

	return &Result{Storage: stor, Dump: dump}, nil
}

// verifyRoundTrip parses dump bytes and re-encodes every transaction,
// checking that the result is byte-identical to the input.
func verifyRoundTrip(dump []byte) error {
	r := zodbdump.NewReader(bytes.NewReader(dump), "<dump>")
	var reenc bytes.Buffer
	for {
		txn, err := r.ReadTxn()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("round-trip parse: %w", err)
		}
		reenc.Write(txn.Encode())
	}
	if !bytes.Equal(dump, reenc.Bytes()) {
		return errors.New("round-trip mismatch: re-encoded dump differs from original")
	}
	return nil
}
