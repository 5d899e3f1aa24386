// Package memstore is an in-memory zodb.Storage. It backs the engine and
// replication tests, and doubles as the seam for exercising capability
// fallbacks: exact-tid restore and copy backpointers can be switched off.
package memstore

import (
	"context"
	"fmt"
	"io"

	"github.com/google/btree"

	"github.com/roach88/zodbtool/internal/zodb"
)

// Option configures a Storage.
type Option func(*Storage)

// WithoutExactTid makes the storage ignore requested commit tids, always
// assigning its own; commits requesting an exact tid then rely on the
// engine's after-the-fact validation.
func WithoutExactTid() Option {
	return func(s *Storage) { s.exactTid = false }
}

// WithoutCopy disables backpointer support; copies get materialized by the
// commit engine instead.
func WithoutCopy() Option {
	return func(s *Storage) { s.copy = false }
}

// revision is one committed record of an object: data, a backpointer, or a
// deletion (data == nil && dataTid == 0).
type revision struct {
	tid     zodb.Tid
	data    []byte
	dataTid zodb.Tid
}

// history holds an object's revisions in ascending tid order.
type history struct {
	oid  zodb.Oid
	revs []revision
}

// pendingWrite is one buffered per-object write of an open commit.
type pendingWrite struct {
	rec  zodb.DataRec
	prev zodb.Tid // serial precondition supplied by the committer
}

// pendingTxn is the state between TpcBegin and TpcFinish/TpcAbort.
type pendingTxn struct {
	meta   *zodb.TxnMeta
	writes []pendingWrite
}

// Storage is an in-memory store. A Storage is exclusively owned by one
// operation at a time, like every other zodb.Storage.
type Storage struct {
	objects  *btree.BTreeG[*history]
	txns     []*zodb.TxnRecord // ascending tid
	lastTid  zodb.Tid
	cur      *pendingTxn
	exactTid bool
	copy     bool
}

// New returns an empty storage supporting exact-tid restore and copy
// backpointers unless options disable them.
func New(opts ...Option) *Storage {
	s := &Storage{
		objects:  btree.NewG(2, func(a, b *history) bool { return a.oid < b.oid }),
		exactTid: true,
		copy:     true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) Name() string { return "memory" }

func (s *Storage) Close() error { return nil }

func (s *Storage) SupportsExactTid() bool { return s.exactTid }

func (s *Storage) SupportsCopy() bool { return s.copy }

func (s *Storage) LastTid(ctx context.Context) (zodb.Tid, error) {
	return s.lastTid, nil
}

// LoadBefore returns the materialized value and serial of oid as of the
// latest revision with tid < before.
func (s *Storage) LoadBefore(ctx context.Context, oid zodb.Oid, before zodb.Tid) ([]byte, zodb.Tid, error) {
	rev, ok := s.revBefore(oid, before)
	if !ok || (rev.data == nil && rev.dataTid == 0) {
		return nil, 0, &zodb.NoDataError{Oid: oid, Before: before}
	}

	serial := rev.tid
	// chase backpointers until concrete bytes; each step must resolve
	// to the revision committed by exactly that earlier transaction or
	// the chain is broken and chasing cannot terminate
	for rev.data == nil {
		want := rev.dataTid
		if want >= rev.tid {
			return nil, 0, fmt.Errorf("memstore: oid %s: dangling backpointer to %s", oid, want)
		}
		next, ok := s.revBefore(oid, want+1)
		if !ok || next.tid != want || (next.data == nil && next.dataTid == 0) {
			return nil, 0, fmt.Errorf("memstore: oid %s: dangling backpointer to %s", oid, want)
		}
		rev = next
	}
	return rev.data, serial, nil
}

// revBefore returns oid's latest revision with tid < before.
func (s *Storage) revBefore(oid zodb.Oid, before zodb.Tid) (revision, bool) {
	h, ok := s.objects.Get(&history{oid: oid})
	if !ok {
		return revision{}, false
	}
	for i := len(h.revs) - 1; i >= 0; i-- {
		if h.revs[i].tid < before {
			return h.revs[i], true
		}
	}
	return revision{}, false
}

// currentSerial is the conflict-check baseline for oid: the tid of its
// latest revision, or 0 if it has none or the latest one is a deletion.
func (s *Storage) currentSerial(oid zodb.Oid) zodb.Tid {
	h, ok := s.objects.Get(&history{oid: oid})
	if !ok || len(h.revs) == 0 {
		return 0
	}
	last := h.revs[len(h.revs)-1]
	if last.data == nil && last.dataTid == 0 {
		return 0
	}
	return last.tid
}

func (s *Storage) TpcBegin(ctx context.Context, meta *zodb.TxnMeta) error {
	if s.cur != nil {
		return fmt.Errorf("memstore: commit already in progress")
	}
	s.cur = &pendingTxn{meta: meta}
	return nil
}

func (s *Storage) open(meta *zodb.TxnMeta) (*pendingTxn, error) {
	if s.cur == nil || s.cur.meta != meta {
		return nil, fmt.Errorf("memstore: no commit in progress for this transaction")
	}
	return s.cur, nil
}

func (s *Storage) Store(ctx context.Context, oid zodb.Oid, prevSerial zodb.Tid, data []byte, meta *zodb.TxnMeta) error {
	if data == nil {
		return fmt.Errorf("memstore: store of nil data (use DeleteObject)")
	}
	cur, err := s.open(meta)
	if err != nil {
		return err
	}
	cur.writes = append(cur.writes, pendingWrite{
		rec:  zodb.DataRec{Oid: oid, Data: data},
		prev: prevSerial,
	})
	return nil
}

func (s *Storage) StoreCopy(ctx context.Context, oid zodb.Oid, prevSerial, copyFrom zodb.Tid, meta *zodb.TxnMeta) error {
	if !s.copy {
		return fmt.Errorf("memstore: copy backpointers not supported")
	}
	cur, err := s.open(meta)
	if err != nil {
		return err
	}
	cur.writes = append(cur.writes, pendingWrite{
		rec:  zodb.DataRec{Oid: oid, DataTid: copyFrom},
		prev: prevSerial,
	})
	return nil
}

func (s *Storage) DeleteObject(ctx context.Context, oid zodb.Oid, prevSerial zodb.Tid, meta *zodb.TxnMeta) error {
	cur, err := s.open(meta)
	if err != nil {
		return err
	}
	cur.writes = append(cur.writes, pendingWrite{
		rec:  zodb.DataRec{Oid: oid},
		prev: prevSerial,
	})
	return nil
}

// TpcVote checks every buffered write's serial precondition against the
// committed state.
func (s *Storage) TpcVote(ctx context.Context, meta *zodb.TxnMeta) error {
	cur, err := s.open(meta)
	if err != nil {
		return err
	}
	for _, w := range cur.writes {
		if serial := s.currentSerial(w.rec.Oid); serial != w.prev {
			return &zodb.ConflictError{Oid: w.rec.Oid, Serial: serial, Prev: w.prev}
		}
	}
	return nil
}

func (s *Storage) TpcFinish(ctx context.Context, meta *zodb.TxnMeta) (zodb.Tid, error) {
	cur, err := s.open(meta)
	if err != nil {
		return 0, err
	}

	tid := s.lastTid + 1
	if meta.Tid != 0 && s.exactTid {
		if meta.Tid <= s.lastTid {
			return 0, fmt.Errorf("memstore: tid %s is not after head %s", meta.Tid, s.lastTid)
		}
		tid = meta.Tid
	}

	rec := &zodb.TxnRecord{
		TxnMeta: zodb.TxnMeta{
			Tid:         tid,
			Status:      meta.Status,
			User:        meta.User,
			Description: meta.Description,
			Extension:   meta.Extension,
		},
	}
	for _, w := range cur.writes {
		obj := w.rec
		rec.Objects = append(rec.Objects, obj)

		h, ok := s.objects.Get(&history{oid: obj.Oid})
		if !ok {
			h = &history{oid: obj.Oid}
			s.objects.ReplaceOrInsert(h)
		}
		h.revs = append(h.revs, revision{tid: tid, data: obj.Data, dataTid: obj.DataTid})
	}

	s.txns = append(s.txns, rec)
	s.lastTid = tid
	s.cur = nil
	return tid, nil
}

func (s *Storage) TpcAbort(ctx context.Context, meta *zodb.TxnMeta) error {
	if s.cur != nil && s.cur.meta == meta {
		s.cur = nil
	}
	return nil
}

// Iterate returns an iterator over committed transactions with
// tidMin <= tid <= tidMax.
func (s *Storage) Iterate(ctx context.Context, tidMin, tidMax zodb.Tid) zodb.Iterator {
	var txns []*zodb.TxnRecord
	for _, t := range s.txns {
		if tidMin <= t.Tid && t.Tid <= tidMax {
			txns = append(txns, t)
		}
	}
	return &iterator{txns: txns}
}

type iterator struct {
	txns []*zodb.TxnRecord
	i    int
}

func (it *iterator) Next(ctx context.Context) (*zodb.TxnRecord, error) {
	if it.i >= len(it.txns) {
		return nil, io.EOF
	}
	t := it.txns[it.i]
	it.i++
	return t, nil
}
