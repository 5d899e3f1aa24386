package sqlite

import (
	"context"
	"fmt"

	"github.com/roach88/zodbtool/internal/zodb"
)

// pendingWrite is one buffered per-object write of an open commit.
type pendingWrite struct {
	rec  zodb.DataRec
	prev zodb.Tid // serial precondition supplied by the committer
}

// pendingTxn is the state between TpcBegin and TpcFinish/TpcAbort. Writes
// are buffered in memory and hit SQLite only inside the finish
// transaction, so an abort never touches the database.
type pendingTxn struct {
	meta   *zodb.TxnMeta
	writes []pendingWrite
}

// TpcBegin opens a two-phase commit. A non-zero meta.Tid requests that the
// transaction be recreated under exactly that tid.
func (s *Storage) TpcBegin(ctx context.Context, meta *zodb.TxnMeta) error {
	if s.cur != nil {
		return fmt.Errorf("commit already in progress")
	}
	s.cur = &pendingTxn{meta: meta}
	return nil
}

func (s *Storage) open(meta *zodb.TxnMeta) (*pendingTxn, error) {
	if s.cur == nil || s.cur.meta != meta {
		return nil, fmt.Errorf("no commit in progress for this transaction")
	}
	return s.cur, nil
}

// Store buffers a new object value for the open commit.
func (s *Storage) Store(ctx context.Context, oid zodb.Oid, prevSerial zodb.Tid, data []byte, meta *zodb.TxnMeta) error {
	if data == nil {
		return fmt.Errorf("store oid %s: nil data (use DeleteObject)", oid)
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

// StoreCopy buffers a backpointer: oid's value as of this transaction is
// the value it had as of copyFrom, without duplicating the bytes.
func (s *Storage) StoreCopy(ctx context.Context, oid zodb.Oid, prevSerial, copyFrom zodb.Tid, meta *zodb.TxnMeta) error {
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

// DeleteObject buffers a deletion for the open commit.
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
// committed state and reports the first conflict.
func (s *Storage) TpcVote(ctx context.Context, meta *zodb.TxnMeta) error {
	cur, err := s.open(meta)
	if err != nil {
		return err
	}
	return checkConflicts(ctx, s.db, cur)
}

func checkConflicts(ctx context.Context, q querier, cur *pendingTxn) error {
	for _, w := range cur.writes {
		serial, err := currentSerial(ctx, q, w.rec.Oid)
		if err != nil {
			return err
		}
		if serial != w.prev {
			return &zodb.ConflictError{Oid: w.rec.Oid, Serial: serial, Prev: w.prev}
		}
	}
	return nil
}

// TpcFinish durably commits the buffered writes in one SQLite transaction
// and returns the assigned tid: the requested one in exact-tid mode, head+1
// otherwise. Serial preconditions are re-checked inside the transaction.
func (s *Storage) TpcFinish(ctx context.Context, meta *zodb.TxnMeta) (zodb.Tid, error) {
	cur, err := s.open(meta)
	if err != nil {
		return 0, err
	}

	head, err := s.LastTid(ctx)
	if err != nil {
		return 0, err
	}

	tid := head + 1
	if meta.Tid != 0 {
		if meta.Tid <= head {
			return 0, fmt.Errorf("finish: tid %s is not after head %s", meta.Tid, head)
		}
		tid = meta.Tid
	}
	status := meta.Status
	if status == 0 {
		status = zodb.TxnComplete
	}
	if !status.Valid() {
		return 0, fmt.Errorf("finish: invalid status %q", string(status))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("finish: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := checkConflicts(ctx, tx, cur); err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (tid, status, user, description, extension)
		VALUES (?, ?, ?, ?, ?)
	`, int64(tid), string(status), emptyNotNil(meta.User), emptyNotNil(meta.Description), emptyNotNil(meta.Extension))
	if err != nil {
		return 0, fmt.Errorf("finish: insert transaction: %w", err)
	}

	for _, w := range cur.writes {
		var data any
		var dataTid any
		if w.rec.Data != nil {
			data = w.rec.Data
		}
		if w.rec.DataTid != 0 {
			dataTid = int64(w.rec.DataTid)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO object_state (oid, tid, data, data_tid)
			VALUES (?, ?, ?, ?)
		`, int64(w.rec.Oid), int64(tid), data, dataTid)
		if err != nil {
			return 0, fmt.Errorf("finish: insert oid %s: %w", w.rec.Oid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("finish: commit: %w", err)
	}

	s.cur = nil
	return tid, nil
}

// TpcAbort discards the open commit. Buffered writes never reached the
// database, so there is nothing to undo.
func (s *Storage) TpcAbort(ctx context.Context, meta *zodb.TxnMeta) error {
	if s.cur != nil && s.cur.meta == meta {
		s.cur = nil
	}
	return nil
}

// emptyNotNil maps a nil byte slice to an empty one: the schema declares
// the metadata columns NOT NULL.
func emptyNotNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
