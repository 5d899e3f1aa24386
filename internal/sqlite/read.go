package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/roach88/zodbtool/internal/zodb"
)

// LastTid returns the current head, or 0 for an empty storage.
func (s *Storage) LastTid(ctx context.Context) (zodb.Tid, error) {
	var tid int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(tid), 0) FROM transactions
	`).Scan(&tid)
	if err != nil {
		return 0, fmt.Errorf("last tid: %w", err)
	}
	return zodb.Tid(tid), nil
}

// querier is satisfied by both *sql.DB and *sql.Tx; reads that must also
// run inside the finish transaction go through it (the pool holds a single
// connection, so querying s.db while a tx is open would deadlock).
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LoadBefore returns the object's value and serial as of the latest
// revision with tid < before, chasing backpointers until concrete bytes.
func (s *Storage) LoadBefore(ctx context.Context, oid zodb.Oid, before zodb.Tid) ([]byte, zodb.Tid, error) {
	tid, data, dataTid, err := revBefore(ctx, s.db, oid, before)
	if err != nil {
		return nil, 0, err
	}
	if data == nil && dataTid == 0 {
		// never existed, or deleted as of before
		return nil, 0, &zodb.NoDataError{Oid: oid, Before: before}
	}

	serial := tid
	for data == nil {
		// a backpointer must resolve to the revision committed by
		// exactly that earlier transaction; anything else means the
		// chain is broken and chasing further cannot terminate
		want := dataTid
		if want >= tid {
			return nil, 0, fmt.Errorf("load oid %s: dangling backpointer to %s", oid, want)
		}
		tid, data, dataTid, err = revBefore(ctx, s.db, oid, want+1)
		if err != nil {
			return nil, 0, err
		}
		if tid != want || (data == nil && dataTid == 0) {
			return nil, 0, fmt.Errorf("load oid %s: dangling backpointer to %s", oid, want)
		}
	}
	return data, serial, nil
}

// revBefore returns oid's latest revision row with tid < before. A missing
// row is reported as a deletion-shaped result (nil data, zero dataTid).
func revBefore(ctx context.Context, q querier, oid zodb.Oid, before zodb.Tid) (tid zodb.Tid, data []byte, dataTid zodb.Tid, err error) {
	var rowTid int64
	var rowDataTid sql.NullInt64
	err = q.QueryRowContext(ctx, `
		SELECT tid, data, data_tid
		FROM object_state
		WHERE oid = ? AND tid < ?
		ORDER BY tid DESC
		LIMIT 1
	`, int64(oid), int64(before)).Scan(&rowTid, &data, &rowDataTid)
	if err == sql.ErrNoRows {
		return 0, nil, 0, nil
	}
	if err != nil {
		return 0, nil, 0, fmt.Errorf("load oid %s before %s: %w", oid, before, err)
	}
	if rowDataTid.Valid {
		dataTid = zodb.Tid(rowDataTid.Int64)
	}
	return zodb.Tid(rowTid), data, dataTid, nil
}

// currentSerial is the conflict-check baseline for oid: the tid of its
// latest revision, or 0 if it has none or the latest one is a deletion.
func currentSerial(ctx context.Context, q querier, oid zodb.Oid) (zodb.Tid, error) {
	tid, data, dataTid, err := revBefore(ctx, q, oid, zodb.TidMax)
	if err != nil {
		return 0, err
	}
	if data == nil && dataTid == 0 {
		return 0, nil
	}
	return tid, nil
}

// Iterate returns an iterator over committed transactions with
// tidMin <= tid <= tidMax in ascending tid order.
//
// Transaction metadata is read eagerly so that per-transaction object
// queries do not contend with the metadata cursor on the single
// connection.
func (s *Storage) Iterate(ctx context.Context, tidMin, tidMax zodb.Tid) zodb.Iterator {
	metas, err := s.readTxnMetas(ctx, tidMin, tidMax)
	return &iterator{s: s, metas: metas, err: err}
}

func (s *Storage) readTxnMetas(ctx context.Context, tidMin, tidMax zodb.Tid) ([]zodb.TxnMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tid, status, user, description, extension
		FROM transactions
		WHERE tid >= ? AND tid <= ?
		ORDER BY tid ASC
	`, int64(tidMin), int64(tidMax))
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var metas []zodb.TxnMeta
	for rows.Next() {
		var tid int64
		var status string
		var meta zodb.TxnMeta
		if err := rows.Scan(&tid, &status, &meta.User, &meta.Description, &meta.Extension); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		meta.Tid = zodb.Tid(tid)
		meta.Status = zodb.TxnStatus(status[0])
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return metas, nil
}

type iterator struct {
	s     *Storage
	metas []zodb.TxnMeta
	i     int
	err   error
}

func (it *iterator) Next(ctx context.Context) (*zodb.TxnRecord, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.i >= len(it.metas) {
		return nil, io.EOF
	}
	meta := it.metas[it.i]
	it.i++

	objects, err := it.s.readTxnObjects(ctx, meta.Tid)
	if err != nil {
		return nil, err
	}
	return &zodb.TxnRecord{TxnMeta: meta, Objects: objects}, nil
}

func (s *Storage) readTxnObjects(ctx context.Context, tid zodb.Tid) ([]zodb.DataRec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oid, data, data_tid
		FROM object_state
		WHERE tid = ?
		ORDER BY oid ASC
	`, int64(tid))
	if err != nil {
		return nil, fmt.Errorf("query objects of %s: %w", tid, err)
	}
	defer rows.Close()

	var objects []zodb.DataRec
	for rows.Next() {
		var oid int64
		var dataTid sql.NullInt64
		var rec zodb.DataRec
		if err := rows.Scan(&oid, &rec.Data, &dataTid); err != nil {
			return nil, fmt.Errorf("scan object of %s: %w", tid, err)
		}
		rec.Oid = zodb.Oid(oid)
		if dataTid.Valid {
			rec.DataTid = zodb.Tid(dataTid.Int64)
		}
		objects = append(objects, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects of %s: %w", tid, err)
	}
	return objects, nil
}
