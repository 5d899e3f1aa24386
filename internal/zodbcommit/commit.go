// Package zodbcommit replays one parsed transaction against a live storage
// using the store's two-phase commit protocol and optimistic conflict
// checks.
package zodbcommit

import (
	"context"
	"fmt"

	"github.com/roach88/zodbtool/internal/zodb"
	"github.com/roach88/zodbtool/internal/zodbdump"
)

// HashOnlyError rejects a commit of a transaction that carries only hashes
// for some object: withheld payload bytes can never be committed. It is
// raised before any store interaction.
type HashOnlyError struct {
	Oid zodb.Oid
}

func (e *HashOnlyError) Error() string {
	return fmt.Sprintf("cannot commit transaction with hashonly object %s", e.Oid)
}

// CopyMissingError reports an ObjectCopy whose source revision does not
// exist in the target store: the copy cannot be satisfied.
type CopyMissingError struct {
	Oid      zodb.Oid
	CopyFrom zodb.Tid
}

func (e *CopyMissingError) Error() string {
	return fmt.Sprintf("cannot copy oid %s from %s: no data", e.Oid, e.CopyFrom)
}

// TidMismatchError reports that an exact-tid commit finished under a
// different tid than requested. It means the replayed history has diverged
// and must never be ignored.
type TidMismatchError struct {
	Requested zodb.Tid
	Committed zodb.Tid
}

func (e *TidMismatchError) Error() string {
	return fmt.Sprintf("restore: storage committed tid %s, requested %s", e.Committed, e.Requested)
}

// Commit replays txn against stor. at is the caller's believed current head
// of stor; per-object conflict preconditions are computed relative to it,
// and the store is the final arbiter (ConflictError is propagated
// unchanged, without retry).
//
// Two modes, selected by txn.Tid:
//
//	zero      regular commit; the store assigns a fresh tid at finish
//	non-zero  exact-tid restore: the transaction is recreated under
//	          txn.Tid and txn.Status. If the store lacks native exact-tid
//	          support the commit still proceeds, but a finish tid other
//	          than the requested one is a TidMismatchError.
//
// On any per-object failure the whole transaction is aborted; the store
// state is left unchanged. On success the finish-assigned tid is returned.
func Commit(ctx context.Context, stor zodb.Storage, at zodb.Tid, txn *zodbdump.Transaction) (zodb.Tid, error) {
	// a hash-only object can never be committed; check all records
	// before the store sees anything
	for _, obj := range txn.Objv {
		if data, ok := obj.(zodbdump.ObjectData); ok && data.HashOnly {
			return 0, &HashOnlyError{Oid: data.Oid}
		}
	}

	meta := &zodb.TxnMeta{
		Tid:         txn.Tid,
		Status:      txn.Status,
		User:        txn.User,
		Description: txn.Description,
		Extension:   txn.Extension,
	}
	if meta.Status == 0 {
		meta.Status = zodb.TxnComplete
	}
	if !stor.SupportsExactTid() {
		// best-effort emulation: commit regularly, validate after
		// finish
		meta.Tid = 0
	}

	if err := stor.TpcBegin(ctx, meta); err != nil {
		return 0, fmt.Errorf("commit %s: %w", stor.Name(), err)
	}

	tid, err := storeObjects(ctx, stor, at, txn, meta)
	if err != nil {
		stor.TpcAbort(ctx, meta)
		return 0, err
	}

	if txn.Tid != 0 && tid != txn.Tid {
		return 0, &TidMismatchError{Requested: txn.Tid, Committed: tid}
	}
	return tid, nil
}

// storeObjects runs the per-object writes, vote and finish for an open
// commit. The caller aborts on error.
func storeObjects(ctx context.Context, stor zodb.Storage, at zodb.Tid, txn *zodbdump.Transaction, meta *zodb.TxnMeta) (zodb.Tid, error) {
	before := at + 1

	for _, obj := range txn.Objv {
		// the serial of the object as of state `at`, or 0 if it has
		// no prior revision; this is the optimistic-concurrency
		// precondition the store checks
		var prevSerial zodb.Tid
		_, serial, err := stor.LoadBefore(ctx, obj.Id(), before)
		switch {
		case err == nil:
			prevSerial = serial
		case zodb.IsNoData(err):
			prevSerial = 0
		default:
			return 0, fmt.Errorf("commit %s: oid %s: %w", stor.Name(), obj.Id(), err)
		}

		switch o := obj.(type) {
		case zodbdump.ObjectDelete:
			err = stor.DeleteObject(ctx, o.Oid, prevSerial, meta)

		case zodbdump.ObjectCopy:
			err = storeCopy(ctx, stor, o, prevSerial, meta)

		case zodbdump.ObjectData:
			err = stor.Store(ctx, o.Oid, prevSerial, o.Data, meta)

		default:
			err = fmt.Errorf("invalid object record %T", obj)
		}
		if err != nil {
			return 0, fmt.Errorf("commit %s: oid %s: %w", stor.Name(), obj.Id(), err)
		}
	}

	if err := stor.TpcVote(ctx, meta); err != nil {
		return 0, fmt.Errorf("commit %s: %w", stor.Name(), err)
	}
	tid, err := stor.TpcFinish(ctx, meta)
	if err != nil {
		return 0, fmt.Errorf("commit %s: %w", stor.Name(), err)
	}
	return tid, nil
}

// storeCopy replays one ObjectCopy. Stores that can keep a backpointer get
// one; otherwise the copy is imitated by materializing the source revision
// and storing it as a fresh write, letting the storage deduplicate if it
// can. Either way the source revision must exist.
func storeCopy(ctx context.Context, stor zodb.Storage, o zodbdump.ObjectCopy, prevSerial zodb.Tid, meta *zodb.TxnMeta) error {
	data, _, err := stor.LoadBefore(ctx, o.Oid, o.CopyFrom+1)
	if err != nil {
		if zodb.IsNoData(err) {
			return &CopyMissingError{Oid: o.Oid, CopyFrom: o.CopyFrom}
		}
		return err
	}

	if stor.SupportsCopy() {
		return stor.StoreCopy(ctx, o.Oid, prevSerial, o.CopyFrom, meta)
	}
	return stor.Store(ctx, o.Oid, prevSerial, data, meta)
}
