// Package zodbrestore recreates the transactions of a dump stream in a
// storage, reproducing history identically.
package zodbrestore

import (
	"context"
	"io"

	"github.com/roach88/zodbtool/internal/zodb"
	"github.com/roach88/zodbtool/internal/zodbcommit"
	"github.com/roach88/zodbtool/internal/zodbdump"
)

// Restore reads transactions from r in dump format and commits each into
// stor under its original tid (exact-tid mode). restoredf, if non-nil, is
// called after every restored transaction.
//
// Restoration stops at the first parse or commit error; because the commit
// engine aborts atomically, no transaction is ever left half-applied.
func Restore(ctx context.Context, stor zodb.Storage, r *zodbdump.DumpReader, restoredf func(*zodbdump.Transaction)) error {
	at, err := stor.LastTid(ctx)
	if err != nil {
		return err
	}

	for {
		txn, err := r.ReadTxn()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := zodbcommit.Commit(ctx, stor, at, txn); err != nil {
			return err
		}
		if restoredf != nil {
			restoredf(txn)
		}
		at = txn.Tid
	}
}
