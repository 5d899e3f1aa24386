package zodb

import "context"

// Storage is the narrow store interface the dump, commit and replication
// layers consume. Implementations arbitrate concurrent writers themselves:
// per-object writes carry the serial the caller observed, and the store
// raises ConflictError if a newer revision exists.
//
// A Storage value is exclusively owned by one operation (dump, restore,
// sync) for the duration of that operation; the core performs no locking of
// its own.
type Storage interface {
	// Name identifies the storage in diagnostics (a path, usually).
	Name() string

	// LastTid returns the current head: the tid of the most recently
	// committed transaction, or 0 if the store is empty.
	LastTid(ctx context.Context) (Tid, error)

	// Iterate returns an iterator over committed transactions with
	// tidMin <= tid <= tidMax, in ascending tid order. An empty or
	// inverted range yields an iterator that is immediately exhausted;
	// it is not an error.
	Iterate(ctx context.Context, tidMin, tidMax Tid) Iterator

	// LoadBefore returns the object's value and serial as of the latest
	// revision with tid < before. Backpointers are resolved: Data is
	// always materialized bytes. If the object has no value there
	// (never existed, or deleted as of before) the error is a
	// *NoDataError.
	LoadBefore(ctx context.Context, oid Oid, before Tid) (data []byte, serial Tid, err error)

	// TpcBegin opens a two-phase commit for meta. If meta.Tid is
	// non-zero and the storage supports exact-tid restore, the
	// transaction is recreated under exactly that tid and status.
	TpcBegin(ctx context.Context, meta *TxnMeta) error

	// Store writes a new object value inside an open commit.
	// prevSerial is the revision the caller observed for oid (0 for
	// "no prior revision"); the store reports ConflictError at vote or
	// finish time if it is stale.
	Store(ctx context.Context, oid Oid, prevSerial Tid, data []byte, meta *TxnMeta) error

	// StoreCopy records that oid's value as of this transaction is
	// byte-identical to its value as of copyFrom, without duplicating
	// the bytes. Only valid when SupportsCopy reports true.
	StoreCopy(ctx context.Context, oid Oid, prevSerial, copyFrom Tid, meta *TxnMeta) error

	// DeleteObject removes oid's value inside an open commit, with the
	// same prevSerial precondition as Store.
	DeleteObject(ctx context.Context, oid Oid, prevSerial Tid, meta *TxnMeta) error

	// TpcVote validates the open commit and reports conflicts.
	TpcVote(ctx context.Context, meta *TxnMeta) error

	// TpcFinish durably commits and returns the assigned tid.
	TpcFinish(ctx context.Context, meta *TxnMeta) (Tid, error)

	// TpcAbort discards the open commit. Safe to call after a failed
	// vote or finish; the store state is left unchanged.
	TpcAbort(ctx context.Context, meta *TxnMeta) error

	// SupportsExactTid reports whether TpcBegin honors a non-zero
	// meta.Tid. Storages without it still get exact-tid commits via
	// best-effort emulation, validated after the fact.
	SupportsExactTid() bool

	// SupportsCopy reports whether StoreCopy is available.
	SupportsCopy() bool

	Close() error
}

// Iterator yields committed transactions in ascending tid order.
type Iterator interface {
	// Next returns the next transaction, or io.EOF after the last one.
	Next(ctx context.Context) (*TxnRecord, error)
}
