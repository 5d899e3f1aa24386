// Package zodb defines the identifiers, record types and the storage
// interface shared by the dump, commit and replication layers.
//
// A store is addressed by two fixed-width identifiers: a monotonically
// increasing transaction id (tid) and an object id (oid). Both are 8 bytes
// big-endian on the wire; in memory they are plain uint64. The store itself
// (its on-disk layout, durability, network protocol) is an external
// collaborator reached only through the Storage interface.
package zodb

import (
	"fmt"
	"strconv"
)

// Tid is a transaction identifier, strictly increasing with commit order.
// The zero Tid means "no transaction" (empty store head, or a commit request
// that lets the store assign a fresh tid).
type Tid uint64

// Oid is an object identifier, stable for the object's lifetime.
type Oid uint64

// TidMax is the highest usable tid. Tids are persisted as signed 64-bit
// INTEGER columns, which caps the range at 2^63-1.
const TidMax Tid = 1<<63 - 1

// Hex returns the canonical 16-digit lowercase hex form used in the dump
// format and in CLI output.
func (tid Tid) Hex() string { return fmt.Sprintf("%016x", uint64(tid)) }

// Hex returns the canonical 16-digit lowercase hex form.
func (oid Oid) Hex() string { return fmt.Sprintf("%016x", uint64(oid)) }

func (tid Tid) String() string { return tid.Hex() }
func (oid Oid) String() string { return oid.Hex() }

// ParseTid parses a tid from its canonical 16-digit hex form.
func ParseTid(s string) (Tid, error) {
	v, err := parseHex64(s)
	if err != nil {
		return 0, fmt.Errorf("invalid tid %q", s)
	}
	return Tid(v), nil
}

// ParseOid parses an oid from its canonical 16-digit hex form.
func ParseOid(s string) (Oid, error) {
	v, err := parseHex64(s)
	if err != nil {
		return 0, fmt.Errorf("invalid oid %q", s)
	}
	return Oid(v), nil
}

func parseHex64(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("need 16 hex digits, have %d", len(s))
	}
	return strconv.ParseUint(s, 16, 64)
}

// TxnStatus is the single-character status tag of a transaction record.
type TxnStatus byte

const (
	// TxnComplete marks a regular committed transaction.
	TxnComplete TxnStatus = ' '
	// TxnPacked marks a transaction that was packed away.
	TxnPacked TxnStatus = 'p'
)

// Valid reports whether the status is a printable single-byte tag.
func (s TxnStatus) Valid() bool { return s >= 0x20 && s < 0x7f }

// TxnMeta is the metadata of one transaction: its id, status and the three
// opaque byte strings attached by the committer. Extension is an opaque,
// possibly empty, serialized metadata blob; nothing in this repo interprets
// it.
type TxnMeta struct {
	Tid         Tid
	Status      TxnStatus
	User        []byte
	Description []byte
	Extension   []byte
}

// DataRec is one object revision as reported by storage iteration.
//
//	Data != nil, DataTid == 0  new object value
//	Data == nil, DataTid == 0  object deleted as of this transaction
//	DataTid != 0               value is byte-identical to the revision
//	                           committed by transaction DataTid (backpointer)
type DataRec struct {
	Oid     Oid
	Data    []byte
	DataTid Tid
}

// TxnRecord couples transaction metadata with the object revisions it
// committed, as yielded by Storage.Iterate.
type TxnRecord struct {
	TxnMeta
	Objects []DataRec
}
