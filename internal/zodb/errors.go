package zodb

import (
	"errors"
	"fmt"
)

// ConflictError is raised by a storage when a per-object write carries a
// stale serial: a concurrent writer advanced the object past the caller's
// view. The commit layer propagates it unchanged; retrying with a fresh head
// is the caller's decision.
type ConflictError struct {
	Oid    Oid
	Serial Tid // revision currently committed for Oid
	Prev   Tid // serial the failed write was based on
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: oid %s: observed serial %s, committed %s", e.Oid, e.Prev, e.Serial)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// NoDataError is returned by LoadBefore when an object has no value as of
// the requested point: it never existed, or its latest revision before that
// point is a deletion.
type NoDataError struct {
	Oid    Oid
	Before Tid
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("oid %s: no data before %s", e.Oid, e.Before)
}

// IsNoData reports whether err is (or wraps) a NoDataError.
func IsNoData(err error) bool {
	var ne *NoDataError
	return errors.As(err, &ne)
}
