package zodb

import (
	"fmt"
	"strings"
)

// TidRangeError reports an unparseable tid range argument.
type TidRangeError struct {
	Input  string
	Reason string
}

func (e *TidRangeError) Error() string {
	return fmt.Sprintf("invalid tid range %q: %s", e.Input, e.Reason)
}

// ParseTidRange parses "tidmin..tidmax" into an inclusive range. Either
// side may be empty: an empty tidmin means 0 (start of history), an empty
// tidmax means TidMax (everything up to head). Each non-empty side must be
// 16 hex digits.
func ParseTidRange(s string) (tidMin, tidMax Tid, err error) {
	lo, hi, found := strings.Cut(s, "..")
	if !found {
		return 0, 0, &TidRangeError{Input: s, Reason: `missing ".."`}
	}

	tidMin, tidMax = 0, TidMax
	if lo != "" {
		tidMin, err = ParseTid(lo)
		if err != nil {
			return 0, 0, &TidRangeError{Input: s, Reason: err.Error()}
		}
	}
	if hi != "" {
		tidMax, err = ParseTid(hi)
		if err != nil {
			return 0, 0, &TidRangeError{Input: s, Reason: err.Error()}
		}
	}
	return tidMin, tidMax, nil
}
