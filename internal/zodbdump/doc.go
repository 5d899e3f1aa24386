// Package zodbdump serializes and parses the transaction-log interchange
// format: a semi text-binary stream where object payloads are raw bytes and
// everything else is text. A dump taken from a storage can be restored
// bit-to-bit identical to the original.
//
// Raw dump format:
//
//	txn <tid> <status|quote>
//	user <user|quote>
//	description <description|quote>
//	extension <extension|quote>
//	obj <oid> (delete | from <tid> | <size> <hashfunc>:<hash> (-|LF <raw-content>)) LF
//	obj ...
//	...
//	LF
//	txn ...
//
// quote wraps a byte string in '"' with '"', control and non-printable
// bytes backslash-escaped; the escaping loses no information, so quoted
// fields round-trip arbitrary binary content. hashfunc is a name registered
// in package hashreg (sha1 by default). A transaction with zero objects is
// valid. The hash-only variant (trailing " -") preserves size and hash of a
// payload without the payload itself.
package zodbdump
