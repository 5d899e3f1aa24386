package zodbdump

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/roach88/zodbtool/internal/zodb"
)

// Transaction is one transaction record in a dump stream: metadata plus the
// object records it committed. Records are immutable once constructed; they
// are built either from storage iteration (write path) or by the reader
// (parse path), consumed once, then discarded.
type Transaction struct {
	Tid         zodb.Tid
	Status      zodb.TxnStatus
	User        []byte
	Description []byte
	Extension   []byte
	Objv        []ObjectRec
}

// ObjectRec is the sum type over the three object record variants:
// ObjectDelete, ObjectCopy and ObjectData. Every consumer switches
// exhaustively over these.
type ObjectRec interface {
	// Id returns the oid the record is about.
	Id() zodb.Oid

	encodeTo(buf *bytes.Buffer)
}

// Object is the part common to all object record variants.
type Object struct {
	Oid zodb.Oid
}

// Id implements ObjectRec.
func (o Object) Id() zodb.Oid { return o.Oid }

// ObjectDelete records that the object's value is removed as of this
// transaction.
type ObjectDelete struct {
	Object
}

// ObjectCopy records that the object's value as of this transaction is
// byte-identical to its value as of CopyFrom.
type ObjectCopy struct {
	Object
	CopyFrom zodb.Tid
}

// ObjectData carries an object's new value together with its content hash.
// In hash-only records the payload bytes are withheld: Data is nil,
// HashOnly is true and Size keeps the original byte length. Otherwise
// Size == int64(len(Data)) and Hash == HashFunc(Data) always.
type ObjectData struct {
	Object
	Data     []byte
	Size     int64
	HashOnly bool
	HashFunc string
	Hash     []byte
}

// Encode returns the semi text-binary representation of the transaction in
// dump format, terminated by the blank line.
func (t *Transaction) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "txn %s %s\n", t.Tid.Hex(), Quote([]byte{byte(t.Status)}))
	fmt.Fprintf(&buf, "user %s\n", Quote(t.User))
	fmt.Fprintf(&buf, "description %s\n", Quote(t.Description))
	fmt.Fprintf(&buf, "extension %s\n", Quote(t.Extension))
	for _, obj := range t.Objv {
		obj.encodeTo(&buf)
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func (o ObjectDelete) encodeTo(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "obj %s delete\n", o.Oid.Hex())
}

func (o ObjectCopy) encodeTo(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "obj %s from %s\n", o.Oid.Hex(), o.CopyFrom.Hex())
}

func (o ObjectData) encodeTo(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "obj %s %d %s:%s", o.Oid.Hex(), o.Size, o.HashFunc, hex.EncodeToString(o.Hash))
	if o.HashOnly {
		buf.WriteString(" -")
	} else {
		buf.WriteByte('\n')
		buf.Write(o.Data)
	}
	buf.WriteByte('\n')
}
