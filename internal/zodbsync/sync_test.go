package zodbsync_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zodbtool/internal/memstore"
	"github.com/roach88/zodbtool/internal/zodb"
	"github.com/roach88/zodbtool/internal/zodbcommit"
	"github.com/roach88/zodbtool/internal/zodbdump"
	"github.com/roach88/zodbtool/internal/zodbsync"
)

func commitData(t *testing.T, stor zodb.Storage, at zodb.Tid, oid zodb.Oid, data string) zodb.Tid {
	t.Helper()
	txn := &zodbdump.Transaction{
		Status:      zodb.TxnComplete,
		User:        []byte("test"),
		Description: []byte("sync test"),
		Extension:   []byte{},
		Objv: []zodbdump.ObjectRec{zodbdump.ObjectData{
			Object:   zodbdump.Object{Oid: oid},
			Data:     []byte(data),
			Size:     int64(len(data)),
			HashFunc: "null",
			Hash:     []byte{0},
		}},
	}
	tid, err := zodbcommit.Commit(context.Background(), stor, at, txn)
	require.NoError(t, err)
	return tid
}

func dumpAll(t *testing.T, stor zodb.Storage) string {
	t.Helper()
	var buf bytes.Buffer
	err := zodbdump.Dump(context.Background(), &buf, stor, 0, zodb.TidMax, zodbdump.DumpOptions{})
	require.NoError(t, err)
	return buf.String()
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	primary := memstore.New()
	at := commitData(t, primary, 0, 0, "one")
	at = commitData(t, primary, at, 1, "two")
	commitData(t, primary, at, 0, "three")

	secondary := memstore.New()
	n, err := zodbsync.Sync(ctx, primary, secondary, 0, zodbsync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// the replica's full dump is bit-identical to the primary's
	assert.Equal(t, dumpAll(t, primary), dumpAll(t, secondary))
}

func TestSyncResume(t *testing.T) {
	ctx := context.Background()
	primary := memstore.New()
	at := commitData(t, primary, 0, 0, "one")

	secondary := memstore.New()
	n, err := zodbsync.Sync(ctx, primary, secondary, 0, zodbsync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// nothing new: a second run is a no-op
	n, err = zodbsync.Sync(ctx, primary, secondary, 0, zodbsync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// only transactions after the secondary's head are pulled
	at = commitData(t, primary, at, 1, "two")
	commitData(t, primary, at, 2, "three")
	n, err = zodbsync.Sync(ctx, primary, secondary, 0, zodbsync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, dumpAll(t, primary), dumpAll(t, secondary))
}

func TestSyncUntil(t *testing.T) {
	ctx := context.Background()
	primary := memstore.New()
	at := commitData(t, primary, 0, 0, "one")
	commitData(t, primary, at, 1, "two")

	secondary := memstore.New()
	n, err := zodbsync.Sync(ctx, primary, secondary, 1, zodbsync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	head, err := secondary.LastTid(ctx)
	require.NoError(t, err)
	assert.Equal(t, zodb.Tid(1), head)
}

func TestSyncEmptyPrimary(t *testing.T) {
	ctx := context.Background()
	n, err := zodbsync.Sync(ctx, memstore.New(), memstore.New(), 0, zodbsync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSyncVerbose(t *testing.T) {
	ctx := context.Background()
	primary := memstore.New()
	commitData(t, primary, 0, 0, "one")

	var log bytes.Buffer
	n, err := zodbsync.Sync(ctx, primary, memstore.New(), 0, zodbsync.Options{
		Verbosity: 2,
		Out:       &log,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out := log.String()
	assert.Contains(t, out, "0000000000000001")
	assert.Contains(t, out, "replicated 1 transaction(s)")
	// every run is tagged with its own id
	assert.True(t, strings.Contains(out, "sync "), "missing run diagnostics:\n%s", out)
}
