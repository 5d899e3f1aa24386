package cli

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/zodbtool/internal/sqlite"
	"github.com/roach88/zodbtool/internal/zodb"
	"github.com/roach88/zodbtool/internal/zodbcommit"
	"github.com/roach88/zodbtool/internal/zodbdump"
)

// execCommand runs the CLI with the given args and returns captured output.
func execCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errw bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errw)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errw.String(), err
}

// tempDB returns a path for a fresh SQLite storage in a per-test dir.
func tempDB(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// commitData commits one transaction holding a single data object and
// returns the assigned tid.
func commitData(t *testing.T, dbPath, user, desc string, oid zodb.Oid, data string) zodb.Tid {
	t.Helper()
	stor, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer stor.Close()

	ctx := context.Background()
	at, err := stor.LastTid(ctx)
	require.NoError(t, err)

	digest := sha1.Sum([]byte(data))
	txn := &zodbdump.Transaction{
		Status:      zodb.TxnComplete,
		User:        []byte(user),
		Description: []byte(desc),
		Extension:   []byte{},
		Objv: []zodbdump.ObjectRec{
			zodbdump.ObjectData{
				Object:   zodbdump.Object{Oid: oid},
				Data:     []byte(data),
				Size:     int64(len(data)),
				HashFunc: "sha1",
				Hash:     digest[:],
			},
		},
	}
	tid, err := zodbcommit.Commit(ctx, stor, at, txn)
	require.NoError(t, err)
	return tid
}

// sha1hex returns the hex sha1 digest of s.
func sha1hex(s string) string {
	d := sha1.Sum([]byte(s))
	return hex.EncodeToString(d[:])
}
