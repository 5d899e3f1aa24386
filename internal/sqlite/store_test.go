package sqlite

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/zodbtool/internal/zodb"
)

func openTest(t *testing.T) *Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func meta(user string) *zodb.TxnMeta {
	return &zodb.TxnMeta{
		Status:      zodb.TxnComplete,
		User:        []byte(user),
		Description: []byte("test"),
		Extension:   []byte{},
	}
}

// commit runs a full 2PC cycle with the given store operations.
func commit(t *testing.T, s *Storage, m *zodb.TxnMeta, store func()) zodb.Tid {
	t.Helper()
	ctx := context.Background()
	if err := s.TpcBegin(ctx, m); err != nil {
		t.Fatalf("TpcBegin: %v", err)
	}
	store()
	if err := s.TpcVote(ctx, m); err != nil {
		t.Fatalf("TpcVote: %v", err)
	}
	tid, err := s.TpcFinish(ctx, m)
	if err != nil {
		t.Fatalf("TpcFinish: %v", err)
	}
	return tid
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if s.Name() != path {
		t.Errorf("Name() = %q, want %q", s.Name(), path)
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	ctx := context.Background()
	m := meta("a")
	commit(t, s1, m, func() {
		if err := s1.Store(ctx, 0, 0, []byte("v1"), m); err != nil {
			t.Fatalf("Store: %v", err)
		}
	})
	s1.Close()

	// data persists across reopen
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	head, err := s2.LastTid(ctx)
	if err != nil || head != 1 {
		t.Errorf("LastTid = %v, %v", head, err)
	}
	data, _, err := s2.LoadBefore(ctx, 0, zodb.TidMax)
	if err != nil || string(data) != "v1" {
		t.Errorf("LoadBefore = %q, %v", data, err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := openTest(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
	}
	for name, expected := range checks {
		if err := s.verifyPragma(name, expected); err != nil {
			t.Errorf("pragma %s: %v", name, err)
		}
	}
}

func TestLastTid_Empty(t *testing.T) {
	s := openTest(t)
	head, err := s.LastTid(context.Background())
	if err != nil || head != 0 {
		t.Errorf("LastTid = %v, %v, want 0", head, err)
	}
}

func TestCommit_Basic(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	m := meta("alice")
	tid := commit(t, s, m, func() {
		if err := s.Store(ctx, 0, 0, []byte("root"), m); err != nil {
			t.Fatalf("Store: %v", err)
		}
		if err := s.Store(ctx, 1, 0, []byte("child"), m); err != nil {
			t.Fatalf("Store: %v", err)
		}
	})
	if tid != 1 {
		t.Errorf("tid = %v, want 1", tid)
	}

	data, serial, err := s.LoadBefore(ctx, 1, zodb.TidMax)
	if err != nil || string(data) != "child" || serial != 1 {
		t.Errorf("LoadBefore = %q/%v/%v", data, serial, err)
	}
}

func TestLoadBefore_Semantics(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for i, v := range []string{"v1", "v2"} {
		m := meta("a")
		commit(t, s, m, func() {
			if err := s.Store(ctx, 0, zodb.Tid(i), []byte(v), m); err != nil {
				t.Fatalf("Store: %v", err)
			}
		})
	}

	// before is exclusive: tid < before
	data, serial, err := s.LoadBefore(ctx, 0, 2)
	if err != nil || string(data) != "v1" || serial != 1 {
		t.Errorf("LoadBefore(before=2) = %q/%v/%v", data, serial, err)
	}
	if _, _, err := s.LoadBefore(ctx, 0, 1); !zodb.IsNoData(err) {
		t.Errorf("LoadBefore(before=1): err = %v, want NoDataError", err)
	}
	if _, _, err := s.LoadBefore(ctx, 42, zodb.TidMax); !zodb.IsNoData(err) {
		t.Errorf("unknown oid: err = %v, want NoDataError", err)
	}
}

// insertRaw writes object_state rows directly, bypassing the commit
// protocol, to model a corrupted or hand-crafted database file.
func insertRaw(t *testing.T, s *Storage, oid zodb.Oid, tid zodb.Tid, data []byte, dataTid zodb.Tid) {
	t.Helper()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO transactions (tid, status, user, description, extension)
		VALUES (?, ' ', x'', x'', x'')
	`, int64(tid))
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	var d, dt any
	if data != nil {
		d = data
	}
	if dataTid != 0 {
		dt = int64(dataTid)
	}
	_, err = s.db.Exec(`
		INSERT INTO object_state (oid, tid, data, data_tid)
		VALUES (?, ?, ?, ?)
	`, int64(oid), int64(tid), d, dt)
	if err != nil {
		t.Fatalf("insert object_state: %v", err)
	}
}

func TestLoadBefore_DanglingBackpointer(t *testing.T) {
	ctx := context.Background()

	// a broken backpointer chain must error out, never loop
	t.Run("ToMissingFutureTid", func(t *testing.T) {
		s := openTest(t)
		insertRaw(t, s, 0, 1, nil, 99)

		_, _, err := s.LoadBefore(ctx, 0, 100)
		if err == nil || !strings.Contains(err.Error(), "dangling backpointer") {
			t.Errorf("err = %v, want dangling backpointer", err)
		}
	})

	t.Run("ToMissingEarlierTid", func(t *testing.T) {
		s := openTest(t)
		insertRaw(t, s, 0, 2, nil, 1)

		_, _, err := s.LoadBefore(ctx, 0, zodb.TidMax)
		if err == nil || !strings.Contains(err.Error(), "dangling backpointer") {
			t.Errorf("err = %v, want dangling backpointer", err)
		}
	})

	t.Run("ToDeletion", func(t *testing.T) {
		s := openTest(t)
		insertRaw(t, s, 0, 1, nil, 0) // deletion row
		insertRaw(t, s, 0, 2, nil, 1)

		_, _, err := s.LoadBefore(ctx, 0, zodb.TidMax)
		if err == nil || !strings.Contains(err.Error(), "dangling backpointer") {
			t.Errorf("err = %v, want dangling backpointer", err)
		}
	})

	t.Run("ToItself", func(t *testing.T) {
		s := openTest(t)
		insertRaw(t, s, 0, 1, nil, 1)

		_, _, err := s.LoadBefore(ctx, 0, zodb.TidMax)
		if err == nil || !strings.Contains(err.Error(), "dangling backpointer") {
			t.Errorf("err = %v, want dangling backpointer", err)
		}
	})
}

func TestDeleteObject(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	m := meta("a")
	commit(t, s, m, func() {
		if err := s.Store(ctx, 0, 0, []byte("v1"), m); err != nil {
			t.Fatalf("Store: %v", err)
		}
	})
	m2 := meta("a")
	commit(t, s, m2, func() {
		if err := s.DeleteObject(ctx, 0, 1, m2); err != nil {
			t.Fatalf("DeleteObject: %v", err)
		}
	})

	if _, _, err := s.LoadBefore(ctx, 0, zodb.TidMax); !zodb.IsNoData(err) {
		t.Errorf("after delete: err = %v, want NoDataError", err)
	}
	data, serial, err := s.LoadBefore(ctx, 0, 2)
	if err != nil || string(data) != "v1" || serial != 1 {
		t.Errorf("pre-delete revision: %q/%v/%v", data, serial, err)
	}
}

func TestStoreCopy_Backpointer(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	m := meta("a")
	commit(t, s, m, func() {
		if err := s.Store(ctx, 0, 0, []byte("orig"), m); err != nil {
			t.Fatalf("Store: %v", err)
		}
	})
	m2 := meta("a")
	commit(t, s, m2, func() {
		if err := s.DeleteObject(ctx, 0, 1, m2); err != nil {
			t.Fatalf("DeleteObject: %v", err)
		}
	})
	m3 := meta("a")
	commit(t, s, m3, func() {
		if err := s.StoreCopy(ctx, 0, 0, 1, m3); err != nil {
			t.Fatalf("StoreCopy: %v", err)
		}
	})

	// loads materialize through the backpointer
	data, serial, err := s.LoadBefore(ctx, 0, zodb.TidMax)
	if err != nil || string(data) != "orig" || serial != 3 {
		t.Errorf("LoadBefore = %q/%v/%v, want orig/3", data, serial, err)
	}

	// the iteration record preserves the backpointer itself
	it := s.Iterate(ctx, 3, 3)
	rec, err := it.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(rec.Objects) != 1 || rec.Objects[0].DataTid != 1 || rec.Objects[0].Data != nil {
		t.Errorf("rec.Objects = %+v, want backpointer to 1", rec.Objects)
	}
}

func TestTpcVote_Conflict(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	m := meta("a")
	commit(t, s, m, func() {
		if err := s.Store(ctx, 0, 0, []byte("v1"), m); err != nil {
			t.Fatalf("Store: %v", err)
		}
	})
	m2 := meta("a")
	commit(t, s, m2, func() {
		if err := s.Store(ctx, 0, 1, []byte("v2"), m2); err != nil {
			t.Fatalf("Store: %v", err)
		}
	})

	m3 := meta("b")
	if err := s.TpcBegin(ctx, m3); err != nil {
		t.Fatalf("TpcBegin: %v", err)
	}
	if err := s.Store(ctx, 0, 1, []byte("stale"), m3); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.TpcVote(ctx, m3); !zodb.IsConflict(err) {
		t.Errorf("TpcVote: err = %v, want ConflictError", err)
	}
	if err := s.TpcAbort(ctx, m3); err != nil {
		t.Fatalf("TpcAbort: %v", err)
	}

	// nothing was written
	data, _, err := s.LoadBefore(ctx, 0, zodb.TidMax)
	if err != nil || string(data) != "v2" {
		t.Errorf("LoadBefore = %q, %v", data, err)
	}
}

func TestTpcAbort_LeavesDatabaseUntouched(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	m := meta("a")
	if err := s.TpcBegin(ctx, m); err != nil {
		t.Fatalf("TpcBegin: %v", err)
	}
	if err := s.Store(ctx, 0, 0, []byte("v1"), m); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.TpcAbort(ctx, m); err != nil {
		t.Fatalf("TpcAbort: %v", err)
	}

	head, err := s.LastTid(ctx)
	if err != nil || head != 0 {
		t.Errorf("LastTid after abort = %v, %v", head, err)
	}
}

func TestExactTid(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if !s.SupportsExactTid() {
		t.Fatal("SupportsExactTid should be true")
	}

	m := meta("a")
	m.Tid = 0x285
	tid := commit(t, s, m, func() {
		if err := s.Store(ctx, 0, 0, []byte("v1"), m); err != nil {
			t.Fatalf("Store: %v", err)
		}
	})
	if tid != 0x285 {
		t.Errorf("tid = %v, want 0x285", tid)
	}

	// tids must keep increasing
	m2 := meta("a")
	m2.Tid = 0x100
	if err := s.TpcBegin(ctx, m2); err != nil {
		t.Fatalf("TpcBegin: %v", err)
	}
	if err := s.Store(ctx, 1, 0, []byte("v2"), m2); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.TpcVote(ctx, m2); err != nil {
		t.Fatalf("TpcVote: %v", err)
	}
	if _, err := s.TpcFinish(ctx, m2); err == nil {
		t.Error("TpcFinish with non-increasing tid should fail")
	}
	_ = s.TpcAbort(ctx, m2)
}

func TestStore_NilData(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	m := meta("a")
	if err := s.TpcBegin(ctx, m); err != nil {
		t.Fatalf("TpcBegin: %v", err)
	}
	if err := s.Store(ctx, 0, 0, nil, m); err == nil {
		t.Error("Store(nil) should fail")
	}
	_ = s.TpcAbort(ctx, m)
}

func TestIterate(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for i, v := range []string{"v1", "v2", "v3"} {
		m := meta("a")
		commit(t, s, m, func() {
			if err := s.Store(ctx, 0, zodb.Tid(i), []byte(v), m); err != nil {
				t.Fatalf("Store: %v", err)
			}
		})
	}

	// inclusive range
	it := s.Iterate(ctx, 2, 3)
	var tids []zodb.Tid
	for {
		rec, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		tids = append(tids, rec.Tid)
	}
	if len(tids) != 2 || tids[0] != 2 || tids[1] != 3 {
		t.Errorf("tids = %v, want [2 3]", tids)
	}

	// empty metadata comes back as empty, not nil-induced garbage
	it = s.Iterate(ctx, 1, 1)
	rec, err := it.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(rec.User) != "a" || string(rec.Description) != "test" || len(rec.Extension) != 0 {
		t.Errorf("metadata = %q/%q/%q", rec.User, rec.Description, rec.Extension)
	}
	if len(rec.Objects) != 1 || string(rec.Objects[0].Data) != "v1" {
		t.Errorf("rec.Objects = %+v", rec.Objects)
	}

	// inverted range: immediately empty
	it = s.Iterate(ctx, 3, 1)
	if _, err := it.Next(ctx); err != io.EOF {
		t.Errorf("inverted range: err = %v, want io.EOF", err)
	}
}
