package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSchemaCreatedOnce(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "voton.db")

	s, err := NewSQLiteStoreWithDSN(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, &Page{ID: "p1", Title: "Kept"}))
	require.NoError(t, s.Close())

	// Reopening must not recreate or wipe the table.
	s, err = NewSQLiteStoreWithDSN(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, version)

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Kept", got.Title)
}

func TestOpenUnavailable(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "missing", "dir", "voton.db")

	_, err := NewSQLiteStoreWithDSN(context.Background(), dsn)
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestOpenNewerSchemaVersion(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "future.db")

	raw, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	_, err = raw.Exec("PRAGMA user_version = 2")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = NewSQLiteStoreWithDSN(ctx, dsn)
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestPageCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	page := &Page{
		ID:         "p1",
		Title:      "Notes",
		Content:    String(`[{"type":"paragraph"}]`),
		CoverImage: String(""),
		Icon:       String("📄"),
	}
	require.NoError(t, s.Insert(ctx, page))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	if diff := cmp.Diff(page, got); diff != "" {
		t.Fatalf("page mismatch (-want +got):\n%s", diff)
	}

	// Explicit empty string and absence stay distinct.
	require.NotNil(t, got.CoverImage)
	require.Nil(t, got.ParentDocument)

	page.Title = "Renamed"
	page.Icon = nil
	require.NoError(t, s.Put(ctx, page))

	got, err = s.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Title)
	require.Nil(t, got.Icon)

	ok, err := s.Delete(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Delete(ctx, "p1")
	require.NoError(t, err)
	require.False(t, ok)

	got, err = s.Get(ctx, "p1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestInsertDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, &Page{ID: "dup", Title: "A"}))
	err := s.Insert(ctx, &Page{ID: "dup", Title: "B"})
	require.ErrorIs(t, err, ErrDuplicateID)

	got, err := s.Get(ctx, "dup")
	require.NoError(t, err)
	require.Equal(t, "A", got.Title)
}

func TestIndexLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.InsertAll(ctx, []*Page{
		{ID: "root", Title: "Root"},
		{ID: "c1", Title: "Child", ParentDocument: String("root")},
		{ID: "c2", Title: "Child", ParentDocument: String("root")},
		{ID: "other", Title: "Other", ParentDocument: String("c1")},
	}))

	children, err := s.ByParent(ctx, "root")
	require.NoError(t, err)
	require.Len(t, children, 2)

	none, err := s.ByParent(ctx, "nope")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)

	titled, err := s.ByTitle(ctx, "Child")
	require.NoError(t, err)
	require.Len(t, titled, 2)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, count)
}

func TestInsertAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.InsertAll(ctx, []*Page{
		{ID: "a", Title: "A"},
		{ID: "b", Title: "B"},
		{ID: "a", Title: "A again"},
	})
	require.ErrorIs(t, err, ErrDuplicateID)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestReplaceKeepsOldRowsOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, &Page{ID: "old", Title: "Old"}))

	err := s.Replace(ctx, []*Page{{ID: "x", Title: "X"}, {ID: "x", Title: "X"}})
	require.ErrorIs(t, err, ErrDuplicateID)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "old", all[0].ID)

	require.NoError(t, s.Replace(ctx, []*Page{{ID: "new", Title: "New"}}))
	all, err = s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "new", all[0].ID)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.InsertAll(ctx, []*Page{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}))
	require.NoError(t, s.Clear(ctx))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestCanceledContextIsIOError(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.All(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrIO) || errors.Is(err, context.Canceled))
}

func TestOpenerSingleFlight(t *testing.T) {
	ctx := context.Background()
	o := NewOpener("file:"+filepath.Join(t.TempDir(), "shared.db"), zerolog.Nop())
	defer o.Close()

	const callers = 16
	handles := make([]*SQLiteStore, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = o.Open(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Same(t, handles[0], handles[i])
	}
}

func TestOpenerRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	o := NewOpener("file:"+filepath.Join(t.TempDir(), "missing", "x.db"), zerolog.Nop())

	_, err := o.Open(ctx)
	require.ErrorIs(t, err, ErrStorageUnavailable)

	o.DSN = "file:" + filepath.Join(t.TempDir(), "ok.db")
	s, err := o.Open(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.NoError(t, o.Close())
}

func TestSharedReturnsSameHandle(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "process.db")

	a, err := Shared(ctx, dsn)
	require.NoError(t, err)
	b, err := Shared(ctx, dsn)
	require.NoError(t, err)
	require.Same(t, a, b)
}
