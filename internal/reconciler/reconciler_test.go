package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixnav/nixnavd/internal/bookmark"
	"github.com/nixnav/nixnavd/internal/persistence"
	"github.com/nixnav/nixnavd/internal/scanner"
	"github.com/nixnav/nixnavd/internal/store"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *bookmark.Registry) {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "nixnav_test_reconciler_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	db, err := persistence.Open(filepath.Join(tempDir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	w := persistence.NewWriter(db)
	t.Cleanup(w.Close)

	st := store.New()
	bm := bookmark.New(w)
	r := New(st, bm, w, scanner.New(), 0, 0, 0)
	return r, st, bm
}

func TestIntegrityPass_RemovesDeletedFile(t *testing.T) {
	r, st, _ := newTestReconciler(t)

	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	st.Insert(path, false, 1, 1, 1)

	require.NoError(t, os.Remove(path))
	r.integrityPass()

	_, ok := st.LookupPath(path)
	assert.False(t, ok)
}

func TestIntegrityPass_KeepsExistingFile(t *testing.T) {
	r, st, _ := newTestReconciler(t)

	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	st.Insert(path, false, 1, 1, 1)

	r.integrityPass()

	_, ok := st.LookupPath(path)
	assert.True(t, ok)
}

func TestIntegrityPass_OffsetWrapsAfterFullSweep(t *testing.T) {
	r, st, _ := newTestReconciler(t)

	root := t.TempDir()
	for i := 0; i < 3; i++ {
		p := filepath.Join(root, string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		st.Insert(p, false, 1, 1, 1)
	}

	r.integrityPass() // batch size (5000) exceeds the 3 records, so one pass covers all
	assert.Equal(t, 3, r.offset)

	r.integrityPass() // offset >= len(all) wraps back to the start
	assert.Equal(t, 3, r.offset)
}

func TestNetworkPass_RemovesPathsGoneFromDisk(t *testing.T) {
	r, st, bm := newTestReconciler(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("x"), 0o644))
	toRemove := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(toRemove, []byte("x"), 0o644))

	b, err := bm.Add("net", root, true)
	require.NoError(t, err)

	r.rescanOne(context.Background(), b)
	_, ok := st.LookupPath(toRemove)
	require.True(t, ok)

	require.NoError(t, os.Remove(toRemove))
	r.rescanOne(context.Background(), b)

	_, ok = st.LookupPath(toRemove)
	assert.False(t, ok)
	_, ok = st.LookupPath(filepath.Join(root, "keep.txt"))
	assert.True(t, ok)
}
