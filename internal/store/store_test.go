package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Path
	}
	return out
}

func TestInsert_IdempotentOnPath(t *testing.T) {
	s := New()
	id1 := s.Insert("/tmp/h/a.txt", false, 100, 10, 1)
	id2 := s.Insert("/tmp/h/a.txt", false, 200, 20, 1)
	assert.Equal(t, id1, id2)

	rec, ok := s.LookupPath("/tmp/h/a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(200), rec.ModTime)
	assert.Equal(t, uint64(20), rec.Size)
}

func TestRemoveInsert_Law(t *testing.T) {
	s := New()
	s.Insert("/tmp/h/a.txt", false, 1, 1, 1)
	require.True(t, s.Remove("/tmp/h/a.txt"))

	_, ok := s.LookupPath("/tmp/h/a.txt")
	assert.False(t, ok)
	assert.Equal(t, 0, s.FileCount())
}

func TestRenameRoundTrip_PreservesFileId(t *testing.T) {
	s := New()
	id := s.Insert("/tmp/h/foo.txt", false, 1, 1, 1)

	newID, err := s.Rename("/tmp/h/foo.txt", "/tmp/h/bar.txt", false, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, id, newID)

	backID, err := s.Rename("/tmp/h/bar.txt", "/tmp/h/foo.txt", false, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, id, backID)

	rec, ok := s.LookupPath("/tmp/h/foo.txt")
	require.True(t, ok)
	assert.Equal(t, id, rec.ID)
}

func TestRemoveSubtree(t *testing.T) {
	s := New()
	s.Insert("/tmp/h", true, 1, 0, 1)
	s.Insert("/tmp/h/a.txt", false, 1, 1, 1)
	s.Insert("/tmp/h/sub", true, 1, 0, 1)
	s.Insert("/tmp/h/sub/c.txt", false, 1, 1, 1)
	s.Insert("/tmp/other.txt", false, 1, 1, 1)

	removed := s.RemoveSubtree("/tmp/h")
	assert.Equal(t, 4, removed)

	_, ok := s.LookupPath("/tmp/other.txt")
	assert.True(t, ok)
}

func TestSearch_EmptyQueryUnderBookmark(t *testing.T) {
	s := New()
	s.Insert("/tmp/h/a.txt", false, 1, 1, 1)
	s.Insert("/tmp/h/b.txt", false, 1, 1, 1)
	s.Insert("/tmp/h/sub/c.txt", false, 1, 1, 1)

	results := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeAll, Search: ""})
	assert.Len(t, results, 3)
	assert.Equal(t, 3, s.FileCount())
}

func TestSearch_TrigramHitRejectsFalsePositive(t *testing.T) {
	s := New()
	s.Insert("/tmp/h/readme.md", false, 1, 1, 1)
	s.Insert("/tmp/h/read_me.md", false, 1, 1, 1)

	results := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeAll, Search: "dme"})
	require.Len(t, results, 1)
	assert.Equal(t, "/tmp/h/readme.md", results[0].Path)
}

func TestSearch_CaseInsensitiveMatch(t *testing.T) {
	s := New()
	s.Insert("/tmp/h/ReadMe.TXT", false, 1, 1, 1)

	lower := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeAll, Search: "readme"})
	upper := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeAll, Search: "README"})
	require.Len(t, lower, 1)
	require.Len(t, upper, 1)
}

func TestSearch_RootsNarrowScope(t *testing.T) {
	s := New()
	s.Insert("/tmp/w/notes.md", false, 1, 1, 1)
	s.Insert("/tmp/h/notes.md", false, 1, 1, 1)

	// Simulates SEARCH_ALL over ["/tmp/w","/tmp/h"] narrowed to "/tmp/h"
	// by a resolved bookmark-name prefix.
	results := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeAll, Search: "notes"})
	require.Len(t, results, 1)
	assert.Equal(t, "/tmp/h/notes.md", results[0].Path)
}

func TestSearch_ExtensionFilter(t *testing.T) {
	s := New()
	s.Insert("/tmp/h/a.py", false, 1, 1, 1)
	s.Insert("/tmp/h/a.md", false, 1, 1, 1)
	s.Insert("/tmp/h/abc.py", false, 1, 1, 1)

	results := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeAll, Search: "a", Extension: "py"})
	assert.ElementsMatch(t, []string{"/tmp/h/a.py", "/tmp/h/abc.py"}, paths(results))
}

func TestFileCount_IgnoresExclusions(t *testing.T) {
	// Exclusions are enforced by the Scanner, not the Store; this
	// verifies the Store has no opinion about it — inserting only the
	// already-filtered files is enough to get the right count.
	s := New()
	s.Insert("/tmp/h/a.txt", false, 1, 1, 1)
	s.Insert("/tmp/h/b.txt", false, 1, 1, 1)
	s.Insert("/tmp/h/sub/c.txt", false, 1, 1, 1)

	assert.Equal(t, 3, s.FileCount())
}

func TestDirModeFilter(t *testing.T) {
	s := New()
	s.Insert("/tmp/h/sub", true, 1, 0, 1)
	s.Insert("/tmp/h/a.txt", false, 1, 1, 1)

	dirs := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeDirs, Search: ""})
	files := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeFiles, Search: ""})
	assert.Len(t, dirs, 1)
	assert.Len(t, files, 1)
}

func TestOrdering_ShortestPrefixMatchFirst(t *testing.T) {
	s := New()
	s.Insert("/tmp/h/foobar.txt", false, 1, 1, 1)
	s.Insert("/tmp/h/foo.txt", false, 1, 1, 1)
	s.Insert("/tmp/h/xxxfooyyy.txt", false, 1, 1, 1)

	results := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeAll, Search: "foo"})
	require.Len(t, results, 3)
	assert.Equal(t, "/tmp/h/foo.txt", results[0].Path)
}

func TestShortQueryFallsBackToEnumeration(t *testing.T) {
	s := New()
	s.Insert("/tmp/h/ab.txt", false, 1, 1, 1)
	s.Insert("/tmp/h/cd.txt", false, 1, 1, 1)

	// "ab" is 2 bytes - too short for a trigram - falls back to
	// enumeration, then the substring verification step still filters.
	results := s.Search(Query{Roots: []string{"/tmp/h"}, Mode: ModeAll, Search: "ab"})
	require.Len(t, results, 1)
	assert.Equal(t, "/tmp/h/ab.txt", results[0].Path)
}
