// Package store implements the Index Store: the authoritative
// in-memory inverted index mapping trigrams to FileIds, plus per-file
// metadata, path interning, and the path-prefix tree that backs
// directory-scoped removal and rename.
package store

import (
	"fmt"
	"sync"

	"github.com/armon/go-radix"

	"github.com/nixnav/nixnavd/internal/interner"
	"github.com/nixnav/nixnavd/internal/postings"
	"github.com/nixnav/nixnavd/internal/trigram"
)

// Store is the Index Store. A single RWMutex covers one logical
// mutation (one insert, one remove, one rename), never a whole scan.
// Query handlers take RLock.
type Store struct {
	mu       sync.RWMutex
	interner *interner.Interner
	postings *postings.Store
	paths    *radix.Tree // canonical path -> FileId
	records  map[FileId]*FileRecord
}

// New returns an empty Index Store.
func New() *Store {
	return &Store{
		interner: interner.New(),
		postings: postings.New(),
		paths:    radix.New(),
		records:  make(map[FileId]*FileRecord),
	}
}

// Insert records path in the index, assigning a new FileId if path is
// not already known, or updating the existing record's mtime/size/
// is_dir if it is — idempotent on path. The basename's trigrams are
// added to the posting lists on first insert; re-insertion of an
// already-known path never changes its basename, so postings are
// untouched on the update path.
func (s *Store) Insert(path string, isDir bool, mtime int64, size uint64, bookmarkID BookmarkId) FileId {
	path = normalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, created := s.interner.Intern(path)
	if !created {
		rec := s.records[id]
		rec.IsDir = isDir
		rec.ModTime = mtime
		rec.Size = size
		rec.BookmarkID = bookmarkID
		return id
	}

	rec := &FileRecord{
		ID:         id,
		Path:       path,
		IsDir:      isDir,
		ModTime:    mtime,
		Size:       size,
		BookmarkID: bookmarkID,
	}
	s.records[id] = rec
	s.paths.Insert(path, id)
	s.postings.Add(id, trigram.Extract(basename(path)))
	return id
}

// InsertPreassigned is Insert's warm-start variant: it reuses a
// caller-supplied FileId instead of allocating a new one, so a
// restarted daemon loading rows back from disk keeps every FileId
// stable.
func (s *Store) InsertPreassigned(id FileId, path string, isDir bool, mtime int64, size uint64, bookmarkID BookmarkId) {
	path = normalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interner.Reserve(path, id)
	rec := &FileRecord{
		ID:         id,
		Path:       path,
		IsDir:      isDir,
		ModTime:    mtime,
		Size:       size,
		BookmarkID: bookmarkID,
	}
	s.records[id] = rec
	s.paths.Insert(path, id)
	s.postings.Add(id, trigram.Extract(basename(path)))
}

// Remove deletes path's record (if any), strips its FileId from every
// posting list whose trigrams matched its basename, and forgets its
// interned id.
func (s *Store) Remove(path string) bool {
	path = normalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(path)
}

func (s *Store) removeLocked(path string) bool {
	id, ok := s.interner.Lookup(path)
	if !ok {
		return false
	}
	s.postings.Remove(id, trigram.Extract(basename(path)))
	delete(s.records, id)
	s.paths.Delete(path)
	s.interner.Forget(id)
	return true
}

// RemoveSubtree removes root and every path the index holds beneath
// it by walking the path-prefix tree for descendants. Returns the
// number of removed entries.
func (s *Store) RemoveSubtree(root string) int {
	root = normalizePath(root)

	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []string
	s.paths.WalkPrefix(root, func(key string, _ interface{}) bool {
		if isUnderPrefix(key, root) {
			victims = append(victims, key)
		}
		return false
	})

	for _, v := range victims {
		s.removeLocked(v)
	}
	return len(victims)
}

// Rename moves oldPath to newPath, preserving the FileId. Semantically
// equivalent to Remove(oldPath) followed by Insert(newPath, ...), but
// short-circuits the posting-list churn when the basename is
// unchanged.
func (s *Store) Rename(oldPath, newPath string, isDir bool, mtime int64, size uint64, bookmarkID BookmarkId) (FileId, error) {
	oldPath = normalizePath(oldPath)
	newPath = normalizePath(newPath)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.interner.Lookup(oldPath)
	if !ok {
		return 0, fmt.Errorf("rename: %q is not indexed", oldPath)
	}

	oldBase := basename(oldPath)
	newBase := basename(newPath)

	if oldBase != newBase {
		s.postings.Remove(id, trigram.Extract(oldBase))
		s.postings.Add(id, trigram.Extract(newBase))
	}

	s.paths.Delete(oldPath)
	s.paths.Insert(newPath, id)
	if _, ok := s.interner.Rekey(oldPath, newPath); !ok {
		return 0, fmt.Errorf("rename: failed to rekey %q -> %q", oldPath, newPath)
	}

	rec := s.records[id]
	rec.Path = newPath
	rec.IsDir = isDir
	rec.ModTime = mtime
	rec.Size = size
	rec.BookmarkID = bookmarkID
	return id, nil
}

// RenameSubtree renames every indexed path beneath oldRoot to live
// beneath newRoot, preserving each FileId via prefix substitution.
// oldRoot and newRoot must already be normalized by the caller's
// Rename for the root itself; this only handles strict descendants.
func (s *Store) RenameSubtree(oldRoot, newRoot string) int {
	oldRoot = normalizePath(oldRoot)
	newRoot = normalizePath(newRoot)

	s.mu.Lock()
	defer s.mu.Unlock()

	type move struct {
		id      FileId
		oldPath string
		newPath string
	}
	var moves []move

	s.paths.WalkPrefix(oldRoot+"/", func(key string, v interface{}) bool {
		id, _ := v.(FileId)
		suffix := key[len(oldRoot):]
		moves = append(moves, move{id: id, oldPath: key, newPath: newRoot + suffix})
		return false
	})

	for _, m := range moves {
		rec, ok := s.records[m.id]
		if !ok {
			continue
		}
		oldBase := basename(m.oldPath)
		newBase := basename(m.newPath)
		if oldBase != newBase {
			s.postings.Remove(m.id, trigram.Extract(oldBase))
			s.postings.Add(m.id, trigram.Extract(newBase))
		}
		s.paths.Delete(m.oldPath)
		s.paths.Insert(m.newPath, m.id)
		s.interner.Rekey(m.oldPath, m.newPath)
		rec.Path = m.newPath
	}
	return len(moves)
}

// Lookup returns a copy of the FileRecord for id, if present.
func (s *Store) Lookup(id FileId) (FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return FileRecord{}, false
	}
	return *rec, true
}

// LookupPath returns a copy of the FileRecord for path, if present.
func (s *Store) LookupPath(path string) (FileRecord, bool) {
	path = normalizePath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.interner.Lookup(path)
	if !ok {
		return FileRecord{}, false
	}
	rec := s.records[id]
	return *rec, true
}

// FileCount returns the number of indexed records (STATS.files).
func (s *Store) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// TrigramCount returns the number of distinct trigrams with a
// non-empty posting list, the STATS response's trigrams field.
func (s *Store) TrigramCount() int {
	return s.postings.Len()
}

// AllPaths returns every indexed path, used by the Integrity
// Reconciler to build its round-robin batches.
func (s *Store) AllPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Path)
	}
	return out
}

// PathsUnder returns every indexed path beneath root (inclusive),
// used by the Network Rescanner to diff a fresh walk against the
// existing index.
func (s *Store) PathsUnder(root string) []string {
	root = normalizePath(root)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	s.paths.WalkPrefix(root, func(key string, _ interface{}) bool {
		if isUnderPrefix(key, root) {
			out = append(out, key)
		}
		return false
	})
	return out
}
