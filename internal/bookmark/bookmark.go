// Package bookmark implements the Bookmark Registry: the set of named
// filesystem roots a client can scope searches to, each either a local
// directory watched live or a network mount polled by the reconciler.
package bookmark

import (
	"fmt"
	"sync"

	"github.com/nixnav/nixnavd/internal/persistence"
)

// Bookmark is one registered root.
type Bookmark struct {
	ID        uint64
	Name      string
	Path      string
	IsNetwork bool
	LastScan  int64 // unix seconds, 0 if never scanned
}

// Registry tracks bookmarks under a RWMutex, persisting every mutation
// through the Writer.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Bookmark
	byPath map[string]*Bookmark
	nextID uint64
	writer *persistence.Writer
}

// New returns an empty Registry bound to writer for durability.
func New(writer *persistence.Writer) *Registry {
	return &Registry{
		byName: make(map[string]*Bookmark),
		byPath: make(map[string]*Bookmark),
		writer: writer,
	}
}

// LoadAll seeds the Registry from rows read back from the Persistence
// Layer at warm start, preserving their ids.
func (r *Registry) LoadAll(rows []persistence.BookmarkRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		b := &Bookmark{ID: row.ID, Name: row.Name, Path: row.Path, IsNetwork: row.IsNetwork, LastScan: row.LastScan}
		r.byName[row.Name] = b
		r.byPath[row.Path] = b
		if row.ID > r.nextID {
			r.nextID = row.ID
		}
	}
}

// Add registers a new bookmark. Name and path must each be unique;
// re-adding an existing name or path is rejected rather than silently
// overwritten, so a client typo never hijacks another bookmark's root.
func (r *Registry) Add(name, path string, isNetwork bool) (Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return Bookmark{}, fmt.Errorf("bookmark: name %q already registered", name)
	}
	if _, exists := r.byPath[path]; exists {
		return Bookmark{}, fmt.Errorf("bookmark: path %q already registered", path)
	}

	r.nextID++
	b := &Bookmark{ID: r.nextID, Name: name, Path: path, IsNetwork: isNetwork}
	r.byName[name] = b
	r.byPath[path] = b

	r.writer.Enqueue(persistence.SaveBookmark(persistence.BookmarkRow{
		ID: b.ID, Name: b.Name, Path: b.Path, IsNetwork: b.IsNetwork, LastScan: b.LastScan,
	}))
	return *b, nil
}

// Remove unregisters name. This orphans the bookmark's already-indexed
// files rather than deleting them; callers that also want the files
// gone issue a separate Store.RemoveSubtree.
func (r *Registry) Remove(name string) (Bookmark, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byName[name]
	if !ok {
		return Bookmark{}, false
	}
	delete(r.byName, name)
	delete(r.byPath, b.Path)

	r.writer.Enqueue(persistence.RemoveBookmark(name))
	return *b, true
}

// ByName returns the bookmark registered under name.
func (r *Registry) ByName(name string) (Bookmark, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	if !ok {
		return Bookmark{}, false
	}
	return *b, true
}

// ByPath returns the bookmark registered at path.
func (r *Registry) ByPath(path string) (Bookmark, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byPath[path]
	if !ok {
		return Bookmark{}, false
	}
	return *b, true
}

// All returns every registered bookmark, in no particular order.
func (r *Registry) All() []Bookmark {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Bookmark, 0, len(r.byName))
	for _, b := range r.byName {
		out = append(out, *b)
	}
	return out
}

// Roots returns the path of every registered bookmark, for SEARCH_ALL's
// default scope when a client doesn't restrict bookmark_paths.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		out = append(out, p)
	}
	return out
}

// TouchScan records the unix time of a completed network rescan,
// persisting the update.
func (r *Registry) TouchScan(name string, when int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byName[name]
	if !ok {
		return
	}
	b.LastScan = when
	r.writer.Enqueue(persistence.SaveBookmark(persistence.BookmarkRow{
		ID: b.ID, Name: b.Name, Path: b.Path, IsNetwork: b.IsNetwork, LastScan: b.LastScan,
	}))
}
