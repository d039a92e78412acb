// Package watcher maintains one recursive fsnotify watch per local
// bookmark, translating raw filesystem events into Index Store
// mutations with a debounced, durable write-through to the Persistence
// Layer.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nixnav/nixnavd/internal/persistence"
	"github.com/nixnav/nixnavd/internal/scanner"
	"github.com/nixnav/nixnavd/internal/store"
)

const (
	debounceDelay    = 300 * time.Millisecond
	maxDebounceDelay = 2 * time.Second
	queueCapacity    = 4096

	// renameClaimWindow bounds how long a bare Rename event waits for
	// the paired Create that fsnotify reports separately, before it is
	// treated as a plain removal. fsnotify (unlike the notify crate the
	// original daemon used) never reports a rename as a single event
	// with both paths, so the pairing is reconstructed here.
	renameClaimWindow = 300 * time.Millisecond
)

// Watcher watches one bookmark root recursively, keeping store and the
// persistence Writer in sync with the filesystem.
type Watcher struct {
	root       string
	bookmarkID uint64
	store      *store.Store
	writer     *persistence.Writer
	scanner    *scanner.Scanner

	fsw *fsnotify.Watcher
	deb *debouncer

	mu           sync.Mutex
	watchedDirs  map[string]bool
	pendingFrom  string
	pendingTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher for root, recursively adding every subdirectory
// to the underlying fsnotify watch set.
func New(root string, bookmarkID uint64, st *store.Store, writer *persistence.Writer, sc *scanner.Scanner) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		root:        root,
		bookmarkID:  bookmarkID,
		store:       st,
		writer:      writer,
		scanner:     sc,
		fsw:         fsw,
		deb:         newDebouncer(debounceDelay, maxDebounceDelay, queueCapacity),
		watchedDirs: make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
	return w, nil
}

// Start begins watching. It does not perform the initial scan; callers
// run the Scanner first and call Start once the tree is already in the
// Index Store, so the first events Start observes are genuinely new.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.watchLoop()
	go w.dispatchLoop()
	return nil
}

// Close stops the watcher and waits for its goroutines to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	w.deb.close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addRecursive(root string) error {
	if err := w.fsw.Add(root); err != nil {
		return fmt.Errorf("watcher: add %s: %w", root, err)
	}
	w.mu.Lock()
	w.watchedDirs[root] = true
	w.mu.Unlock()

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || path == root || !d.IsDir() {
			return nil
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			slog.Warn("watcher: failed to add subdirectory", "path", path, "error", addErr)
			return nil
		}
		w.mu.Lock()
		w.watchedDirs[path] = true
		w.mu.Unlock()
		return nil
	})
}

// watchLoop reads raw fsnotify events, reconstructs rename pairs, and
// feeds the resulting Event stream into the debouncer.
func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher: fsnotify error", "root", w.root, "error", err)
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case ev.Has(fsnotify.Rename):
		w.claimPending() // a prior unclaimed rename is now definitely a removal
		w.pendingFrom = ev.Name
		w.pendingTimer = time.AfterFunc(renameClaimWindow, func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			w.claimPending()
		})

	case ev.Has(fsnotify.Create):
		if w.pendingFrom != "" {
			old := w.pendingFrom
			w.clearPending()
			w.deb.add(Event{Type: EventRename, OldPath: old, Path: ev.Name, Timestamp: time.Now()})
			if isDir, err := isDirectory(ev.Name); err == nil && isDir {
				w.maybeAddWatch(ev.Name)
			}
			return
		}
		w.deb.add(Event{Type: EventCreate, Path: ev.Name, Timestamp: time.Now()})

	case ev.Has(fsnotify.Write):
		w.deb.add(Event{Type: EventWrite, Path: ev.Name, Timestamp: time.Now()})

	case ev.Has(fsnotify.Remove):
		w.deb.add(Event{Type: EventRemove, Path: ev.Name, Timestamp: time.Now()})
		delete(w.watchedDirs, ev.Name)

	case ev.Has(fsnotify.Chmod):
		// No metadata this daemon tracks changes on chmod alone.
	}
}

// claimPending flushes an unclaimed rename source as a removal. Must be
// called with w.mu held.
func (w *Watcher) claimPending() {
	if w.pendingFrom == "" {
		return
	}
	old := w.pendingFrom
	w.clearPending()
	w.deb.add(Event{Type: EventRemove, Path: old, Timestamp: time.Now()})
}

func (w *Watcher) clearPending() {
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingFrom = ""
	w.pendingTimer = nil
}

func (w *Watcher) maybeAddWatch(dir string) {
	if w.watchedDirs[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		slog.Warn("watcher: failed to watch new directory", "path", dir, "error", err)
		return
	}
	w.watchedDirs[dir] = true
}

// dispatchLoop applies debounced batches to the Index Store and queues
// the matching Persistence Layer mutation.
func (w *Watcher) dispatchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case batch, ok := <-w.deb.events():
			if !ok {
				return
			}
			for _, ev := range batch {
				w.apply(ev)
			}
		}
	}
}

func (w *Watcher) apply(ev Event) {
	switch ev.Type {
	case EventCreate, EventWrite:
		w.indexPath(ev.Path)

	case EventRename:
		w.renamePath(ev.OldPath, ev.Path)

	case EventRemove:
		w.removePath(ev.Path)
	}
}

func (w *Watcher) indexPath(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return // already gone; a Remove event will follow or already has
	}

	isDir := info.IsDir()
	id := w.store.Insert(path, isDir, info.ModTime().Unix(), uint64(sizeOf(info)), w.bookmarkID)
	w.writer.Enqueue(persistence.SaveFile(persistence.FileRow{
		ID: id, Path: path, IsDir: isDir, ModTime: info.ModTime().Unix(), Size: uint64(sizeOf(info)), BookmarkID: w.bookmarkID,
	}))

	if isDir {
		w.addRecursive(path)
		w.scanSubtree(path)
	}
}

// scanSubtree indexes every descendant of a newly created directory.
func (w *Watcher) scanSubtree(dir string) {
	_ = w.scanner.Walk(w.ctx, dir, func(e scanner.Entry) {
		id := w.store.Insert(e.Path, e.IsDir, e.ModTime, e.Size, w.bookmarkID)
		w.writer.Enqueue(persistence.SaveFile(persistence.FileRow{
			ID: id, Path: e.Path, IsDir: e.IsDir, ModTime: e.ModTime, Size: e.Size, BookmarkID: w.bookmarkID,
		}))
	})
}

func (w *Watcher) removePath(path string) {
	rec, existed := w.store.LookupPath(path)
	if !existed {
		return
	}

	if rec.IsDir {
		w.store.RemoveSubtree(path)
		w.writer.Enqueue(persistence.ClearUnderPrefix(path))
	} else {
		w.store.Remove(path)
		w.writer.Enqueue(persistence.RemoveFile(path))
	}
}

// renamePath handles a reconstructed rename pair: handleRaw only
// synthesizes EventRename once a Rename on oldPath was claimed by a
// Create on newPath within renameClaimWindow, so this preserves the
// FileId via Store.Rename instead of treating the move as an unrelated
// remove followed by a create.
func (w *Watcher) renamePath(oldPath, newPath string) {
	info, err := os.Lstat(newPath)
	if err != nil {
		return
	}
	isDir := info.IsDir()
	mtime := info.ModTime().Unix()
	size := uint64(sizeOf(info))

	id, err := w.store.Rename(oldPath, newPath, isDir, mtime, size, w.bookmarkID)
	if err != nil {
		// oldPath was never indexed (e.g. moved in from outside any
		// watched root); treat as a fresh create instead.
		w.indexPath(newPath)
		return
	}
	if isDir {
		w.store.RenameSubtree(oldPath, newPath)
	}

	w.writer.Enqueue(persistence.SaveFile(persistence.FileRow{
		ID: id, Path: newPath, IsDir: isDir, ModTime: mtime, Size: size, BookmarkID: w.bookmarkID,
	}))
	w.writer.Enqueue(persistence.RemoveFile(oldPath))

	if isDir {
		w.addRecursive(newPath)
	}
}

func isDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func sizeOf(info os.FileInfo) int64 {
	if info.IsDir() {
		return 0
	}
	return info.Size()
}
