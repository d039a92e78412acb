// Package reconciler runs two periodic sweeps: an Integrity
// Reconciler that round-robins the whole index looking for paths the
// filesystem no longer has, and a Network Rescanner that re-walks
// every network-mounted bookmark because such mounts don't deliver
// reliable change notifications.
package reconciler

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/nixnav/nixnavd/internal/bookmark"
	"github.com/nixnav/nixnavd/internal/persistence"
	"github.com/nixnav/nixnavd/internal/scanner"
	"github.com/nixnav/nixnavd/internal/store"
)

const (
	IntegrityInterval = 60 * time.Second
	IntegrityBatch    = 5000

	NetworkRescanInterval = 300 * time.Second
)

// Reconciler owns both tickers. One instance serves every bookmark; the
// round-robin offset for the Integrity pass is process-wide rather than
// per-bookmark, so a full sweep makes steady progress across every
// bookmark's files rather than restarting at each bookmark's own
// beginning.
type Reconciler struct {
	store     *store.Store
	bookmarks *bookmark.Registry
	writer    *persistence.Writer
	scanner   *scanner.Scanner

	integrityInterval time.Duration
	integrityBatch    int
	networkInterval   time.Duration

	offset int
}

// New returns a Reconciler wired to the shared Index Store, Bookmark
// Registry, Persistence Writer, and a Scanner for network rescans.
// Zero-valued intervals/batch fall back to IntegrityInterval/
// IntegrityBatch/NetworkRescanInterval.
func New(st *store.Store, bookmarks *bookmark.Registry, writer *persistence.Writer, sc *scanner.Scanner, integrityInterval time.Duration, integrityBatch int, networkInterval time.Duration) *Reconciler {
	if integrityInterval <= 0 {
		integrityInterval = IntegrityInterval
	}
	if integrityBatch <= 0 {
		integrityBatch = IntegrityBatch
	}
	if networkInterval <= 0 {
		networkInterval = NetworkRescanInterval
	}
	return &Reconciler{
		store: st, bookmarks: bookmarks, writer: writer, scanner: sc,
		integrityInterval: integrityInterval, integrityBatch: integrityBatch, networkInterval: networkInterval,
	}
}

// Run blocks, driving both tickers until ctx is cancelled. Callers
// invoke it in its own goroutine from the daemon supervisor, which
// restarts it if it panics.
func (r *Reconciler) Run(ctx context.Context) {
	integrity := time.NewTicker(r.integrityInterval)
	defer integrity.Stop()
	network := time.NewTicker(r.networkInterval)
	defer network.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-integrity.C:
			r.integrityPass()
		case <-network.C:
			r.networkPass(ctx)
		}
	}
}

// integrityPass checks up to IntegrityBatch paths, round-robining
// across the full index, and removes any whose backing file is gone.
func (r *Reconciler) integrityPass() {
	all := r.store.AllPaths()
	if len(all) == 0 {
		return
	}
	sort.Strings(all) // AllPaths has no stable order; the offset needs one
	if r.offset >= len(all) {
		r.offset = 0
	}

	end := r.offset + r.integrityBatch
	if end > len(all) {
		end = len(all)
	}
	batch := all[r.offset:end]
	r.offset = end

	removed := 0
	for _, path := range batch {
		if _, err := os.Lstat(path); err != nil {
			rec, ok := r.store.LookupPath(path)
			if !ok {
				continue
			}
			if rec.IsDir {
				r.store.RemoveSubtree(path)
				r.writer.Enqueue(persistence.ClearUnderPrefix(path))
			} else {
				r.store.Remove(path)
				r.writer.Enqueue(persistence.RemoveFile(path))
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("reconciler: integrity pass removed stale records", "removed", removed, "checked", len(batch))
	}
}

// networkPass re-walks every is_network bookmark and removes anything
// the fresh walk didn't touch. Scanner.Walk's own insert-equivalent is
// idempotent, so the diff step only has to look at what's left stale
// afterward.
func (r *Reconciler) networkPass(ctx context.Context) {
	for _, bm := range r.bookmarks.All() {
		if !bm.IsNetwork {
			continue
		}
		r.rescanOne(ctx, bm)
	}
}

func (r *Reconciler) rescanOne(ctx context.Context, bm bookmark.Bookmark) {
	touched := make(map[string]bool)

	err := r.scanner.Walk(ctx, bm.Path, func(e scanner.Entry) {
		touched[e.Path] = true
		id := r.store.Insert(e.Path, e.IsDir, e.ModTime, e.Size, bm.ID)
		r.writer.Enqueue(persistence.SaveFile(persistence.FileRow{
			ID: id, Path: e.Path, IsDir: e.IsDir, ModTime: e.ModTime, Size: e.Size, BookmarkID: bm.ID,
		}))
	})
	if err != nil {
		slog.Warn("reconciler: network rescan failed", "bookmark", bm.Name, "path", bm.Path, "error", err)
		return
	}

	for _, path := range r.store.PathsUnder(bm.Path) {
		if !touched[path] {
			r.store.Remove(path)
			r.writer.Enqueue(persistence.RemoveFile(path))
		}
	}

	r.bookmarks.TouchScan(bm.Name, time.Now().Unix())
}
