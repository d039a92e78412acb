// Package daemon wires every component — persistence, the Index Store,
// the Bookmark Registry, per-bookmark watchers, the Request Server, and
// the two reconciler sweeps — into a single long-lived process, and
// owns its startup/shutdown sequencing.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nixnav/nixnavd/internal/bookmark"
	"github.com/nixnav/nixnavd/internal/config"
	"github.com/nixnav/nixnavd/internal/persistence"
	"github.com/nixnav/nixnavd/internal/reconciler"
	"github.com/nixnav/nixnavd/internal/scanner"
	"github.com/nixnav/nixnavd/internal/server"
	"github.com/nixnav/nixnavd/internal/store"
	"github.com/nixnav/nixnavd/internal/watcher"
)

// Daemon owns every long-lived component and the order they start and
// stop in.
type Daemon struct {
	cfg *config.Config

	db      *persistence.DB
	writer  *persistence.Writer
	store   *store.Store
	bm      *bookmark.Registry
	scanner *scanner.Scanner
	srv     *server.Server
	rec     *reconciler.Reconciler

	watchersMu sync.Mutex
	watchers   map[uint64]*watcher.Watcher
}

// New builds every component and performs the warm-start load from the
// existing database, but does not yet bind the socket or start
// watchers — call Run for that.
func New(cfg *config.Config) (*Daemon, error) {
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open database: %w", err)
	}

	writer := persistence.NewWriter(db)
	st := store.New()
	bm := bookmark.New(writer)
	sc := scanner.New()

	files, bookmarkRows, err := db.Load(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("daemon: warm-start load: %w", err)
	}
	bm.LoadAll(bookmarkRows)
	for _, f := range files {
		st.InsertPreassigned(f.ID, f.Path, f.IsDir, f.ModTime, f.Size, f.BookmarkID)
	}
	slog.Info("daemon: warm start complete", "files", len(files), "bookmarks", len(bookmarkRows))

	d := &Daemon{
		cfg:      cfg,
		db:       db,
		writer:   writer,
		store:    st,
		bm:       bm,
		scanner:  sc,
		watchers: make(map[uint64]*watcher.Watcher),
	}

	d.srv = server.New(cfg.SocketPath, st, bm, sc, d.startWatcher, cfg.HandlerPoolSize, server.Deadlines{
		Read:    cfg.ReadDeadline,
		Handler: cfg.HandlerDeadline,
		Long:    cfg.LongHandlerDeadline,
	})
	d.rec = reconciler.New(st, bm, writer, sc, cfg.IntegrityInterval, cfg.IntegrityBatch, cfg.NetworkRescanInterval)
	return d, nil
}

// Run binds the socket, starts a watcher for every local bookmark
// already on disk, and blocks serving requests and running the two
// reconciler sweeps until ctx is cancelled. It always returns nil on a
// clean shutdown; callers map a non-nil error to a fatal exit code.
func (d *Daemon) Run(ctx context.Context) error {
	for _, b := range d.bm.All() {
		if b.IsNetwork {
			continue
		}
		if err := d.startWatcher(b.ID, b.Path); err != nil {
			slog.Error("daemon: failed to start watcher on warm-started bookmark", "bookmark", b.Name, "path", b.Path, "error", err)
		}
	}

	if err := d.srv.Listen(); err != nil {
		return fmt.Errorf("daemon: bind socket: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		supervise(ctx, "server", func(ctx context.Context) { _ = d.srv.Serve(ctx) })
	}()
	go func() {
		defer wg.Done()
		supervise(ctx, "reconciler", d.rec.Run)
	}()

	<-ctx.Done()
	wg.Wait()

	d.shutdown()
	return nil
}

// startWatcher is the server's AddWatcherFunc: it starts a live watcher
// on a freshly added local bookmark, and is also used at warm start for
// every bookmark already on disk.
func (d *Daemon) startWatcher(bookmarkID uint64, path string) error {
	d.watchersMu.Lock()
	defer d.watchersMu.Unlock()

	if _, exists := d.watchers[bookmarkID]; exists {
		return nil
	}

	w, err := watcher.New(path, bookmarkID, d.store, d.writer, d.scanner)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	d.watchers[bookmarkID] = w
	return nil
}

// shutdown stops every watcher, closes the server and its socket, and
// drains the persistence queue before closing the database.
func (d *Daemon) shutdown() {
	d.watchersMu.Lock()
	for id, w := range d.watchers {
		if err := w.Close(); err != nil {
			slog.Warn("daemon: error stopping watcher", "bookmark_id", id, "error", err)
		}
	}
	d.watchersMu.Unlock()

	if err := d.srv.Close(); err != nil {
		slog.Warn("daemon: error closing server", "error", err)
	}

	d.writer.Close()
	if err := d.db.Close(); err != nil {
		slog.Warn("daemon: error closing database", "error", err)
	}
	slog.Info("daemon: shutdown complete")
}
