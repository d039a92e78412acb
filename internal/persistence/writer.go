package persistence

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// inboxCapacity bounds the mutation channel; a producer that outruns
// the Writer blocks rather than growing memory without limit.
const inboxCapacity = 4096

// batchSize is the largest number of mutations committed in one
// transaction.
const batchSize = 500

// batchWindow bounds how long the Writer waits to fill a batch before
// flushing whatever it has.
const batchWindow = 200 * time.Millisecond

const (
	maxRetries = 3
	retryBase  = 50 * time.Millisecond
)

// Writer drains a single inbox channel and commits mutations in
// batched transactions on its own goroutine. There is exactly one
// Writer per DB; it is the only goroutine that calls db.conn.Exec.
type Writer struct {
	db     *DB
	inbox  chan Mutation
	done   chan struct{}
	health atomic.Bool // true == healthy
}

// NewWriter starts the Writer's background goroutine.
func NewWriter(db *DB) *Writer {
	w := &Writer{
		db:    db,
		inbox: make(chan Mutation, inboxCapacity),
		done:  make(chan struct{}),
	}
	w.health.Store(true)
	go w.run()
	return w
}

// Enqueue submits a mutation. It never blocks the caller on disk I/O,
// only on the inbox filling up.
func (w *Writer) Enqueue(m Mutation) {
	w.inbox <- m
}

// Healthy reports whether the last flush succeeded within its retry
// budget. Request handlers should surface db_error while this is
// false; queries keep serving from the Index Store regardless.
func (w *Writer) Healthy() bool {
	return w.health.Load()
}

// Close stops accepting new mutations and waits for the goroutine to
// drain and exit.
func (w *Writer) Close() {
	close(w.inbox)
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)

	batch := make([]Mutation, 0, batchSize)
	timer := time.NewTimer(batchWindow)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.commit(batch)
		batch = batch[:0]
	}

	for {
		select {
		case m, ok := <-w.inbox:
			if !ok {
				flush()
				return
			}
			if m.Kind == KindFence {
				flush()
				close(m.Done)
				continue
			}
			batch = append(batch, m)
			if len(batch) >= batchSize {
				flush()
				timer.Reset(batchWindow)
			}
		case <-timer.C:
			flush()
			timer.Reset(batchWindow)
		}
	}
}

// commit applies batch inside one transaction, retrying with
// exponential backoff on failure. A batch that still fails after
// maxRetries marks the Writer unhealthy and is dropped — the in-memory
// Index Store remains the source of truth until the next successful
// flush reconciles it.
func (w *Writer) commit(batch []Mutation) {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBase * time.Duration(1<<uint(attempt-1)))
		}
		if err = w.commitOnce(batch); err == nil {
			w.health.Store(true)
			return
		}
		slog.Warn("persistence: batch commit failed", "attempt", attempt, "err", err)
	}
	w.health.Store(false)
	slog.Error("persistence: batch dropped after retries", "size", len(batch), "err", err)
}

func (w *Writer) commitOnce(batch []Mutation) error {
	ctx := context.Background()
	tx, err := w.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range batch {
		if err := applyOne(ctx, tx, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func applyOne(ctx context.Context, tx *sql.Tx, m Mutation) error {
	switch m.Kind {
	case KindSaveFile:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO files (id, path, is_dir, mtime, size, bookmark_id) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET path=excluded.path, is_dir=excluded.is_dir,
			   mtime=excluded.mtime, size=excluded.size, bookmark_id=excluded.bookmark_id`,
			m.File.ID, m.File.Path, boolToInt(m.File.IsDir), m.File.ModTime, m.File.Size, m.File.BookmarkID)
		return err

	case KindRemoveFile:
		_, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, m.Path)
		return err

	case KindClearUnderPrefix:
		_, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ? OR path LIKE ?`, m.Path, m.Path+"/%")
		return err

	case KindSaveBookmark:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bookmarks (id, name, path, is_network, last_scan) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET path=excluded.path, is_network=excluded.is_network,
			   last_scan=excluded.last_scan`,
			m.Bookmark.ID, m.Bookmark.Name, m.Bookmark.Path, boolToInt(m.Bookmark.IsNetwork), m.Bookmark.LastScan)
		return err

	case KindRemoveBookmark:
		_, err := tx.ExecContext(ctx, `DELETE FROM bookmarks WHERE name = ?`, m.Bookmark.Name)
		return err
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
