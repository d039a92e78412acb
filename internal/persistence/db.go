// Package persistence is the embedded relational store behind the
// Index Store: a files/bookmarks schema on database/sql with the
// go-libsql driver, written through a single Writer goroutine so SQLite
// never sees concurrent writers.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/go-libsql"
)

// DB owns the libsql connection and the schema it was opened with.
type DB struct {
	conn *sql.DB
}

// Open creates the parent directory if needed and opens (or
// initializes) the database at dbPath.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create data dir: %w", err)
	}

	conn, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", dbPath, err)
	}
	conn.SetMaxOpenConns(1) // single-writer discipline; see Writer

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persistence: init schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Load reads every file and bookmark row back, so a warm-started
// daemon can repopulate the index without rescanning the filesystem.
func (d *DB) Load(ctx context.Context) ([]FileRow, []BookmarkRow, error) {
	files, err := d.loadFiles(ctx)
	if err != nil {
		return nil, nil, err
	}
	bookmarks, err := d.loadBookmarks(ctx)
	if err != nil {
		return nil, nil, err
	}
	return files, bookmarks, nil
}

func (d *DB) loadFiles(ctx context.Context) ([]FileRow, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT id, path, is_dir, mtime, size, bookmark_id FROM files`)
	if err != nil {
		return nil, fmt.Errorf("persistence: load files: %w", err)
	}
	defer rows.Close()

	var out []FileRow
	for rows.Next() {
		var r FileRow
		var isDir int
		if err := rows.Scan(&r.ID, &r.Path, &isDir, &r.ModTime, &r.Size, &r.BookmarkID); err != nil {
			return nil, fmt.Errorf("persistence: scan file row: %w", err)
		}
		r.IsDir = isDir != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) loadBookmarks(ctx context.Context) ([]BookmarkRow, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT id, name, path, is_network, last_scan FROM bookmarks`)
	if err != nil {
		return nil, fmt.Errorf("persistence: load bookmarks: %w", err)
	}
	defer rows.Close()

	var out []BookmarkRow
	for rows.Next() {
		var b BookmarkRow
		var isNetwork int
		var lastScan sql.NullInt64
		if err := rows.Scan(&b.ID, &b.Name, &b.Path, &isNetwork, &lastScan); err != nil {
			return nil, fmt.Errorf("persistence: scan bookmark row: %w", err)
		}
		b.IsNetwork = isNetwork != 0
		b.LastScan = lastScan.Int64
		out = append(out, b)
	}
	return out, rows.Err()
}
