package store

import "github.com/nixnav/nixnavd/internal/interner"

// FileId is a stable identifier for an indexed path.
type FileId = interner.FileId

// BookmarkId identifies a registered bookmark root.
type BookmarkId = uint64

// FileRecord is the per-path metadata the Index Store owns.
type FileRecord struct {
	ID         FileId
	Path       string
	IsDir      bool
	ModTime    int64 // unix seconds
	Size       uint64
	BookmarkID BookmarkId
}

// Basename returns the final path component, the only part of Path
// that contributes trigrams.
func (r *FileRecord) Basename() string {
	return basename(r.Path)
}
