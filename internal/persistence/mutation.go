package persistence

// Kind identifies which field of a mutation is populated. Go has no sum
// types, so this uses a tagged struct rather than an interface per
// variant — the Writer's batching logic wants to look at many queued
// mutations at once without a type switch per item.
type Kind int

const (
	KindSaveFile Kind = iota
	KindRemoveFile
	KindClearUnderPrefix
	KindSaveBookmark
	KindRemoveBookmark
	KindFence
)

// FileRow is the on-disk representation of one Index Store record.
type FileRow struct {
	ID         uint64
	Path       string
	IsDir      bool
	ModTime    int64
	Size       uint64
	BookmarkID uint64
}

// BookmarkRow is the on-disk representation of one registered bookmark.
type BookmarkRow struct {
	ID        uint64
	Name      string
	Path      string
	IsNetwork bool
	LastScan  int64 // unix seconds; 0 means never scanned
}

// Mutation is one message on the persistence inbox.
type Mutation struct {
	Kind     Kind
	File     FileRow
	Path     string // RemoveFile, ClearUnderPrefix
	Bookmark BookmarkRow
	Done     chan struct{} // Fence only
}

// SaveFile queues an upsert of a file record.
func SaveFile(row FileRow) Mutation {
	return Mutation{Kind: KindSaveFile, File: row}
}

// RemoveFile queues deletion of a single path.
func RemoveFile(path string) Mutation {
	return Mutation{Kind: KindRemoveFile, Path: path}
}

// ClearUnderPrefix queues deletion of every row whose path is prefixed
// by path (used when a watched directory is removed or renamed away).
func ClearUnderPrefix(path string) Mutation {
	return Mutation{Kind: KindClearUnderPrefix, Path: path}
}

// SaveBookmark queues an upsert of a bookmark record.
func SaveBookmark(row BookmarkRow) Mutation {
	return Mutation{Kind: KindSaveBookmark, Bookmark: row}
}

// RemoveBookmark queues deletion of a bookmark by name.
func RemoveBookmark(name string) Mutation {
	return Mutation{Kind: KindRemoveBookmark, Bookmark: BookmarkRow{Name: name}}
}

// NewFence returns a Fence mutation and the channel that closes once
// the Writer has committed every mutation queued ahead of it.
func NewFence() (Mutation, <-chan struct{}) {
	done := make(chan struct{})
	return Mutation{Kind: KindFence, Done: done}, done
}
