package watcher

import "time"

// EventType identifies what happened to a watched path.
type EventType int

const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
	EventRename
	EventChmod
)

// Event is the package's own rendering of an fsnotify.Event, timestamped
// and ready for debouncing. OldPath is set only for a reconstructed
// EventRename (fsnotify reports rename halves as separate Rename/Create
// events on two different names; see handleRaw in watcher.go).
type Event struct {
	Type      EventType
	Path      string
	OldPath   string
	Timestamp time.Time
}
