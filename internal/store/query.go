package store

import (
	"sort"
	"strings"

	"github.com/nixnav/nixnavd/internal/trigram"
)

// Mode restricts the kind of entry a query returns.
type Mode int

const (
	ModeAll Mode = iota
	ModeFiles
	ModeDirs
)

// MaxResults is the hard cap on results per query.
const MaxResults = 2000

// DefaultLimit is the limit applied when a caller doesn't specify one.
const DefaultLimit = 500

// Query describes a parsed or pre-parsed search request.
type Query struct {
	// Roots restricts matches to paths under any of these bookmark
	// roots. A SEARCH request supplies exactly one; SEARCH_ALL supplies
	// the caller's bookmark_paths (or every known bookmark if empty,
	// resolved by the caller before calling Search).
	Roots []string
	Mode  Mode
	// Search is the substring to match, before case-folding.
	Search string
	// Extension, if non-empty, restricts results to that file
	// extension (case-insensitive, without the leading dot). The
	// sentinel "!binary" excludes the well-known binary/media/archive
	// extensions instead.
	Extension string
	Limit     int
}

// Result is a single match returned by Search.
type Result struct {
	Path    string
	IsDir   bool
	Size    uint64
	ModTime int64
}

// ParseQuery splits a raw SEARCH query string into its bookmark-name
// prefix, extension glob, and remaining substring. bookmarkRoot is the
// resolved root path for the matched bookmark name, or "" if no name
// prefix matched.
func ParseQuery(raw string, lookupBookmarkRoot func(name string) (string, bool)) (remaining, extension, bookmarkRoot string) {
	remaining = raw

	if idx := strings.Index(remaining, ":"); idx > 0 {
		name := remaining[:idx]
		if root, ok := lookupBookmarkRoot(name); ok {
			bookmarkRoot = root
			remaining = remaining[idx+1:]
		}
	}

	if strings.HasPrefix(remaining, "*.") {
		rest := remaining[2:]
		if sp := strings.IndexAny(rest, " \t"); sp >= 0 {
			extension = rest[:sp]
			remaining = strings.TrimLeft(rest[sp:], " \t")
		}
	}

	return remaining, extension, bookmarkRoot
}

// binaryExtensions backs the "!binary" extension-filter sentinel.
var binaryExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true, "ico": true,
	"webp": true, "svg": true, "tiff": true, "raw": true,
	"mp3": true, "mp4": true, "wav": true, "avi": true, "mkv": true, "mov": true,
	"flac": true, "ogg": true, "m4a": true, "aac": true,
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true, "ppt": true, "pptx": true,
	"zip": true, "tar": true, "gz": true, "bz2": true, "xz": true, "7z": true, "rar": true, "zst": true,
	"exe": true, "dll": true, "so": true, "dylib": true, "a": true, "o": true, "obj": true,
	"bin": true, "dat": true, "db": true, "sqlite": true, "sqlite3": true,
	"ttf": true, "otf": true, "woff": true, "woff2": true, "eot": true,
	"class": true, "jar": true, "war": true, "pyc": true, "pyo": true, "whl": true,
}

// Search runs the candidate-intersection, verification, and ordering
// algorithm: narrow by trigram posting intersection, then verify each
// candidate's basename against the actual substring, then filter by
// root/mode/extension and rank.
func (s *Store) Search(q Query) []Result {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxResults {
		limit = MaxResults
	}

	searchLower := trigram.Fold(q.Search)
	tgs := trigram.Extract(q.Search)

	var candidateIDs []FileId
	if len(tgs) == 0 {
		// Empty search string, or too short to have a trigram: fall
		// back to enumerating under the filter.
		for _, id := range s.enumerateUnderRoots(q.Roots) {
			candidateIDs = append(candidateIDs, id)
		}
	} else {
		bm := s.postings.Intersect(tgs)
		candidateIDs = make([]FileId, 0, bm.GetCardinality())
		it := bm.Iterator()
		for it.HasNext() {
			candidateIDs = append(candidateIDs, FileId(it.Next()))
		}
	}

	extFilter := strings.ToLower(q.Extension)
	excludeBinary := extFilter == "!binary"

	s.mu.RLock()
	matches := make([]FileRecord, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		rec, ok := s.records[id]
		if !ok {
			continue
		}

		if !underAnyRoot(rec.Path, q.Roots) {
			continue
		}
		switch q.Mode {
		case ModeFiles:
			if rec.IsDir {
				continue
			}
		case ModeDirs:
			if !rec.IsDir {
				continue
			}
		}

		ext := extOf(rec.Path)
		if excludeBinary {
			if binaryExtensions[ext] {
				continue
			}
		} else if extFilter != "" {
			if ext != extFilter {
				continue
			}
		}

		if searchLower != "" {
			if !strings.Contains(trigram.Fold(basename(rec.Path)), searchLower) {
				continue
			}
		}

		matches = append(matches, *rec)
	}
	s.mu.RUnlock()

	sortResults(matches, searchLower)

	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]Result, len(matches))
	for i, rec := range matches {
		out[i] = Result{Path: rec.Path, IsDir: rec.IsDir, Size: rec.Size, ModTime: rec.ModTime}
	}
	return out
}

func (s *Store) enumerateUnderRoots(roots []string) []FileId {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(roots) == 0 {
		ids := make([]FileId, 0, len(s.records))
		for id := range s.records {
			ids = append(ids, id)
		}
		return ids
	}

	seen := make(map[FileId]bool)
	var ids []FileId
	for _, root := range roots {
		root = normalizePath(root)
		s.paths.WalkPrefix(root, func(key string, v interface{}) bool {
			if !isUnderPrefix(key, root) {
				return false
			}
			id, _ := v.(FileId)
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
			return false
		})
	}
	return ids
}

func underAnyRoot(path string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, root := range roots {
		if isUnderPrefix(path, normalizePath(root)) {
			return true
		}
	}
	return false
}

func extOf(path string) string {
	base := basename(path)
	idx := strings.LastIndex(base, ".")
	if idx < 0 || idx == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[idx+1:])
}

// sortResults implements a deterministic total order: exact basename
// match, then prefix match, then substring match; ties broken by path
// length, then lexicographically.
func sortResults(recs []FileRecord, searchLower string) {
	rank := func(r FileRecord) int {
		base := trigram.Fold(basename(r.Path))
		switch {
		case searchLower == "" || base == searchLower:
			return 0
		case strings.HasPrefix(base, searchLower):
			return 1
		default:
			return 2
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		ri, rj := rank(recs[i]), rank(recs[j])
		if ri != rj {
			return ri < rj
		}
		if len(recs[i].Path) != len(recs[j].Path) {
			return len(recs[i].Path) < len(recs[j].Path)
		}
		return recs[i].Path < recs[j].Path
	})
}
