// Package scanner walks a bookmark's directory tree, applying the
// hard-coded exclusion list and reporting every file and directory it
// finds so the caller can insert them into the Index Store.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sourcegraph/conc/pool"
)

// excludeMatcher is the hard-coded exclusion list, compiled once as
// gitignore-style patterns and matched against individual path
// components rather than whole relative paths.
var excludeMatcher = ignore.CompileIgnoreLines(
	".git", "node_modules", "__pycache__", ".cache", ".npm", ".cargo",
	"target", "build", "dist", ".next", ".nuxt", ".Trash", "Trash", ".Trash-*",
)

func isExcluded(name string) bool {
	return excludeMatcher.MatchesPath(name)
}

// Entry is one file or directory discovered by a scan.
type Entry struct {
	Path    string
	IsDir   bool
	ModTime int64
	Size    uint64
}

// Scanner performs one bounded-concurrency recursive walk, fanning out
// across subdirectories with a conc pool bounded by runtime.NumCPU().
type Scanner struct {
	maxWorkers int
}

// New returns a Scanner sized to the host's CPU count.
func New() *Scanner {
	return &Scanner{maxWorkers: runtime.NumCPU()}
}

// Walk recursively scans root, calling visit for every entry found
// (files and directories alike; the caller decides what to do with
// each). Symlinked directories are followed once per canonical target
// per walk, tracked by inode, to avoid infinite cycles.
func (s *Scanner) Walk(ctx context.Context, root string, visit func(Entry)) error {
	var mu, visitMu sync.Mutex
	seenInodes := make(map[uint64]bool)

	var walkDir func(ctx context.Context, dir string) error
	walkDir = func(ctx context.Context, dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil // unreadable directory: skip, don't fail the whole scan
		}

		var subdirs []string
		for _, de := range entries {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isExcluded(de.Name()) {
				continue
			}

			full := filepath.Join(dir, de.Name())
			info, statErr := de.Info()

			target := full
			isDir := de.IsDir()
			if de.Type()&fs.ModeSymlink != 0 {
				resolved, linkErr := filepath.EvalSymlinks(full)
				if linkErr != nil {
					continue
				}
				linkInfo, statErr2 := os.Stat(resolved)
				if statErr2 != nil {
					continue
				}
				target = resolved
				isDir = linkInfo.IsDir()
				info = linkInfo

				if ino, ok := inodeOf(linkInfo); ok {
					mu.Lock()
					if seenInodes[ino] {
						mu.Unlock()
						continue
					}
					seenInodes[ino] = true
					mu.Unlock()
				}
			}

			if statErr != nil || info == nil {
				continue
			}

			visitMu.Lock() // visit is never called concurrently
			visit(Entry{Path: full, IsDir: isDir, ModTime: info.ModTime().Unix(), Size: uint64(sizeOf(info))})
			visitMu.Unlock()

			if isDir {
				subdirs = append(subdirs, target)
			}
		}

		if len(subdirs) == 0 {
			return nil
		}

		p := pool.New().WithMaxGoroutines(s.maxWorkers).WithContext(ctx)
		for _, sub := range subdirs {
			sub := sub
			p.Go(func(ctx context.Context) error {
				return walkDir(ctx, sub)
			})
		}
		return p.Wait()
	}

	if ino, ok := inodeOfPath(root); ok {
		seenInodes[ino] = true
	}
	return walkDir(ctx, root)
}

func sizeOf(info os.FileInfo) int64 {
	if info.IsDir() {
		return 0
	}
	return info.Size()
}

func inodeOf(info os.FileInfo) (uint64, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return st.Ino, true
}

func inodeOfPath(path string) (uint64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return inodeOf(info)
}
