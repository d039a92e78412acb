package store

import (
	"path/filepath"
	"strings"
)

// normalizePath canonicalizes a FileRecord's path: no trailing slash
// except for "/", no "."/".." components.
func normalizePath(p string) string {
	p = filepath.ToSlash(filepath.Clean(p))
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func basename(p string) string {
	return filepath.Base(p)
}

// isUnderPrefix reports whether child is path-prefix-contained in
// root: either equal to root, or root followed by "/".
func isUnderPrefix(child, root string) bool {
	if child == root {
		return true
	}
	if root == "/" {
		return strings.HasPrefix(child, "/")
	}
	return strings.HasPrefix(child, root+"/")
}
