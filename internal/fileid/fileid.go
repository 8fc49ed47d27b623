// Package fileid derives stable document ids from file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const prefix = "file-"

// FromPath returns the slash-separated path of path relative to base, which
// keeps ids readable and stable across machines. Paths outside base (or when
// base is empty) get a hash of the cleaned absolute path instead.
func FromPath(base, path string) string {
	if base != "" {
		if rel, err := filepath.Rel(base, path); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return Hashed(path)
}

// Hashed returns a deterministic id for path. Same cleaned path always yields the same id.
func Hashed(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return prefix + hex.EncodeToString(hash[:8])
}
