// Package fileid derives deterministic document IDs for files ingested from
// watched inbox directories.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file:"

// DocID returns a stable document ID for the given absolute path. The same
// path always yields the same ID, so re-ingesting an edited file replaces the
// existing document instead of duplicating it.
func DocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// IsFileDoc reports whether id was derived from a watched file path.
func IsFileDoc(id string) bool {
	return len(id) > len(prefix) && id[:len(prefix)] == prefix
}
