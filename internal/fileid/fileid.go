// Package fileid derives document ids for files ingested in place (inbox and CLI ingest).
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Prefix marks ids derived from a file path; uploads use "doc-".
const Prefix = "file-"

// hashLen is the number of hex digits kept from the path hash.
const hashLen = 24

// FileDocID returns a stable document id for absolutePath. Paths that clean to the same
// string get the same id, so re-ingesting a file replaces its previous version.
func FileDocID(absolutePath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(absolutePath)))
	return Prefix + hex.EncodeToString(sum[:])[:hashLen]
}

// IsFileDocID reports whether id was produced by FileDocID.
func IsFileDocID(id string) bool {
	if !strings.HasPrefix(id, Prefix) || len(id) != len(Prefix)+hashLen {
		return false
	}
	_, err := hex.DecodeString(id[len(Prefix):])
	return err == nil
}
