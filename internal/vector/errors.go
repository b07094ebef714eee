package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown chunk id, slot, document or snapshot.
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is the sentinel matched by *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidDimension is returned when an index is created with a non-positive dimension.
	ErrInvalidDimension = errors.New("dimension must be positive")
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
	// ErrDuplicateSlot indicates a slot was registered twice. It is an internal invariant
	// violation and aborts the operation.
	ErrDuplicateSlot = errors.New("slot already registered")
	// ErrDuplicateChunkID is returned when an insert reuses an existing chunk id.
	ErrDuplicateChunkID = errors.New("chunk id already registered")
	// ErrInvalidMetadata is returned when a chunk record carries a negative chunk index or
	// token count.
	ErrInvalidMetadata = errors.New("invalid chunk metadata")
	// ErrBatchMismatch is returned when vectors and metadata differ in length.
	ErrBatchMismatch = errors.New("vectors and metadata length mismatch")
	// ErrUnsupportedWithoutVectorRetention is returned when a delete needs the stored vectors
	// but the active index cannot reconstruct them. Nothing is deleted.
	ErrUnsupportedWithoutVectorRetention = errors.New("deletion unsupported without vector retention")

	// ErrDocumentNotFound is returned when deleting a document that has no vectors.
	ErrDocumentNotFound = fmt.Errorf("document %w", ErrNotFound)
	// ErrSnapshotNotFound is returned when loading a snapshot name that does not exist.
	ErrSnapshotNotFound = fmt.Errorf("snapshot %w", ErrNotFound)
	// ErrInvalidSnapshotName is returned for empty names or names containing path elements.
	ErrInvalidSnapshotName = errors.New("invalid snapshot name")
	// ErrCorruptSnapshot is returned when a snapshot fails magic, checksum or length checks.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	// ErrIncompatibleSnapshot is returned for snapshots written in an unknown format version.
	ErrIncompatibleSnapshot = errors.New("incompatible snapshot format")
)

// DimensionMismatchError reports a vector whose length differs from the index dimension.
// Index is the position of the offending vector in its batch, or -1 for a query.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	Index    int
}

func (e *DimensionMismatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("query dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
	}
	return fmt.Sprintf("vector %d dimension mismatch: expected %d, got %d", e.Index, e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
