package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeFlat is exact brute-force inner-product search over contiguous storage.
	IndexTypeFlat IndexType = "flat"
)

// NewIndex creates a vector index of the specified type.
// Supported types: "flat" (default; "memory" is accepted as an alias).
func NewIndex(indexType string, dimensions int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "memory", "":
		return NewFlatIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat)", indexType)
	}
}

// indexTypeOf names the implementation behind idx for stats.
func indexTypeOf(idx Index) string {
	if t, ok := idx.(interface{ Type() string }); ok {
		return t.Type()
	}
	return fmt.Sprintf("%T", idx)
}
