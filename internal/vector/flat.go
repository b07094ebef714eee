package vector

import (
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hyperjump/contextrag/pkg/utils"
)

// FlatIndex is an exact inner-product index over unit-normalized vectors held in one
// contiguous slice. Search is brute force: every stored vector is scored.
//
// FlatIndex is not safe for concurrent mutation; Store serializes access.
type FlatIndex struct {
	dimensions int
	data       []float32 // count*dimensions values, slot i at [i*d, (i+1)*d)
	zeroNorm   *roaring.Bitmap
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dimensions)
	}
	return &FlatIndex{
		dimensions: dimensions,
		data:       make([]float32, 0),
		zeroNorm:   roaring.New(),
	}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Dimension returns the vector dimension.
func (f *FlatIndex) Dimension() int {
	return f.dimensions
}

// Count returns the number of stored vectors.
func (f *FlatIndex) Count() int {
	return len(f.data) / f.dimensions
}

// ZeroNormCount returns how many stored vectors had zero norm on insert.
func (f *FlatIndex) ZeroNormCount() int {
	return int(f.zeroNorm.GetCardinality())
}

// Insert normalizes and appends vectors, returning the assigned slot range.
// If any vector has the wrong length the whole batch is rejected and nothing is stored.
func (f *FlatIndex) Insert(vectors [][]float32) (InsertResult, error) {
	if err := f.checkBatch(vectors); err != nil {
		return InsertResult{Start: Slot(f.Count())}, err
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		normalized[i], _ = Normalize(v)
	}
	return f.appendNormalized(normalized), nil
}

func (f *FlatIndex) checkBatch(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dimensions {
			return &DimensionMismatchError{Expected: f.dimensions, Actual: len(v), Index: i}
		}
	}
	return nil
}

// appendNormalized stores vectors that are already unit length (or zero). Used by
// Insert, rebuilds and snapshot loads so stored values are never normalized twice.
func (f *FlatIndex) appendNormalized(vectors [][]float32) InsertResult {
	res := InsertResult{Start: Slot(f.Count()), Count: len(vectors)}
	f.data = growFloat32(f.data, len(vectors)*f.dimensions)
	for i, v := range vectors {
		slot := res.Start + Slot(i)
		if degenerate(v) {
			f.zeroNorm.Add(uint32(slot))
			res.ZeroNorm = append(res.ZeroNorm, slot)
		}
		f.data = append(f.data, v...)
	}
	return res
}

// truncate drops every slot >= n. Used to roll back a failed insert.
func (f *FlatIndex) truncate(n int) {
	if n >= f.Count() {
		return
	}
	f.data = f.data[:n*f.dimensions]
	f.zeroNorm.RemoveRange(uint64(n), uint64(^uint32(0))+1)
}

// Search returns the top-k slots by inner product with the normalized query, ordered by
// descending score with ties broken by ascending slot. An empty index yields no hits.
func (f *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, &DimensionMismatchError{Expected: f.dimensions, Actual: len(query), Index: -1}
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}
	n := f.Count()
	if n == 0 {
		return []Hit{}, nil
	}
	q, _ := Normalize(query)
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{Slot: Slot(i), Score: InnerProduct(q, f.row(i))}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Slot < hits[j].Slot
	})
	if k > n {
		k = n
	}
	return hits[:k:k], nil
}

// Vector returns a copy of the stored (normalized) vector at slot.
func (f *FlatIndex) Vector(slot Slot) ([]float32, error) {
	if int(slot) >= f.Count() {
		return nil, fmt.Errorf("slot %d: %w", slot, ErrNotFound)
	}
	out := make([]float32, f.dimensions)
	copy(out, f.row(int(slot)))
	return out, nil
}

func (f *FlatIndex) row(i int) []float32 {
	return f.data[i*f.dimensions : (i+1)*f.dimensions]
}

// degenerate reports vectors that cannot be normalized: zero or non-finite norm.
func degenerate(v []float32) bool {
	n := utils.L2Norm(v)
	return n == 0 || math.IsNaN(n) || math.IsInf(n, 0)
}

func growFloat32(s []float32, n int) []float32 {
	if cap(s)-len(s) >= n {
		return s
	}
	grown := make([]float32, len(s), len(s)+n+cap(s)/4)
	copy(grown, s)
	return grown
}
