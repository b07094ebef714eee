package vector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Idempotent(t *testing.T) {
	inputs := [][]float32{
		{3, 4},
		{1, 2, 3, 4},
		{-0.5, 0.25, 10, 1e-3},
		{1e6, -1e6, 3},
	}
	for _, v := range inputs {
		once, ok := Normalize(v)
		require.True(t, ok)
		twice, ok := Normalize(once)
		require.True(t, ok)
		require.Len(t, twice, len(once))
		for i := range once {
			assert.InDelta(t, once[i], twice[i], 1e-6)
		}
		assert.InDelta(t, 1.0, InnerProduct(once, once), 1e-5)
	}
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	out, ok := Normalize(v)
	assert.False(t, ok)
	assert.Equal(t, []float32{0, 0, 0}, out)
}

func TestNewFlatIndex_InvalidDimension(t *testing.T) {
	_, err := NewFlatIndex(0)
	assert.ErrorIs(t, err, ErrInvalidDimension)
	_, err = NewFlatIndex(-3)
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestFlatIndex_InsertMonotonic(t *testing.T) {
	idx, err := NewFlatIndex(3)
	require.NoError(t, err)

	res, err := idx.Insert([][]float32{{1, 0, 0}, {0, 1, 0}})
	require.NoError(t, err)
	assert.Equal(t, Slot(0), res.Start)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, idx.Count())

	res, err = idx.Insert([][]float32{{0, 0, 1}, {1, 1, 0}, {1, 1, 1}})
	require.NoError(t, err)
	assert.Equal(t, Slot(2), res.Start)
	assert.Equal(t, Slot(5), res.End())
	assert.Equal(t, []Slot{2, 3, 4}, res.Slots())
	assert.Equal(t, 5, idx.Count())
}

func TestFlatIndex_DimensionMismatchRejectsBatch(t *testing.T) {
	idx, err := NewFlatIndex(3)
	require.NoError(t, err)
	_, err = idx.Insert([][]float32{{1, 0, 0}})
	require.NoError(t, err)

	_, err = idx.Insert([][]float32{{1, 0, 0}, {1, 0}, {0, 0, 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	var dm *DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
	assert.Equal(t, 1, dm.Index)
	assert.Equal(t, 1, idx.Count(), "no partial insert")

	_, err = idx.Search([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFlatIndex_StoresNormalized(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	_, err = idx.Insert([][]float32{{3, 4}})
	require.NoError(t, err)
	vec, err := idx.Vector(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	vec[0] = 42
	again, err := idx.Vector(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, again[0], 1e-6, "Vector must return a copy")

	_, err = idx.Vector(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlatIndex_ZeroVectorFlagged(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	res, err := idx.Insert([][]float32{{1, 0}, {0, 0}, {0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []Slot{1}, res.ZeroNorm)
	assert.Equal(t, 1, idx.ZeroNormCount())

	hits, err := idx.Search([]float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, Slot(1), hits[2].Slot)
	assert.Zero(t, hits[2].Score)
}

func TestFlatIndex_SearchOrderingAndTies(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	_, err = idx.Insert([][]float32{
		{0, 1},   // 0: orthogonal
		{1, 0},   // 1: exact
		{2, 0},   // 2: exact after normalization, ties with 1
		{1, 1},   // 3: 45 degrees
		{1, 0.1}, // 4: close
	})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{5, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 5)
	got := make([]Slot, len(hits))
	for i, h := range hits {
		got[i] = h.Slot
	}
	assert.Equal(t, []Slot{1, 2, 4, 3, 0}, got)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, hits[0].Score, hits[1].Score)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestFlatIndex_SearchBoundaries(t *testing.T) {
	idx, err := NewFlatIndex(3)
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 0, 0}, 10)
	require.NoError(t, err, "empty index is not an error")
	assert.Empty(t, hits)

	_, err = idx.Insert([][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	require.NoError(t, err)
	hits, err = idx.Search([]float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3, "k larger than count returns count results")

	_, err = idx.Search([]float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestFlatIndex_SearchDeterministic(t *testing.T) {
	idx, err := NewFlatIndex(4)
	require.NoError(t, err)
	vecs := make([][]float32, 50)
	for i := range vecs {
		vecs[i] = []float32{float32(i % 7), float32(i % 3), 1, float32(i % 5)}
	}
	_, err = idx.Insert(vecs)
	require.NoError(t, err)

	first, err := idx.Search([]float32{1, 2, 3, 4}, 20)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := idx.Search([]float32{1, 2, 3, 4}, 20)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFlatIndex_Truncate(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	_, err = idx.Insert([][]float32{{1, 0}, {0, 0}, {0, 1}, {0, 0}})
	require.NoError(t, err)
	require.Equal(t, 2, idx.ZeroNormCount())

	idx.truncate(2)
	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, 1, idx.ZeroNormCount())
	res, err := idx.Insert([][]float32{{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, Slot(2), res.Start)
}
