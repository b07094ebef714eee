package vector

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPair(t *testing.T, dim int, vecs [][]float32, metas []ChunkMetadata) (*FlatIndex, *Catalog) {
	t.Helper()
	idx, err := NewFlatIndex(dim)
	require.NoError(t, err)
	res, err := idx.Insert(vecs)
	require.NoError(t, err)
	cat := NewCatalog()
	for i, m := range metas {
		require.NoError(t, cat.Register(res.Start+Slot(i), m))
	}
	return idx, cat
}

func TestDocumentFilter(t *testing.T) {
	assert.Nil(t, NewDocumentFilter())
	var none DocumentFilter
	assert.False(t, none.Active())
	assert.True(t, none.Contains("anything"))

	f := NewDocumentFilter("a", "b")
	assert.True(t, f.Active())
	assert.True(t, f.Contains("a"))
	assert.False(t, f.Contains("c"))
}

// Five docA vectors and three docB vectors of dimension 4; querying with one of docA's
// raw vectors under a docA filter returns that chunk first with score ~1 and no docB.
func TestRetriever_DocumentScenario(t *testing.T) {
	docA := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {1, 2, 3, 4}, {4, 3, 2, 1}}
	docB := [][]float32{{1, 1, 0, 0}, {0, 1, 1, 0}, {2, 2, 2, 2}}
	var vecs [][]float32
	var metas []ChunkMetadata
	for i, v := range docA {
		vecs = append(vecs, v)
		metas = append(metas, meta(fmt.Sprintf("chunk-docA-%d", i), "docA", i))
	}
	for i, v := range docB {
		vecs = append(vecs, v)
		metas = append(metas, meta(fmt.Sprintf("chunk-docB-%d", i), "docB", i))
	}
	idx, cat := buildPair(t, 4, vecs, metas)
	r := NewRetriever(idx, cat, DefaultOversample)

	results, err := r.Search([]float32{1, 2, 3, 4}, 3, NewDocumentFilter("docA"))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "chunk-docA-3", results[0].Metadata.ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	for _, res := range results {
		assert.Equal(t, "docA", res.Metadata.DocumentID)
	}

	unfiltered, err := r.Search([]float32{1, 2, 3, 4}, 3, nil)
	require.NoError(t, err)
	require.Len(t, unfiltered, 3)
	assert.Equal(t, "chunk-docB-2", unfiltered[1].Metadata.ChunkID, "unfiltered search sees docB")
}

func TestRetriever_FilterCorrectness(t *testing.T) {
	var vecs [][]float32
	var metas []ChunkMetadata
	docs := []string{"d0", "d1", "d2"}
	for i := 0; i < 30; i++ {
		vecs = append(vecs, []float32{float32(i%5) + 1, float32(i%7) - 3, float32(i % 2)})
		metas = append(metas, meta(fmt.Sprintf("c%d", i), docs[i%3], i/3))
	}
	idx, cat := buildPair(t, 3, vecs, metas)
	r := NewRetriever(idx, cat, DefaultOversample)

	for _, k := range []int{1, 3, 5, 10, 40} {
		results, err := r.Search([]float32{1, -1, 0.5}, k, NewDocumentFilter("d1", "d2"))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(results), k)
		for i, res := range results {
			assert.Contains(t, []string{"d1", "d2"}, res.Metadata.DocumentID)
			if i > 0 {
				prev := results[i-1]
				assert.True(t, prev.Score > res.Score || (prev.Score == res.Score && prev.Slot < res.Slot))
			}
		}
	}
}

// A filtered search only inspects min(k*oversample, count) candidates, so a matching
// document ranked below that window is not returned.
func TestRetriever_OversampleShortfall(t *testing.T) {
	vecs := [][]float32{{1, 0}, {0.99, 0.01}, {0.98, 0.02}, {0, 1}}
	metas := []ChunkMetadata{
		meta("b0", "docB", 0),
		meta("b1", "docB", 1),
		meta("b2", "docB", 2),
		meta("a0", "docA", 0),
	}
	idx, cat := buildPair(t, 2, vecs, metas)
	r := NewRetriever(idx, cat, 3)

	results, err := r.Search([]float32{1, 0}, 1, NewDocumentFilter("docA"))
	require.NoError(t, err)
	assert.Empty(t, results, "window of 3 holds only docB")

	results, err = r.Search([]float32{1, 0}, 2, NewDocumentFilter("docA"))
	require.NoError(t, err)
	require.Len(t, results, 1, "window of min(6,4) reaches docA")
	assert.Equal(t, "a0", results[0].Metadata.ChunkID)
}

func TestRetriever_FilteredHugeK(t *testing.T) {
	vecs := [][]float32{{1, 0}, {0.99, 0.01}, {0, 1}}
	metas := []ChunkMetadata{meta("b0", "docB", 0), meta("b1", "docB", 1), meta("a0", "docA", 0)}
	idx, cat := buildPair(t, 2, vecs, metas)
	r := NewRetriever(idx, cat, 3)

	results, err := r.Search([]float32{1, 0}, math.MaxInt/2, NewDocumentFilter("docB"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b0", results[0].Metadata.ChunkID)
	assert.Equal(t, "b1", results[1].Metadata.ChunkID)
}

func TestRetriever_Boundaries(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	r := NewRetriever(idx, NewCatalog(), 0)

	results, err := r.Search([]float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	results, err = r.Search([]float32{1, 0}, 5, NewDocumentFilter("x"))
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = r.Search([]float32{1, 0}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidK)
	_, err = r.Search([]float32{1, 0, 0}, 1, NewDocumentFilter("x"))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
