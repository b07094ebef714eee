// Package vector provides the exact in-memory embedding index: vector storage, the chunk
// catalog, filtered retrieval, snapshots, and the Store that composes them.
package vector

// Slot is the dense position of a vector in an index. Slots start at 0 and grow by the
// batch size on every successful insert.
type Slot uint32

// ChunkMetadata describes the chunk a vector was embedded from.
type ChunkMetadata struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	TokenCount int    `json:"tokens"`
}

// Index stores vectors of a fixed dimension and answers exact top-k inner-product queries.
type Index interface {
	Insert(vectors [][]float32) (InsertResult, error)
	Search(query []float32, k int) ([]Hit, error)
	Count() int
	Dimension() int
}

// Reconstructor is implemented by indexes that retain their normalized vectors.
// Deleting a document and saving a snapshot both require it.
type Reconstructor interface {
	Vector(slot Slot) ([]float32, error)
}

// Hit is a raw index match.
type Hit struct {
	Slot  Slot
	Score float64 // inner product of unit vectors, i.e. cosine similarity
}

// InsertResult describes the slots assigned by an insert.
type InsertResult struct {
	Start    Slot   `json:"start"`
	Count    int    `json:"count"`
	// ZeroNorm lists slots whose input had zero norm and were stored unnormalized.
	ZeroNorm []Slot `json:"zero_norm,omitempty"`
}

// End returns the exclusive end of the assigned range.
func (r InsertResult) End() Slot {
	return r.Start + Slot(r.Count)
}

// Slots returns every slot in the assigned range.
func (r InsertResult) Slots() []Slot {
	out := make([]Slot, r.Count)
	for i := range out {
		out[i] = r.Start + Slot(i)
	}
	return out
}

// Result is a ranked search hit resolved to its chunk metadata.
type Result struct {
	Slot     Slot          `json:"slot"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Stats summarizes a Store.
type Stats struct {
	TotalVectors    int    `json:"total_vectors"`
	Dimension       int    `json:"dimension"`
	Documents       int    `json:"documents"`
	ZeroNormVectors int    `json:"zero_norm_vectors"`
	IndexType       string `json:"index_type"`
}
