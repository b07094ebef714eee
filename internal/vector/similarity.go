package vector

import "github.com/hyperjump/contextrag/pkg/utils"

// Normalize returns a unit-length copy of v. For a zero vector the copy is returned
// unchanged with ok=false.
func Normalize(v []float32) (out []float32, ok bool) {
	out = make([]float32, len(v))
	copy(out, v)
	ok = utils.NormalizeL2(out)
	return out, ok
}

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
