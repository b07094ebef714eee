package vector

import "fmt"

// DefaultOversample is the candidate multiplier used for filtered searches.
const DefaultOversample = 3

// DocumentFilter restricts results to a set of document ids. A nil or empty filter
// matches everything.
type DocumentFilter map[string]struct{}

// NewDocumentFilter builds a filter from ids. It returns nil when ids is empty.
func NewDocumentFilter(ids ...string) DocumentFilter {
	if len(ids) == 0 {
		return nil
	}
	f := make(DocumentFilter, len(ids))
	for _, id := range ids {
		f[id] = struct{}{}
	}
	return f
}

// Active reports whether the filter restricts anything.
func (f DocumentFilter) Active() bool {
	return len(f) > 0
}

// Contains reports whether docID passes the filter.
func (f DocumentFilter) Contains(docID string) bool {
	if !f.Active() {
		return true
	}
	_, ok := f[docID]
	return ok
}

// Retriever runs filtered top-k queries over an index and its catalog.
//
// The index has no predicate pushdown, so a filtered search ranks a window of
// min(k*oversample, count) candidates and keeps those in the filter. When the window
// holds fewer than k matches the result is short even if more matches exist further
// down the ranking; the window is never widened.
type Retriever struct {
	index      Index
	catalog    *Catalog
	oversample int
}

// NewRetriever returns a retriever over index and catalog. oversample < 1 uses DefaultOversample.
func NewRetriever(index Index, catalog *Catalog, oversample int) *Retriever {
	if oversample < 1 {
		oversample = DefaultOversample
	}
	return &Retriever{index: index, catalog: catalog, oversample: oversample}
}

// Search returns up to k results ordered by descending score (ties by ascending slot).
func (r *Retriever) Search(query []float32, k int, filter DocumentFilter) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}
	if d := r.index.Dimension(); len(query) != d {
		return nil, &DimensionMismatchError{Expected: d, Actual: len(query), Index: -1}
	}
	window := k
	if filter.Active() {
		// compare before multiplying so a huge k cannot overflow
		if total := r.index.Count(); k > total/r.oversample {
			window = total
		} else {
			window = k * r.oversample
		}
		if window == 0 {
			return []Result{}, nil
		}
	}
	hits, err := r.index.Search(query, window)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, min(k, len(hits)))
	for _, h := range hits {
		meta, err := r.catalog.Resolve(h.Slot)
		if err != nil {
			return nil, fmt.Errorf("resolve hit: %w", err)
		}
		if !filter.Contains(meta.DocumentID) {
			continue
		}
		results = append(results, Result{Slot: h.Slot, Score: h.Score, Metadata: meta})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}
