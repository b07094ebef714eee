package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store is the embedding index used by the rest of the application. It owns one index
// and catalog pair plus a snapshot store, and serializes mutation against reads: Insert,
// DeleteDocument and Load hold the write lock, everything else the read lock.
type Store struct {
	mu         sync.RWMutex
	saveMu     sync.Mutex
	dimensions int
	index      Index
	catalog    *Catalog
	snapshots  *SnapshotStore
	oversample int
	newIndex   func(dimensions int) (Index, error)
	logger     *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for warnings (zero-norm vectors, rebuilds, snapshots).
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithOversample sets the candidate multiplier for document-filtered searches.
func WithOversample(n int) StoreOption {
	return func(s *Store) { s.oversample = n }
}

// WithIndexFactory replaces the index constructor (default NewIndex with IndexTypeFlat).
func WithIndexFactory(fn func(dimensions int) (Index, error)) StoreOption {
	return func(s *Store) { s.newIndex = fn }
}

// NewStore creates an empty store for vectors of the given dimension.
// snapshots may be nil, in which case Save and Load fail.
func NewStore(dimensions int, snapshots *SnapshotStore, opts ...StoreOption) (*Store, error) {
	s := &Store{
		dimensions: dimensions,
		snapshots:  snapshots,
		oversample: DefaultOversample,
		newIndex: func(d int) (Index, error) {
			return NewIndex(string(IndexTypeFlat), d)
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	idx, err := s.newIndex(dimensions)
	if err != nil {
		return nil, err
	}
	s.index = idx
	s.catalog = NewCatalog()
	return s, nil
}

// OpenStore creates a store and loads the snapshot called name if it exists.
// A missing snapshot leaves the store empty; any other load failure is returned.
func OpenStore(dimensions int, snapshots *SnapshotStore, name string, opts ...StoreOption) (*Store, error) {
	s, err := NewStore(dimensions, snapshots, opts...)
	if err != nil {
		return nil, err
	}
	if snapshots == nil || name == "" {
		return s, nil
	}
	if err := s.Load(name); err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			s.logger.Info("no snapshot found, starting empty", zap.String("snapshot", name))
			return s, nil
		}
		return nil, err
	}
	return s, nil
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int {
	return s.dimensions
}

// Insert adds a batch of vectors with one metadata record each. The batch is validated
// in full (lengths, dimensions, metadata ranges, chunk id uniqueness) before anything is stored, so it
// either lands completely or not at all.
func (s *Store) Insert(ctx context.Context, vectors [][]float32, metas []ChunkMetadata) (InsertResult, error) {
	if err := ctx.Err(); err != nil {
		return InsertResult{}, err
	}
	if len(vectors) != len(metas) {
		return InsertResult{}, fmt.Errorf("%w: %d vectors, %d records", ErrBatchMismatch, len(vectors), len(metas))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.index.Count()
	if len(vectors) == 0 {
		return InsertResult{Start: Slot(start)}, nil
	}
	for i, v := range vectors {
		if len(v) != s.dimensions {
			return InsertResult{}, &DimensionMismatchError{Expected: s.dimensions, Actual: len(v), Index: i}
		}
	}
	seen := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if m.ChunkIndex < 0 || m.TokenCount < 0 {
			return InsertResult{}, fmt.Errorf("%w: chunk %q has index %d, tokens %d",
				ErrInvalidMetadata, m.ChunkID, m.ChunkIndex, m.TokenCount)
		}
		if _, dup := seen[m.ChunkID]; dup || s.catalog.HasChunk(m.ChunkID) {
			return InsertResult{}, fmt.Errorf("%w: %q", ErrDuplicateChunkID, m.ChunkID)
		}
		seen[m.ChunkID] = struct{}{}
	}

	res, err := s.index.Insert(vectors)
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert vectors: %w", err)
	}
	if int(res.Start) != start || res.Count != len(vectors) {
		s.rollback(start, nil)
		return InsertResult{}, fmt.Errorf("%w: index assigned [%d,%d), expected [%d,%d)",
			ErrDuplicateSlot, res.Start, res.End(), start, start+len(vectors))
	}
	for i, m := range metas {
		slot := res.Start + Slot(i)
		if err := s.catalog.Register(slot, m); err != nil {
			s.rollback(start, res.Slots()[:i])
			s.logger.Error("catalog invariant violated, batch rolled back", zap.Error(err))
			return InsertResult{}, err
		}
	}
	if len(res.ZeroNorm) > 0 {
		ids := make([]string, len(res.ZeroNorm))
		for i, slot := range res.ZeroNorm {
			ids[i] = metas[int(slot-res.Start)].ChunkID
		}
		s.logger.Warn("zero-norm vectors stored unnormalized",
			zap.Int("count", len(res.ZeroNorm)),
			zap.Strings("chunk_ids", ids))
	}
	s.logger.Debug("vectors inserted",
		zap.Uint32("start", uint32(res.Start)),
		zap.Int("count", res.Count),
		zap.Int("total", s.index.Count()))
	return res, nil
}

// truncater is implemented by indexes that can drop trailing slots.
type truncater interface {
	truncate(n int)
}

// rollback undoes a failed insert: registered slots are removed from the catalog and
// the index is cut back to start. An index that cannot truncate is rebuilt from its
// retained vectors, and left as is (with a logged error) when it cannot reconstruct them.
func (s *Store) rollback(start int, registered []Slot) {
	for _, slot := range registered {
		s.catalog.unregister(slot)
	}
	if s.index.Count() <= start {
		return
	}
	if t, ok := s.index.(truncater); ok {
		t.truncate(start)
		return
	}
	rec, ok := s.index.(Reconstructor)
	if !ok {
		s.logger.Error("rollback left orphan vectors",
			zap.String("index_type", indexTypeOf(s.index)),
			zap.Int("orphans", s.index.Count()-start))
		return
	}
	kept := make([][]float32, start)
	for i := range kept {
		vec, err := rec.Vector(Slot(i))
		if err != nil {
			s.logger.Error("rollback rebuild failed", zap.Error(err))
			return
		}
		kept[i] = vec
	}
	idx, err := s.newIndex(s.dimensions)
	if err == nil && len(kept) > 0 {
		_, err = idx.Insert(kept)
	}
	if err != nil {
		s.logger.Error("rollback rebuild failed", zap.Error(err))
		return
	}
	s.index = idx
}

// Search returns the top-k chunks for query, restricted to documentIDs when any are given.
func (s *Store) Search(ctx context.Context, query []float32, k int, documentIDs ...string) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := NewRetriever(s.index, s.catalog, s.oversample)
	return r.Search(query, k, NewDocumentFilter(documentIDs...))
}

// Lookup returns the metadata and stored (normalized) vector for chunkID.
func (s *Store) Lookup(chunkID string) (ChunkMetadata, []float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, err := s.catalog.FindSlot(chunkID)
	if err != nil {
		return ChunkMetadata{}, nil, err
	}
	meta, err := s.catalog.Resolve(slot)
	if err != nil {
		return ChunkMetadata{}, nil, err
	}
	rec, ok := s.index.(Reconstructor)
	if !ok {
		return meta, nil, nil
	}
	vec, err := rec.Vector(slot)
	if err != nil {
		return ChunkMetadata{}, nil, err
	}
	return meta, vec, nil
}

// DeleteDocument removes every vector belonging to docID by rebuilding the index and
// catalog from the surviving records and swapping them in. Surviving chunks keep their
// ids and relative order but are assigned new dense slots. It returns the number of
// vectors removed.
func (s *Store) DeleteDocument(ctx context.Context, docID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := s.catalog.DocumentSlots(docID)
	if doomed.IsEmpty() {
		return 0, fmt.Errorf("%w: %q", ErrDocumentNotFound, docID)
	}
	rec, ok := s.index.(Reconstructor)
	if !ok {
		s.logger.Error("document deletion rejected", zap.String("document_id", docID),
			zap.String("index_type", indexTypeOf(s.index)))
		return 0, fmt.Errorf("delete document %q: %w", docID, ErrUnsupportedWithoutVectorRetention)
	}

	started := time.Now()
	total := s.index.Count()
	survivors := make([][]float32, 0, total-int(doomed.GetCardinality()))
	metas := make([]ChunkMetadata, 0, cap(survivors))
	for i := 0; i < total; i++ {
		if doomed.Contains(uint32(i)) {
			continue
		}
		vec, err := rec.Vector(Slot(i))
		if err != nil {
			return 0, fmt.Errorf("rebuild: read slot %d: %w", i, err)
		}
		meta, err := s.catalog.Resolve(Slot(i))
		if err != nil {
			return 0, fmt.Errorf("rebuild: %w", err)
		}
		survivors = append(survivors, vec)
		metas = append(metas, meta)
	}

	idx, cat, err := s.build(survivors, metas)
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}
	s.index, s.catalog = idx, cat
	removed := total - idx.Count()
	s.logger.Info("document removed from index",
		zap.String("document_id", docID),
		zap.Int("removed", removed),
		zap.Int("remaining", idx.Count()),
		zap.Duration("rebuild", time.Since(started)))
	return removed, nil
}

// build creates a fresh index and catalog from already-normalized vectors.
func (s *Store) build(vectors [][]float32, metas []ChunkMetadata) (Index, *Catalog, error) {
	idx, err := s.newIndex(s.dimensions)
	if err != nil {
		return nil, nil, err
	}
	var res InsertResult
	if fi, ok := idx.(*FlatIndex); ok {
		res = fi.appendNormalized(vectors)
	} else if res, err = idx.Insert(vectors); err != nil {
		return nil, nil, err
	}
	cat := NewCatalog()
	for i, m := range metas {
		if err := cat.Register(res.Start+Slot(i), m); err != nil {
			return nil, nil, err
		}
	}
	return idx, cat, nil
}

// Save writes the current index and catalog as snapshot name. Reads continue during the
// save; mutations wait for it.
func (s *Store) Save(name string) error {
	if s.snapshots == nil {
		return errors.New("save: no snapshot store configured")
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()

	started := time.Now()
	if err := s.snapshots.Save(name, s.index, s.catalog); err != nil {
		return err
	}
	s.logger.Info("index snapshot saved",
		zap.String("snapshot", name),
		zap.Int("vectors", s.index.Count()),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

// Load replaces the current state with snapshot name. The snapshot is decoded before the
// write lock is taken; on any error the current state is kept.
func (s *Store) Load(name string) error {
	if s.snapshots == nil {
		return errors.New("load: no snapshot store configured")
	}
	idx, cat, err := s.snapshots.Load(name)
	if err != nil {
		return err
	}
	if idx.Dimension() != s.dimensions {
		return fmt.Errorf("load snapshot %q: %w", name,
			&DimensionMismatchError{Expected: s.dimensions, Actual: idx.Dimension(), Index: -1})
	}
	s.mu.Lock()
	s.index, s.catalog = idx, cat
	s.mu.Unlock()
	s.logger.Info("index snapshot loaded",
		zap.String("snapshot", name),
		zap.Int("vectors", idx.Count()),
		zap.Int("documents", cat.DocumentCount()))
	return nil
}

// Stats returns counts for the current state.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		TotalVectors: s.index.Count(),
		Dimension:    s.dimensions,
		Documents:    s.catalog.DocumentCount(),
		IndexType:    indexTypeOf(s.index),
	}
	if z, ok := s.index.(interface{ ZeroNormCount() int }); ok {
		st.ZeroNormVectors = z.ZeroNormCount()
	}
	return st
}

// Documents returns the ids of all documents that have vectors in the index.
func (s *Store) Documents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Documents()
}

// Snapshots lists the names of saved snapshots.
func (s *Store) Snapshots() ([]string, error) {
	if s.snapshots == nil {
		return nil, errors.New("list snapshots: no snapshot store configured")
	}
	return s.snapshots.List()
}
