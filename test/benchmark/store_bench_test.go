package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/hyperjump/contextrag/internal/embedding"
	"github.com/hyperjump/contextrag/internal/indexer"
	"github.com/hyperjump/contextrag/internal/vector"
)

const (
	benchDims      = 384
	benchVectors   = 10000
	chunksPerDoc   = 20
	benchSnapshots = "bench"
)

func randomVectors(r *rand.Rand, n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, benchDims)
		for j := range v {
			v[j] = r.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func metadataFor(start, n int) []vector.ChunkMetadata {
	metas := make([]vector.ChunkMetadata, n)
	for i := range metas {
		slot := start + i
		metas[i] = vector.ChunkMetadata{
			ChunkID:    fmt.Sprintf("chunk-%06d", slot),
			DocumentID: fmt.Sprintf("doc-%04d", slot/chunksPerDoc),
			ChunkIndex: slot % chunksPerDoc,
			Text:       "benchmark chunk text",
		}
	}
	return metas
}

// filledStore returns a store holding benchVectors random vectors, chunksPerDoc per document.
func filledStore(b *testing.B, snaps *vector.SnapshotStore) *vector.Store {
	b.Helper()
	s, err := vector.NewStore(benchDims, snaps)
	if err != nil {
		b.Fatal(err)
	}
	r := rand.New(rand.NewSource(1))
	if _, err := s.Insert(context.Background(), randomVectors(r, benchVectors), metadataFor(0, benchVectors)); err != nil {
		b.Fatal(err)
	}
	return s
}

func BenchmarkStoreInsert(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	batch := randomVectors(r, chunksPerDoc)
	s, err := vector.NewStore(benchDims, nil)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Insert(ctx, batch, metadataFor(i*chunksPerDoc, chunksPerDoc)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStoreSearch(b *testing.B) {
	s := filledStore(b, nil)
	query := randomVectors(rand.New(rand.NewSource(2)), 1)[0]
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, query, 5); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStoreSearchFiltered(b *testing.B) {
	s := filledStore(b, nil)
	query := randomVectors(rand.New(rand.NewSource(2)), 1)[0]
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, query, 5, "doc-0001", "doc-0002"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStoreDeleteDocument(b *testing.B) {
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		s := filledStore(b, nil)
		b.StartTimer()
		if _, err := s.DeleteDocument(ctx, "doc-0007"); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkSnapshotSave(b *testing.B, compress bool) {
	snaps := vector.NewSnapshotStore(b.TempDir(), vector.WithCompression(compress))
	s := filledStore(b, snaps)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Save(benchSnapshots); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSnapshotSave(b *testing.B)           { benchmarkSnapshotSave(b, false) }
func BenchmarkSnapshotSaveCompressed(b *testing.B) { benchmarkSnapshotSave(b, true) }

func BenchmarkSnapshotLoad(b *testing.B) {
	snaps := vector.NewSnapshotStore(b.TempDir(), vector.WithCompression(true))
	src := filledStore(b, snaps)
	if err := src.Save(benchSnapshots); err != nil {
		b.Fatal(err)
	}
	dst, err := vector.NewStore(benchDims, snaps)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := dst.Load(benchSnapshots); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(benchDims)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}

func BenchmarkChunker(b *testing.B) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 2000)
	c := indexer.NewChunker(500, 50)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Chunk(text, indexer.ChunkContext{Filename: "fox.txt"})
	}
}
