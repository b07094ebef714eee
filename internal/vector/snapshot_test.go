package vector

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIndex(t *testing.T) (*FlatIndex, *Catalog) {
	t.Helper()
	vecs := [][]float32{{1, 2, 3}, {0, 0, 0}, {-1, 0.5, 2}, {3, 3, 3}}
	metas := []ChunkMetadata{
		meta("chunk-a-0", "a", 0),
		meta("chunk-a-1", "a", 1),
		{ChunkID: "chunk-b-0", DocumentID: "b", ChunkIndex: 0, Text: "ünïcode text ✓", TokenCount: 4},
		{ChunkID: "chunk-b-1", DocumentID: "b", ChunkIndex: 1, Text: "", TokenCount: 0},
	}
	return buildPair(t, 3, vecs, metas)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			store := NewSnapshotStore(filepath.Join(t.TempDir(), "snaps"), WithCompression(compress))
			idx, cat := sampleIndex(t)
			require.NoError(t, store.Save("main", idx, cat))
			assert.True(t, store.Exists("main"))

			got, gotCat, err := store.Load("main")
			require.NoError(t, err)
			require.Equal(t, idx.Count(), got.Count())
			assert.Equal(t, idx.Dimension(), got.Dimension())
			assert.Equal(t, idx.ZeroNormCount(), got.ZeroNormCount())
			for i := 0; i < idx.Count(); i++ {
				want, _ := idx.Vector(Slot(i))
				have, err := got.Vector(Slot(i))
				require.NoError(t, err)
				assert.Equal(t, want, have, "slot %d vector", i)

				wm, _ := cat.Resolve(Slot(i))
				hm, err := gotCat.Resolve(Slot(i))
				require.NoError(t, err)
				assert.Equal(t, wm, hm)
			}

			q := []float32{1, 1, 1}
			before, err := idx.Search(q, 4)
			require.NoError(t, err)
			after, err := got.Search(q, 4)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestSnapshot_Empty(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	idx, err := NewFlatIndex(8)
	require.NoError(t, err)
	require.NoError(t, store.Save("empty", idx, NewCatalog()))
	got, cat, err := store.Load("empty")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Count())
	assert.Equal(t, 8, got.Dimension())
	assert.Equal(t, 0, cat.Len())
}

func TestSnapshot_NotFound(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	_, _, err := store.Load("missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.Exists("missing"))
}

func TestSnapshot_InvalidName(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	idx, cat := sampleIndex(t)
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		assert.ErrorIs(t, store.Save(name, idx, cat), ErrInvalidSnapshotName, name)
		_, _, err := store.Load(name)
		assert.ErrorIs(t, err, ErrInvalidSnapshotName, name)
	}
}

func savedBytes(t *testing.T, store *SnapshotStore, name string) (string, []byte) {
	t.Helper()
	idx, cat := sampleIndex(t)
	require.NoError(t, store.Save(name, idx, cat))
	path, err := store.Path(name)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return path, data
}

func TestSnapshot_Corrupt(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	path, data := savedBytes(t, store, "main")

	flipped := append([]byte(nil), data...)
	flipped[headerSize+5] ^= 0xFF
	require.NoError(t, os.WriteFile(path, flipped, 0644))
	_, _, err := store.Load("main")
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	require.NoError(t, os.WriteFile(path, data[:len(data)-10], 0644))
	_, _, err = store.Load("main")
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	require.NoError(t, os.WriteFile(path, []byte("CRAG"), 0644))
	_, _, err = store.Load("main")
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	badMagic := append([]byte(nil), data...)
	copy(badMagic, "NOPE")
	require.NoError(t, os.WriteFile(path, badMagic, 0644))
	_, _, err = store.Load("main")
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestSnapshot_Incompatible(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	path, data := savedBytes(t, store, "main")

	reseal := func(b []byte) []byte {
		n := len(b) - trailerSize
		binary.LittleEndian.PutUint32(b[n:], crc32.ChecksumIEEE(b[:n]))
		return b
	}

	future := append([]byte(nil), data...)
	binary.LittleEndian.PutUint16(future[4:], snapshotVersion+1)
	require.NoError(t, os.WriteFile(path, reseal(future), 0644))
	_, _, err := store.Load("main")
	assert.ErrorIs(t, err, ErrIncompatibleSnapshot)

	flags := append([]byte(nil), data...)
	binary.LittleEndian.PutUint16(flags[6:], 0x8000)
	require.NoError(t, os.WriteFile(path, reseal(flags), 0644))
	_, _, err = store.Load("main")
	assert.ErrorIs(t, err, ErrIncompatibleSnapshot)
}

func TestSnapshot_OverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore(dir, WithCompression(true))
	idx, cat := sampleIndex(t)
	require.NoError(t, store.Save("main", idx, cat))
	require.NoError(t, store.Save("main", idx, cat))
	require.NoError(t, store.Save("backup", idx, cat))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"backup", "main"}, names)
}

func TestSnapshot_ListMissingDir(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "nope"))
	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSnapshot_SaveRequiresVectors(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore(dir)
	inner, cat := sampleIndex(t)
	err := store.Save("main", opaqueIndex{inner}, cat)
	assert.ErrorIs(t, err, ErrUnsupportedWithoutVectorRetention)
	assert.False(t, store.Exists("main"))
}

func TestSnapshot_SaveCountMismatch(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	idx, _ := sampleIndex(t)
	err := store.Save("main", idx, NewCatalog())
	assert.Error(t, err)
	assert.False(t, store.Exists("main"))
}

// opaqueIndex hides the Reconstructor capability of the wrapped index.
type opaqueIndex struct {
	inner *FlatIndex
}

func (o opaqueIndex) Insert(v [][]float32) (InsertResult, error) { return o.inner.Insert(v) }
func (o opaqueIndex) Search(q []float32, k int) ([]Hit, error)   { return o.inner.Search(q, k) }
func (o opaqueIndex) Count() int                                 { return o.inner.Count() }
func (o opaqueIndex) Dimension() int                             { return o.inner.Dimension() }
