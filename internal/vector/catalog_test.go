package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(chunkID, docID string, idx int) ChunkMetadata {
	return ChunkMetadata{ChunkID: chunkID, DocumentID: docID, ChunkIndex: idx, Text: "text " + chunkID, TokenCount: 3}
}

func TestCatalog_RegisterResolve(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(0, meta("c0", "docA", 0)))
	require.NoError(t, c.Register(1, meta("c1", "docA", 1)))
	require.NoError(t, c.Register(2, meta("c2", "docB", 0)))

	got, err := c.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ChunkID)

	slot, err := c.FindSlot("c2")
	require.NoError(t, err)
	assert.Equal(t, Slot(2), slot)

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 2, c.DocumentCount())
	assert.Equal(t, []string{"docA", "docB"}, c.Documents())
	assert.Equal(t, []uint32{0, 1}, c.DocumentSlots("docA").ToArray())
	assert.True(t, c.DocumentSlots("docZ").IsEmpty())
}

func TestCatalog_NotFound(t *testing.T) {
	c := NewCatalog()
	_, err := c.Resolve(7)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.FindSlot("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_DuplicateSlot(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(0, meta("c0", "docA", 0)))
	err := c.Register(0, meta("other", "docA", 1))
	assert.ErrorIs(t, err, ErrDuplicateSlot)

	got, err := c.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, "c0", got.ChunkID, "existing record must not be overwritten")
	assert.False(t, c.HasChunk("other"))
}

func TestCatalog_DuplicateChunkID(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(0, meta("c0", "docA", 0)))
	err := c.Register(1, meta("c0", "docB", 0))
	assert.ErrorIs(t, err, ErrDuplicateChunkID)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.DocumentCount())
}

func TestCatalog_DocumentSlotsIsCopy(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(0, meta("c0", "docA", 0)))
	bm := c.DocumentSlots("docA")
	bm.Add(99)
	assert.False(t, c.DocumentSlots("docA").Contains(99))
}

func TestCatalog_Unregister(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(0, meta("c0", "docA", 0)))
	require.NoError(t, c.Register(1, meta("c1", "docB", 0)))
	c.unregister(1)
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.HasChunk("c1"))
	assert.Equal(t, []string{"docA"}, c.Documents())
	c.unregister(5) // unknown slot is a no-op
	assert.Equal(t, 1, c.Len())
}
