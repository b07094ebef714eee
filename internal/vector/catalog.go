package vector

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// Catalog maps chunk ids to slots, slots to metadata, and documents to their slots.
//
// Catalog is not safe for concurrent mutation; Store serializes access.
type Catalog struct {
	bySlot  map[Slot]ChunkMetadata
	byChunk map[string]Slot
	byDoc   map[string]*roaring.Bitmap
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		bySlot:  make(map[Slot]ChunkMetadata),
		byChunk: make(map[string]Slot),
		byDoc:   make(map[string]*roaring.Bitmap),
	}
}

// Register records metadata for a freshly assigned slot.
func (c *Catalog) Register(slot Slot, meta ChunkMetadata) error {
	if _, ok := c.bySlot[slot]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateSlot, slot)
	}
	if prev, ok := c.byChunk[meta.ChunkID]; ok {
		return fmt.Errorf("%w: %q (slot %d)", ErrDuplicateChunkID, meta.ChunkID, prev)
	}
	c.bySlot[slot] = meta
	c.byChunk[meta.ChunkID] = slot
	bm, ok := c.byDoc[meta.DocumentID]
	if !ok {
		bm = roaring.New()
		c.byDoc[meta.DocumentID] = bm
	}
	bm.Add(uint32(slot))
	return nil
}

// unregister removes a slot. Used to roll back a partially registered batch.
func (c *Catalog) unregister(slot Slot) {
	meta, ok := c.bySlot[slot]
	if !ok {
		return
	}
	delete(c.bySlot, slot)
	if c.byChunk[meta.ChunkID] == slot {
		delete(c.byChunk, meta.ChunkID)
	}
	if bm, ok := c.byDoc[meta.DocumentID]; ok {
		bm.Remove(uint32(slot))
		if bm.IsEmpty() {
			delete(c.byDoc, meta.DocumentID)
		}
	}
}

// Resolve returns the metadata registered for slot.
func (c *Catalog) Resolve(slot Slot) (ChunkMetadata, error) {
	meta, ok := c.bySlot[slot]
	if !ok {
		return ChunkMetadata{}, fmt.Errorf("slot %d: %w", slot, ErrNotFound)
	}
	return meta, nil
}

// FindSlot returns the slot registered for chunkID.
func (c *Catalog) FindSlot(chunkID string) (Slot, error) {
	slot, ok := c.byChunk[chunkID]
	if !ok {
		return 0, fmt.Errorf("chunk %q: %w", chunkID, ErrNotFound)
	}
	return slot, nil
}

// HasChunk reports whether chunkID is registered.
func (c *Catalog) HasChunk(chunkID string) bool {
	_, ok := c.byChunk[chunkID]
	return ok
}

// DocumentSlots returns a copy of the set of slots belonging to docID (empty if unknown).
func (c *Catalog) DocumentSlots(docID string) *roaring.Bitmap {
	if bm, ok := c.byDoc[docID]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// Len returns the number of registered slots.
func (c *Catalog) Len() int {
	return len(c.bySlot)
}

// DocumentCount returns the number of distinct documents with at least one slot.
func (c *Catalog) DocumentCount() int {
	return len(c.byDoc)
}

// Documents returns the ids of all documents with at least one slot, sorted.
func (c *Catalog) Documents() []string {
	ids := make([]string, 0, len(c.byDoc))
	for id := range c.byDoc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
