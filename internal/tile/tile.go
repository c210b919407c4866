// Package tile maps a logical (row, cell) address of a fixed-shape column
// onto (bucket index, byte offset) pairs, and keeps a bounded in-memory
// cache of decoded tile buffers with dirty tracking.
package tile

// Tile is one resident bucket-sized buffer. Its byte layout is determined
// solely by the column's element type and fixed shape: rowsPerTile cells of
// cellSize bytes each, packed from offset 0. Ownership of the buffer belongs
// exclusively to the cube until the tile is flushed and evicted.
type Tile struct {
	index int64
	buf   []byte
	dirty bool
}

// Index returns the bucket index this tile occupies in the backing file.
func (t *Tile) Index() int64 { return t.index }

// Bytes returns the tile's buffer. Callers mutate it in place and must call
// MarkDirty afterwards.
func (t *Tile) Bytes() []byte { return t.buf }

// Dirty reports whether the tile holds unflushed modifications.
func (t *Tile) Dirty() bool { return t.dirty }

// MarkDirty records that the buffer has been modified since the last flush.
func (t *Tile) MarkDirty() { t.dirty = true }
