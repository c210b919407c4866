package tile

import (
	"fmt"

	"quarry/internal/base"
	"quarry/internal/bucket"
)

// debugChecks enables the fatal assertion that no dirty tile ever reaches
// the final eviction step unflushed. The eviction path always flushes first,
// so tripping this indicates a bug in the cache itself.
const debugChecks = false

// Cube owns the tile addressing for one column over one bucket file, plus
// the resident tile cache. Tiling policy is "as many full rows per bucket as
// fit": rowsPerTile = floor(bucketSize / cellSize), and a cell larger than a
// whole bucket is rejected at construction.
//
// Cube is not safe for concurrent use; the storage manager serializes
// access per file.
type Cube struct {
	file        *bucket.File
	desc        base.ColumnDescriptor
	cellSize    int
	rowsPerTile int64
	cache       *cache
}

// NewCube builds the tile geometry for desc over file. It fails with a
// ConfigError if a single cell does not fit in one bucket; this is a
// construction-time check, not re-done per write.
func NewCube(file *bucket.File, desc base.ColumnDescriptor, cacheTiles int) (*Cube, error) {
	cellSize := desc.CellSize()
	if cellSize > file.BucketSize() {
		return nil, &base.ConfigError{Reason: fmt.Sprintf(
			"column %q: cell size %d (type %s, shape %s) exceeds bucket size %d",
			desc.Name, cellSize, desc.Type, desc.Shape, file.BucketSize())}
	}
	if cacheTiles < 1 {
		return nil, &base.ConfigError{Reason: fmt.Sprintf(
			"cache capacity %d must be at least one tile", cacheTiles)}
	}
	return &Cube{
		file:        file,
		desc:        desc,
		cellSize:    cellSize,
		rowsPerTile: int64(file.BucketSize() / cellSize),
		cache:       newCache(cacheTiles),
	}, nil
}

// RowsPerTile returns how many rows one tile holds.
func (c *Cube) RowsPerTile() int64 { return c.rowsPerTile }

// Tiles returns the number of tiles needed to cover the column's row count.
func (c *Cube) Tiles() int64 {
	return (c.desc.Rows + c.rowsPerTile - 1) / c.rowsPerTile
}

// Locate resolves a row to its tile coordinates: the bucket index, the byte
// offset of the row's cell within the bucket, and the cell's element count.
// Pure address arithmetic; it performs no I/O.
func (c *Cube) Locate(row int64) (index int64, offset int, elems int) {
	index = row / c.rowsPerTile
	offset = int(row%c.rowsPerTile) * c.cellSize
	return index, offset, c.desc.Shape.ElemCount()
}

// GetOrLoad returns the resident tile for index, loading it first if
// necessary. A bucket the file has never covered is materialized as an
// all-zero buffer in memory, mirroring what the growth policy will put (or
// imply) on disk. Loading into a full cache evicts the least-recently-used
// clean tile; if every resident tile is dirty, tiles are flushed
// oldest-first until one can be evicted.
func (c *Cube) GetOrLoad(index int64) (*Tile, error) {
	if t, ok := c.cache.get(index); ok {
		return t, nil
	}

	if err := c.makeRoom(); err != nil {
		return nil, err
	}

	t := &Tile{index: index, buf: make([]byte, c.file.BucketSize())}
	if c.file.Touched(index) {
		if err := c.file.ReadAt(index, 0, t.buf); err != nil {
			return nil, err
		}
	}
	c.cache.add(t)
	return t, nil
}

// Flush writes the tile at index back to the bucket file if it is resident
// and dirty. Flushing a clean or non-resident tile is a no-op.
func (c *Cube) Flush(index int64) error {
	t, ok := c.cache.peek(index)
	if !ok || !t.dirty {
		return nil
	}
	return c.flushTile(t)
}

// FlushAll writes every dirty resident tile back to the bucket file, in
// ascending bucket order.
func (c *Cube) FlushAll() error {
	for _, t := range c.cache.residentSorted() {
		if !t.dirty {
			continue
		}
		if err := c.flushTile(t); err != nil {
			return err
		}
	}
	return nil
}

// makeRoom evicts one tile if the cache is full. Clean LRU tiles go first;
// when everything resident is dirty, the oldest dirty tiles are flushed
// until a slot frees.
func (c *Cube) makeRoom() error {
	if !c.cache.full() {
		return nil
	}
	victim := c.cache.lruClean()
	for victim == nil {
		oldest := c.cache.lruDirty()
		if oldest == nil {
			return &base.ConfigError{Reason: "tile cache has no evictable tile"}
		}
		if err := c.flushTile(oldest); err != nil {
			return err
		}
		victim = c.cache.lruClean()
	}
	if debugChecks && victim.dirty {
		panic(fmt.Sprintf("tile: evicting dirty tile %d without flush", victim.index))
	}
	c.cache.remove(victim.index)
	return nil
}

func (c *Cube) flushTile(t *Tile) error {
	if err := c.file.WriteAt(t.index, 0, t.buf); err != nil {
		return err
	}
	t.dirty = false
	return nil
}
