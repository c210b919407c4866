package tile

import (
	"container/list"
	"sort"
)

// cache is a fixed-capacity map of resident tiles keyed by bucket index with
// explicit recency tracking: a doubly-linked order list (front = most
// recently used) plus a lookup table into it. Eviction decisions live in the
// cube because they may require flushing; the cache only answers recency
// queries.
type cache struct {
	capacity int
	order    *list.List
	resident map[int64]*list.Element
}

func newCache(capacity int) *cache {
	return &cache{
		capacity: capacity,
		order:    list.New(),
		resident: make(map[int64]*list.Element, capacity),
	}
}

// get returns the tile for index and promotes it to most-recently-used.
func (c *cache) get(index int64) (*Tile, bool) {
	elem, ok := c.resident[index]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*Tile), true
}

// peek returns the tile for index without touching recency.
func (c *cache) peek(index int64) (*Tile, bool) {
	elem, ok := c.resident[index]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Tile), true
}

// add inserts a tile as most-recently-used. The caller has already made room.
func (c *cache) add(t *Tile) {
	c.resident[t.index] = c.order.PushFront(t)
}

// remove drops the tile at index from the cache.
func (c *cache) remove(index int64) {
	if elem, ok := c.resident[index]; ok {
		c.order.Remove(elem)
		delete(c.resident, index)
	}
}

func (c *cache) full() bool {
	return len(c.resident) >= c.capacity
}

// lruClean returns the least-recently-used clean tile, or nil if every
// resident tile is dirty.
func (c *cache) lruClean() *Tile {
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		if t := elem.Value.(*Tile); !t.dirty {
			return t
		}
	}
	return nil
}

// lruDirty returns the least-recently-used dirty tile, or nil if none is.
func (c *cache) lruDirty() *Tile {
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		if t := elem.Value.(*Tile); t.dirty {
			return t
		}
	}
	return nil
}

// residentSorted returns all resident tiles in ascending bucket order.
func (c *cache) residentSorted() []*Tile {
	tiles := make([]*Tile, 0, len(c.resident))
	for _, elem := range c.resident {
		tiles = append(tiles, elem.Value.(*Tile))
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].index < tiles[j].index })
	return tiles
}
