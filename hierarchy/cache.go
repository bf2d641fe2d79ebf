// Package hierarchy implements the Caching Hierarchy Manager from
// spec.md §4.2: id<->path resolution over the Item State Layer, backed
// by an LRU path cache (idCache + a path trie) with event-driven
// invalidation. It is grounded on the teacher's container/list LRU
// (pkg/cache/query_cache.go's QueryCache) generalized from a flat hash
// map to a path trie so ancestor lookups can short-circuit.
package hierarchy

import (
	"container/list"

	"github.com/orneryd/contentengine/name"
)

const defaultCapacity = 10000

// trieNode is one cached path position. Only positions the manager has
// actually resolved or walked get a trieNode; uncached descendants
// simply aren't in the map.
type trieNode struct {
	parent   *trieNode
	elem     name.Element
	children map[name.Element]*trieNode
	entry    *entry // nil only for an in-progress node before caching completes
}

func (t *trieNode) hasCachedDescendants() bool {
	return len(t.children) > 0
}

// entry is the LRU-tracked cache record for one resolved id.
type entry struct {
	id      name.ItemID
	path    name.Path
	node    *trieNode // non-nil when id is a node position in the trie
	lruElem *list.Element
	pinned  bool // the root entry is never evicted
}

// lru is the doubly-linked eviction structure shared by idCache and
// pathCache, serialized by Manager's single monitor (spec.md §4.2: "all
// cache mutations serialized by a single monitor").
type lru struct {
	capacity int
	list     *list.List
	byID     map[string]*entry
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &lru{
		capacity: capacity,
		list:     list.New(),
		byID:     make(map[string]*entry),
	}
}

func (c *lru) get(id name.ItemID) (*entry, bool) {
	e, ok := c.byID[id.String()]
	if !ok {
		return nil, false
	}
	if e.lruElem != nil {
		c.list.MoveToFront(e.lruElem)
	}
	return e, true
}

// insert adds e to the cache, evicting if necessary to stay within
// capacity. Pinned entries (the root) are never pushed through the
// eviction path.
func (c *lru) insert(e *entry) {
	c.byID[e.id.String()] = e
	if e.pinned {
		return
	}
	for c.list.Len() >= c.capacity {
		if !c.evictOne() {
			break
		}
	}
	e.lruElem = c.list.PushFront(e)
}

func (c *lru) remove(e *entry) {
	delete(c.byID, e.id.String())
	if e.lruElem != nil {
		c.list.Remove(e.lruElem)
		e.lruElem = nil
	}
}

// evictOne removes the least-recently-used entry with no cached
// descendants, scanning from the LRU tail forward; if every entry in
// the list has descendants, it falls back to evicting the tail entry
// itself; only that entry is detached, and its cached descendants stay
// in the list.
func (c *lru) evictOne() bool {
	for el := c.list.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.node == nil || !e.node.hasCachedDescendants() {
			c.detach(e)
			return true
		}
	}
	if back := c.list.Back(); back != nil {
		e := back.Value.(*entry)
		c.detach(e)
		return true
	}
	return false
}

func (c *lru) detach(e *entry) {
	delete(c.byID, e.id.String())
	if e.lruElem != nil {
		c.list.Remove(e.lruElem)
		e.lruElem = nil
	}
	if e.node != nil && e.node.parent != nil {
		delete(e.node.parent.children, e.node.elem)
	}
}
