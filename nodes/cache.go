package nodes

import (
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/recency"
	"github.com/forestrie/go-stablebtree/region"
)

// decoded is the in-memory form of a node record. Slots of the arena are
// recycled, so a decoded value must never be retained past the call that
// looked it up.
type decoded struct {
	addr    region.Address
	kind    Kind
	index   int
	count   int
	parent  region.Address
	subtree uint64
	prev    region.Address
	next    region.Address

	keyIDs []blocks.ID
	// keys holds decoded key bytes. A nil entry has not been decoded yet.
	keys     [][]byte
	values   []blocks.ID
	children []region.Address
}

func newDecoded(order int) *decoded {
	return &decoded{
		keyIDs:   make([]blocks.ID, order-1),
		keys:     make([][]byte, order-1),
		values:   make([]blocks.ID, order-1),
		children: make([]region.Address, order),
	}
}

// nodeCache is a write-through cache of decoded nodes.
type nodeCache struct {
	log   logger.Logger
	lru   *recency.Cache[region.Address, int]
	slots []*decoded
	// spare holds arena slots released by evict.
	spare []int
	order int

	hits   uint64
	misses uint64
	evicts uint64
}

func newNodeCache(log logger.Logger, capacity, order int) (*nodeCache, error) {
	lru, err := recency.New[region.Address, int](capacity)
	if err != nil {
		return nil, err
	}
	return &nodeCache{
		log:   log,
		lru:   lru,
		slots: make([]*decoded, 0, capacity),
		order: order,
	}, nil
}

// get returns the cached node and refreshes its recency.
func (c *nodeCache) get(addr region.Address) *decoded {
	slot, ok := c.lru.Get(addr)
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	return c.slots[slot]
}

// peek returns the cached node without touching its recency.
func (c *nodeCache) peek(addr region.Address) *decoded {
	slot, ok := c.lru.Peek(addr)
	if !ok {
		return nil
	}
	return c.slots[slot]
}

// acquire returns an arena slot for addr, recycling the least recently used
// node's slot when the cache is full. The returned value still holds whatever
// the slot held before and must be overwritten by the caller.
func (c *nodeCache) acquire(addr region.Address) *decoded {
	var slot int
	switch {
	case len(c.spare) > 0:
		slot = c.spare[len(c.spare)-1]
		c.spare = c.spare[:len(c.spare)-1]
	case len(c.slots) < c.lru.Capacity():
		slot = len(c.slots)
		c.slots = append(c.slots, newDecoded(c.order))
	default:
		victim, ok := c.lru.Oldest()
		if !ok {
			panic("nodes: full node cache has no eviction victim")
		}
		slot, _ = c.lru.Peek(victim)
		c.lru.Remove(victim)
		c.evicts++
		c.log.Debugf("node cache evicted %d for %d", victim, addr)
	}
	c.lru.Put(addr, slot)
	return c.slots[slot]
}

// evict drops addr from the cache, if present.
func (c *nodeCache) evict(addr region.Address) {
	slot, ok := c.lru.Peek(addr)
	if !ok {
		return
	}
	c.lru.Remove(addr)
	c.spare = append(c.spare, slot)
}

func (c *nodeCache) len() int      { return c.lru.Len() }
func (c *nodeCache) capacity() int { return c.lru.Capacity() }

// admissionThreshold returns how many of the ten address residues are
// admitted. 10 admits everything, 0 nothing. The cache fills eagerly while it
// has headroom, and admits less as it saturates relative to the size of the
// tree. The exact curve only affects performance.
func admissionThreshold(capacity, size, nodes int) int {
	if capacity <= 0 {
		return 0
	}
	if capacity >= nodes {
		return 10
	}
	cover := max(10*capacity/nodes, 1)
	if size < capacity {
		return cover + (10-cover)*(capacity-size)/capacity
	}
	return cover
}

// admit decides whether a node loaded from the region is decoded into the
// cache. Branches are visited on every descent, so they are admitted while
// the cache can hold all of them.
func (e *Engine) admit(addr region.Address, kind Kind) bool {
	c := e.cache
	if c == nil {
		return false
	}
	if kind == KindBranch && e.branchCount <= c.capacity() {
		return true
	}
	threshold := admissionThreshold(c.capacity(), c.len(), e.branchCount+e.leafCount)
	return int((uint64(addr)/region.Alignment)%10) < threshold
}

// CacheStats describes the node cache.
type CacheStats struct {
	Capacity int
	Len      int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
}

func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return CacheStats{
		Capacity: e.cache.capacity(),
		Len:      e.cache.len(),
		Hits:     e.cache.hits,
		Misses:   e.cache.misses,
		Evicts:   e.cache.evicts,
	}
}
