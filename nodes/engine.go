package nodes

import (
	"bytes"
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/region"
)

type Config struct {
	// Order is the maximum number of children of a branch. Leaves hold at
	// most Order-1 entries.
	Order int

	// CacheCapacity is the number of decoded nodes kept. Zero disables the
	// cache.
	CacheCapacity int

	// Compare orders keys, bytes.Compare when nil.
	Compare Compare
}

// Engine is the per tree context every node operation runs against: the
// region, the block store, the order and the decoded node cache.
//
// branchCount and leafCount only feed the cache admission heuristic.
type Engine struct {
	log     logger.Logger
	r       region.Region
	blocks  *blocks.Store
	order   int
	compare Compare
	cache   *nodeCache

	branchCount int
	leafCount   int
}

func NewEngine(log logger.Logger, r region.Region, store *blocks.Store, cfg Config) (*Engine, error) {
	if cfg.Order < MinOrder || cfg.Order > MaxOrder {
		return nil, fmt.Errorf("%w: %d", ErrBadOrder, cfg.Order)
	}
	if log == nil {
		log = logger.Sugar.WithServiceName("nodes")
	}
	e := &Engine{
		log:     log,
		r:       r,
		blocks:  store,
		order:   cfg.Order,
		compare: cfg.Compare,
	}
	if e.compare == nil {
		e.compare = bytes.Compare
	}
	if cfg.CacheCapacity > 0 {
		c, err := newNodeCache(log, cfg.CacheCapacity, cfg.Order)
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	return e, nil
}

func (e *Engine) Order() int            { return e.order }
func (e *Engine) Blocks() *blocks.Store { return e.blocks }
func (e *Engine) Region() region.Region { return e.r }
func (e *Engine) Compare(a, b []byte) int {
	return e.compare(a, b)
}

// MinEntries is the occupancy below which a non-root node must be rebalanced.
// It counts entries for leaves and children for branches.
func (e *Engine) MinEntries() int { return e.order / 2 }

// Capacity is the maximum count of a node of kind k.
func (e *Engine) Capacity(k Kind) int {
	if k == KindBranch {
		return e.order
	}
	return e.order - 1
}

func (e *Engine) BranchCount() int { return e.branchCount }
func (e *Engine) LeafCount() int   { return e.leafCount }

// SetCounts restores the node counters of a tree opened from a snapshot.
func (e *Engine) SetCounts(branches, leaves int) {
	e.branchCount = branches
	e.leafCount = leaves
}

func (e *Engine) cached(addr region.Address) *decoded {
	if e.cache == nil {
		return nil
	}
	return e.cache.peek(addr)
}

// Kind is the single dispatch point between the two node kinds.
func (e *Engine) Kind(addr region.Address) Kind {
	if d := e.cached(addr); d != nil {
		return d.kind
	}
	return Kind(e.r.LoadUint8(addr + offType))
}

// Node returns the handle for addr without validating the record.
func (e *Engine) Node(addr region.Address) Node {
	if e.Kind(addr) == KindBranch {
		return Branch{node{e, addr}}
	}
	return Leaf{node{e, addr}}
}

func (e *Engine) Branch(addr region.Address) Branch { return Branch{node{e, addr}} }
func (e *Engine) Leaf(addr region.Address) Leaf     { return Leaf{node{e, addr}} }

// Validate checks the magic, version and type of the record at addr.
func (e *Engine) Validate(addr region.Address) (Kind, error) {
	magic := e.r.LoadBlob(addr+offMagic, uint64(len(Magic)))
	if string(magic) != Magic {
		return 0, fmt.Errorf("%w: address %d", ErrBadMagic, addr)
	}
	if v := e.r.LoadUint8(addr + offVersion); v != LayoutVersion {
		return 0, fmt.Errorf("%w: address %d has version %d", ErrBadVersion, addr, v)
	}
	k := Kind(e.r.LoadUint8(addr + offType))
	if k != KindBranch && k != KindLeaf {
		return 0, fmt.Errorf("%w: address %d has type %d", ErrBadKind, addr, k)
	}
	if n := int(e.r.LoadUint16(addr + offCount)); n > e.Capacity(k) {
		return 0, fmt.Errorf("%w: address %d %s count %d", ErrBadCount, addr, k, n)
	}
	return k, nil
}

// Load returns the node at addr, decoding it into the cache when admitted.
// shallow skips decoding key bytes, for loads that only traverse.
//
// Records already in the cache were validated when they were admitted.
func (e *Engine) Load(addr region.Address, shallow bool) (Node, error) {
	if e.cache != nil {
		if d := e.cache.get(addr); d != nil {
			if !shallow {
				e.decodeKeys(d)
			}
			return e.handle(addr, d.kind), nil
		}
	}
	k, err := e.Validate(addr)
	if err != nil {
		return nil, err
	}
	if e.admit(addr, k) {
		d := e.cache.acquire(addr)
		e.decode(d, addr, k)
		if !shallow {
			e.decodeKeys(d)
		}
	}
	return e.handle(addr, k), nil
}

func (e *Engine) handle(addr region.Address, k Kind) Node {
	if k == KindBranch {
		return Branch{node{e, addr}}
	}
	return Leaf{node{e, addr}}
}

// decode overwrites d with the record at addr.
func (e *Engine) decode(d *decoded, addr region.Address, k Kind) {
	d.addr = addr
	d.kind = k
	d.index = int(e.r.LoadUint16(addr + offIndex))
	d.count = int(e.r.LoadUint16(addr + offCount))
	d.parent = region.Address(e.r.LoadUint64(addr + parentOffset(k)))
	d.subtree = 0
	d.prev, d.next = nullAddr, nullAddr
	if k == KindBranch {
		d.subtree = e.r.LoadUint64(addr + offBranchSubtree)
	} else {
		d.prev = region.Address(e.r.LoadUint64(addr + offLeafPrev))
		d.next = region.Address(e.r.LoadUint64(addr + offLeafNext))
	}
	for i := 0; i < e.order-1; i++ {
		d.keyIDs[i] = blocks.ID(e.r.LoadUint64(addr + keyOffset(i)))
		d.keys[i] = nil
	}
	for i := 0; i < e.order; i++ {
		if k == KindBranch {
			d.children[i] = region.Address(e.r.LoadUint64(addr + childOffset(e.order, i)))
		} else {
			d.children[i] = nullAddr
		}
	}
	for i := 0; i < e.order-1; i++ {
		if k == KindLeaf {
			d.values[i] = blocks.ID(e.r.LoadUint64(addr + valueOffset(e.order, i)))
		} else {
			d.values[i] = noID
		}
	}
}

func (e *Engine) decodeKeys(d *decoded) {
	n := d.count
	if d.kind == KindBranch {
		n = max(d.count-1, 0)
	}
	for i := 0; i < n; i++ {
		if d.keys[i] == nil && d.keyIDs[i] != noID {
			d.keys[i] = e.blocks.Get(d.keyIDs[i])
		}
	}
}

func (e *Engine) writeHeader(addr region.Address, k Kind) {
	e.r.StoreBlob(addr+offMagic, []byte(Magic))
	e.r.StoreUint8(addr+offType, uint8(k))
	e.r.StoreUint8(addr+offVersion, LayoutVersion)
	e.r.StoreUint16(addr+offIndex, rootIndex)
	e.r.StoreUint16(addr+offCount, 0)
	e.r.StoreUint64(addr+parentOffset(k), uint64(nullAddr))
	for i := 0; i < e.order-1; i++ {
		e.r.StoreUint64(addr+keyOffset(i), uint64(noID))
	}
}

// NewBranch allocates an empty branch with every slot null.
func (e *Engine) NewBranch() Branch {
	addr := e.r.Allocate(BranchBytes(e.order))
	e.writeHeader(addr, KindBranch)
	e.r.StoreUint64(addr+offBranchSubtree, 0)
	for i := 0; i < e.order; i++ {
		e.r.StoreUint64(addr+childOffset(e.order, i), uint64(nullAddr))
	}
	e.branchCount++
	if e.admit(addr, KindBranch) {
		e.decode(e.cache.acquire(addr), addr, KindBranch)
	}
	return Branch{node{e, addr}}
}

// NewLeaf allocates an empty leaf with every slot null.
func (e *Engine) NewLeaf() Leaf {
	addr := e.r.Allocate(LeafBytes(e.order))
	e.writeHeader(addr, KindLeaf)
	e.r.StoreUint64(addr+offLeafPrev, uint64(nullAddr))
	e.r.StoreUint64(addr+offLeafNext, uint64(nullAddr))
	for i := 0; i < e.order-1; i++ {
		e.r.StoreUint64(addr+valueOffset(e.order, i), uint64(noID))
	}
	e.leafCount++
	if e.admit(addr, KindLeaf) {
		e.decode(e.cache.acquire(addr), addr, KindLeaf)
	}
	return Leaf{node{e, addr}}
}

// Free deallocates the record at addr. The caller must already have
// released or moved every block the node referenced.
func (e *Engine) Free(addr region.Address) {
	k := e.Kind(addr)
	if e.cache != nil {
		e.cache.evict(addr)
	}
	// Poison the magic so a stale address fails validation until reused.
	e.r.StoreBlob(addr+offMagic, []byte{0, 0, 0})
	if k == KindBranch {
		e.r.Deallocate(addr, BranchBytes(e.order))
		e.branchCount--
		return
	}
	e.r.Deallocate(addr, LeafBytes(e.order))
	e.leafCount--
}

// Size is the number of entries below addr: the subtree size of a branch or
// the count of a leaf.
func (e *Engine) Size(addr region.Address) uint64 {
	return e.Node(addr).Size()
}

// ReleaseAll frees the subtree rooted at addr together with every block it
// references.
func (e *Engine) ReleaseAll(addr region.Address) {
	switch n := e.Node(addr).(type) {
	case Branch:
		count := n.Count()
		for s := 0; s < count; s++ {
			if s > 0 {
				e.blocks.Release(n.mustKeyID(s - 1))
			}
			e.ReleaseAll(n.mustChild(s))
		}
	case Leaf:
		for i := 0; i < n.Count(); i++ {
			e.blocks.Release(n.mustKeyID(i))
			e.blocks.Release(n.mustValueID(i))
		}
	}
	e.Free(addr)
}

// PurgeCache drops every decoded node.
func (e *Engine) PurgeCache() {
	if e.cache == nil {
		return
	}
	for _, addr := range e.cache.lru.Keys() {
		e.cache.evict(addr)
	}
}
