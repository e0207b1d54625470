package nodes

import (
	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/region"
)

// Node is implemented by the Branch and Leaf handles.
type Node interface {
	Address() region.Address
	Kind() Kind
	Count() int

	// Index is the position of the node in its parent's children, false for
	// the root.
	Index() (int, bool)
	Parent() (region.Address, bool)
	SetParent(p region.Address)
	SetRoot()

	// Size is the number of entries stored in the subtree rooted at the node.
	Size() uint64
}

// node is the state shared by the two handles. Handles are plain values and
// hold no decoded state, every access goes through the cache or the region.
type node struct {
	e    *Engine
	addr region.Address
}

func (n node) Address() region.Address { return n.addr }

func (n node) d() *decoded { return n.e.cached(n.addr) }

func (n node) r() region.Region { return n.e.r }

func (n node) Count() int {
	if d := n.d(); d != nil {
		return d.count
	}
	return int(n.r().LoadUint16(n.addr + offCount))
}

func (n node) SetCount(count int) {
	if count < 0 || count > n.e.order {
		panic("nodes: count out of range")
	}
	n.r().StoreUint16(n.addr+offCount, uint16(count))
	if d := n.d(); d != nil {
		d.count = count
	}
}

func (n node) Index() (int, bool) {
	var i int
	if d := n.d(); d != nil {
		i = d.index
	} else {
		i = int(n.r().LoadUint16(n.addr + offIndex))
	}
	if i == rootIndex {
		return 0, false
	}
	return i, true
}

func (n node) SetIndex(i int) {
	if i < 0 || i >= n.e.order {
		panic("nodes: child index out of range")
	}
	n.storeIndex(i)
}

func (n node) storeIndex(i int) {
	n.r().StoreUint16(n.addr+offIndex, uint16(i))
	if d := n.d(); d != nil {
		d.index = i
	}
}

func (n node) parent(k Kind) (region.Address, bool) {
	var p region.Address
	if d := n.d(); d != nil {
		p = d.parent
	} else {
		p = region.Address(n.r().LoadUint64(n.addr + parentOffset(k)))
	}
	return p, p != nullAddr
}

func (n node) setParent(k Kind, p region.Address) {
	n.r().StoreUint64(n.addr+parentOffset(k), uint64(p))
	if d := n.d(); d != nil {
		d.parent = p
	}
}

// KeyID returns the id of key i, false if the slot is empty.
func (n node) KeyID(i int) (blocks.ID, bool) {
	id := n.loadKeyID(i)
	return id, id != noID
}

func (n node) loadKeyID(i int) blocks.ID {
	if d := n.d(); d != nil {
		return d.keyIDs[i]
	}
	return blocks.ID(n.r().LoadUint64(n.addr + keyOffset(i)))
}

func (n node) mustKeyID(i int) blocks.ID {
	id := n.loadKeyID(i)
	if id == noID {
		panic("nodes: key slot is empty")
	}
	return id
}

func (n node) PutKeyID(i int, id blocks.ID) {
	n.r().StoreUint64(n.addr+keyOffset(i), uint64(id))
	if d := n.d(); d != nil {
		d.keyIDs[i] = id
		d.keys[i] = nil
	}
}

// RemoveKeyID empties key slot i. The block is not released.
func (n node) RemoveKeyID(i int) {
	n.PutKeyID(i, noID)
}

// Key returns the bytes of key i. The result may be shared with the cache and
// must not be modified.
func (n node) Key(i int) []byte {
	if d := n.d(); d != nil {
		if d.keys[i] == nil {
			d.keys[i] = n.e.blocks.Get(n.mustKeyID(i))
		}
		return d.keys[i]
	}
	return n.e.blocks.Get(n.mustKeyID(i))
}

// searchKeys binary searches the first length keys for key.
func (n node) searchKeys(length int, key []byte) int {
	return BinarySearch(length, func(i int) int {
		return n.e.compare(key, n.Key(i))
	})
}

// moveKeys moves the key ids in [from, from+count) to start at to, in both
// the region and the decoded copy. Vacated slots keep their old content.
func (n node) moveKeys(from, to, count int) {
	if count <= 0 || from == to {
		return
	}
	raw := n.r().LoadBlob(n.addr+keyOffset(from), uint64(count*slotBytes))
	n.r().StoreBlob(n.addr+keyOffset(to), raw)
	if d := n.d(); d != nil {
		copy(d.keyIDs[to:to+count], d.keyIDs[from:from+count])
		copy(d.keys[to:to+count], d.keys[from:from+count])
	}
}

// clearKeys empties key slots [from, to).
func (n node) clearKeys(from, to int) {
	for i := from; i < to; i++ {
		n.RemoveKeyID(i)
	}
}
