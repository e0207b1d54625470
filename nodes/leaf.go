package nodes

import (
	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/region"
)

// Leaf is a handle on a leaf node record. Leaves hold the entries of the
// tree and are linked in key order through prev and next.
type Leaf struct {
	node
}

var _ Node = Leaf{}

func (l Leaf) Kind() Kind { return KindLeaf }

func (l Leaf) Parent() (region.Address, bool) { return l.parent(KindLeaf) }

func (l Leaf) SetParent(p region.Address) { l.setParent(KindLeaf, p) }

// SetRoot detaches the leaf from any parent.
func (l Leaf) SetRoot() {
	l.setParent(KindLeaf, nullAddr)
	l.storeIndex(rootIndex)
}

func (l Leaf) Size() uint64 { return uint64(l.Count()) }

func (l Leaf) link(off region.Address, cachedPrev bool) (region.Address, bool) {
	var a region.Address
	if d := l.d(); d != nil {
		if cachedPrev {
			a = d.prev
		} else {
			a = d.next
		}
	} else {
		a = region.Address(l.r().LoadUint64(l.addr + off))
	}
	return a, a != nullAddr
}

func (l Leaf) Prev() (region.Address, bool) { return l.link(offLeafPrev, true) }
func (l Leaf) Next() (region.Address, bool) { return l.link(offLeafNext, false) }

func (l Leaf) SetPrev(a region.Address) {
	l.r().StoreUint64(l.addr+offLeafPrev, uint64(a))
	if d := l.d(); d != nil {
		d.prev = a
	}
}

func (l Leaf) SetNext(a region.Address) {
	l.r().StoreUint64(l.addr+offLeafNext, uint64(a))
	if d := l.d(); d != nil {
		d.next = a
	}
}

func (l Leaf) ClearNext() { l.SetNext(nullAddr) }

// ValueID returns the id of value i, false if the slot is empty.
func (l Leaf) ValueID(i int) (blocks.ID, bool) {
	id := l.loadValueID(i)
	return id, id != noID
}

func (l Leaf) loadValueID(i int) blocks.ID {
	if d := l.d(); d != nil {
		return d.values[i]
	}
	return blocks.ID(l.r().LoadUint64(l.addr + valueOffset(l.e.order, i)))
}

func (l Leaf) mustValueID(i int) blocks.ID {
	id := l.loadValueID(i)
	if id == noID {
		panic("nodes: value slot is empty")
	}
	return id
}

func (l Leaf) PutValueID(i int, id blocks.ID) {
	l.r().StoreUint64(l.addr+valueOffset(l.e.order, i), uint64(id))
	if d := l.d(); d != nil {
		d.values[i] = id
	}
}

func (l Leaf) RemoveValueID(i int) { l.PutValueID(i, noID) }

// Value returns a copy of the bytes of value i. Values are never cached.
func (l Leaf) Value(i int) []byte {
	return l.e.blocks.Get(l.mustValueID(i))
}

// Search binary searches the keys of the leaf.
func (l Leaf) Search(key []byte) int {
	return l.searchKeys(l.Count(), key)
}

func (l Leaf) moveValues(from, to, count int) {
	if count <= 0 || from == to {
		return
	}
	order := l.e.order
	raw := l.r().LoadBlob(l.addr+valueOffset(order, from), uint64(count*slotBytes))
	l.r().StoreBlob(l.addr+valueOffset(order, to), raw)
	if d := l.d(); d != nil {
		copy(d.values[to:to+count], d.values[from:from+count])
	}
}

// Shift moves entries [start, end) by offset. Vacated slots keep their old
// content and must be overwritten or cleared by the caller.
func (l Leaf) Shift(start, end, offset int) {
	if start < 0 || start+offset < 0 || end+offset > l.e.order-1 || start > end {
		panic("nodes: leaf shift out of range")
	}
	l.moveKeys(start, start+offset, end-start)
	l.moveValues(start, start+offset, end-start)
}

// Insert places (keyID, valueID) at i, moving later entries right. The leaf
// must not be full.
func (l Leaf) Insert(i int, keyID, valueID blocks.ID) {
	count := l.Count()
	if count >= l.e.order-1 {
		panic("nodes: insert into a full leaf")
	}
	if i < 0 || i > count {
		panic("nodes: leaf insert index out of range")
	}
	l.Shift(i, count, 1)
	l.PutKeyID(i, keyID)
	l.PutValueID(i, valueID)
	l.SetCount(count + 1)
}

// Remove takes entry i out of the leaf and returns its ids. The blocks are
// not released.
func (l Leaf) Remove(i int) (blocks.ID, blocks.ID) {
	count := l.Count()
	if i < 0 || i >= count {
		panic("nodes: leaf remove index out of range")
	}
	keyID, valueID := l.mustKeyID(i), l.mustValueID(i)
	l.Shift(i+1, count, -1)
	l.RemoveKeyID(count - 1)
	l.RemoveValueID(count - 1)
	l.SetCount(count - 1)
	return keyID, valueID
}

func (l Leaf) truncate(count int) {
	for i := count; i < l.e.order-1; i++ {
		l.RemoveKeyID(i)
		l.RemoveValueID(i)
	}
	l.SetCount(count)
}

// Split divides a full leaf while inserting (keyID, valueID) at i. Of the
// order entries the leaf keeps the first half, rounded up, and a new right
// sibling linked after it gets the rest. The separator returned is the
// right sibling's first key id, retained on behalf of the parent. The right
// sibling's parent is left unset.
func (l Leaf) Split(i int, keyID, valueID blocks.ID) (Leaf, blocks.ID) {
	order := l.e.order
	if l.Count() != order-1 {
		panic("nodes: split of a leaf that is not full")
	}
	if i < 0 || i > order-1 {
		panic("nodes: leaf split index out of range")
	}

	vEntry := func(j int) (blocks.ID, blocks.ID) {
		switch {
		case j < i:
			return l.mustKeyID(j), l.mustValueID(j)
		case j == i:
			return keyID, valueID
		default:
			return l.mustKeyID(j - 1), l.mustValueID(j - 1)
		}
	}

	leftN := (order + 1) / 2
	rightN := order - leftN

	right := l.e.NewLeaf()
	for j := 0; j < rightN; j++ {
		k, v := vEntry(leftN + j)
		right.PutKeyID(j, k)
		right.PutValueID(j, v)
	}
	right.SetCount(rightN)

	if i < leftN {
		l.truncate(leftN - 1)
		l.Insert(i, keyID, valueID)
	} else {
		l.truncate(leftN)
	}

	right.SetPrev(l.addr)
	if next, ok := l.Next(); ok {
		right.SetNext(next)
		l.e.Leaf(next).SetPrev(right.addr)
	}
	l.SetNext(right.addr)

	separator := right.mustKeyID(0)
	l.e.blocks.Retain(separator)

	l.e.log.Debugf("split leaf %d: left %d entries, right %d at %d", l.addr, leftN, rightN, right.addr)
	return right, separator
}
