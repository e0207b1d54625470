package nodes

import (
	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/region"
)

// Branch is a handle on an interior node record.
type Branch struct {
	node
}

var _ Node = Branch{}

func (b Branch) Kind() Kind { return KindBranch }

func (b Branch) Parent() (region.Address, bool) { return b.parent(KindBranch) }

func (b Branch) SetParent(p region.Address) { b.setParent(KindBranch, p) }

// SetRoot detaches the branch from any parent.
func (b Branch) SetRoot() {
	b.setParent(KindBranch, nullAddr)
	b.storeIndex(rootIndex)
}

func (b Branch) SubtreeSize() uint64 {
	if d := b.d(); d != nil {
		return d.subtree
	}
	return b.r().LoadUint64(b.addr + offBranchSubtree)
}

func (b Branch) SetSubtreeSize(size uint64) {
	b.r().StoreUint64(b.addr+offBranchSubtree, size)
	if d := b.d(); d != nil {
		d.subtree = size
	}
}

func (b Branch) Size() uint64 { return b.SubtreeSize() }

// Child returns child i, false if the slot is empty.
func (b Branch) Child(i int) (region.Address, bool) {
	c := b.loadChild(i)
	return c, c != nullAddr
}

func (b Branch) loadChild(i int) region.Address {
	if d := b.d(); d != nil {
		return d.children[i]
	}
	return region.Address(b.r().LoadUint64(b.addr + childOffset(b.e.order, i)))
}

func (b Branch) mustChild(i int) region.Address {
	c := b.loadChild(i)
	if c == nullAddr {
		panic("nodes: child slot is empty")
	}
	return c
}

// PutChild stores child in slot i. The child's parent and index are left
// alone, see Attach.
func (b Branch) PutChild(i int, child region.Address) {
	b.r().StoreUint64(b.addr+childOffset(b.e.order, i), uint64(child))
	if d := b.d(); d != nil {
		d.children[i] = child
	}
}

func (b Branch) RemoveChild(i int) { b.PutChild(i, nullAddr) }

// Attach stores child in slot i and points the child back at this branch.
func (b Branch) Attach(i int, child region.Address) {
	b.PutChild(i, child)
	b.e.reparent(child, b.addr, i)
}

// reparent rewrites the back references of the node at child.
func (e *Engine) reparent(child, parent region.Address, i int) {
	n := node{e, child}
	n.setParent(e.Kind(child), parent)
	n.SetIndex(i)
}

// Search binary searches the separators of the branch.
func (b Branch) Search(key []byte) int {
	return b.searchKeys(max(b.Count()-1, 0), key)
}

// ChildFor returns the index of the child whose subtree covers key. Keys
// equal to a separator belong to the right hand child.
func (b Branch) ChildFor(key []byte) int {
	i, found := Decode(b.Search(key))
	if found {
		return i + 1
	}
	return i
}

// ChildrenSize sums the sizes of the occupied children.
func (b Branch) ChildrenSize() uint64 {
	var size uint64
	for i := 0; i < b.Count(); i++ {
		size += b.e.Size(b.mustChild(i))
	}
	return size
}

func (b Branch) moveChildren(from, to, count int) {
	if count <= 0 || from == to {
		return
	}
	order := b.e.order
	raw := b.r().LoadBlob(b.addr+childOffset(order, from), uint64(count*slotBytes))
	b.r().StoreBlob(b.addr+childOffset(order, to), raw)
	if d := b.d(); d != nil {
		copy(d.children[to:to+count], d.children[from:from+count])
	}
}

func (b Branch) clearChildren(from, to int) {
	for i := from; i < to; i++ {
		b.RemoveChild(i)
	}
}

// reindex rewrites the stored index of children [from, to).
func (b Branch) reindex(from, to int) {
	for i := from; i < to; i++ {
		node{b.e, b.mustChild(i)}.SetIndex(i)
	}
}

// Shift moves slots [start, end) by offset. Slot s is the pair
// (key[s-1], child[s]), slot 0 is never shifted. Moved children have their
// stored index rewritten. Vacated slots keep their old content and must be
// overwritten or cleared by the caller.
func (b Branch) Shift(start, end, offset int) {
	if start < 1 || start+offset < 1 {
		panic("nodes: branch shift would move slot 0")
	}
	if end+offset > b.e.order || start > end {
		panic("nodes: branch shift out of range")
	}
	n := end - start
	b.moveKeys(start-1, start-1+offset, n)
	b.moveChildren(start, start+offset, n)
	b.reindex(start+offset, end+offset)
}

// Insert places (keyID, child) at slot, moving the slots at and after it
// right. The branch must not be full and slot must be at least 1. The child
// is attached, the subtree size is left to the caller.
func (b Branch) Insert(slot int, keyID blocks.ID, child region.Address) {
	count := b.Count()
	if count >= b.e.order {
		panic("nodes: insert into a full branch")
	}
	if slot < 1 || slot > count {
		panic("nodes: branch insert slot out of range")
	}
	b.Shift(slot, count, 1)
	b.PutKeyID(slot-1, keyID)
	b.Attach(slot, child)
	b.SetCount(count + 1)
}

// Remove takes slot out of the branch, moving later slots left, and returns
// the separator id and child it held. Nothing is released or rebalanced.
func (b Branch) Remove(slot int) (blocks.ID, region.Address) {
	count := b.Count()
	if slot < 1 || slot >= count {
		panic("nodes: branch remove slot out of range")
	}
	keyID := b.mustKeyID(slot - 1)
	child := b.mustChild(slot)
	b.Shift(slot+1, count, -1)
	b.RemoveKeyID(count - 2)
	b.RemoveChild(count - 1)
	b.SetCount(count - 1)
	return keyID, child
}

// truncate empties every slot from count on.
func (b Branch) truncate(count int) {
	b.clearKeys(max(count-1, 0), b.e.order-1)
	b.clearChildren(count, b.e.order)
	b.SetCount(count)
}

// Split divides a full branch while inserting (keyID, child) at slot. The
// order+1 children are divided so the branch keeps order/2+1 and the new
// right sibling gets the rest. The separator between the two halves is
// removed from both and returned for the caller to insert into the parent
// along with the right sibling, whose parent is left unset.
//
// Subtree sizes of both halves are recomputed from their children.
func (b Branch) Split(slot int, keyID blocks.ID, child region.Address) (Branch, blocks.ID) {
	order := b.e.order
	if b.Count() != order {
		panic("nodes: split of a branch that is not full")
	}
	if slot < 1 || slot > order {
		panic("nodes: branch split slot out of range")
	}

	// The virtual children and keys of the overfull node, without building it.
	vChild := func(j int) region.Address {
		switch {
		case j < slot:
			return b.mustChild(j)
		case j == slot:
			return child
		default:
			return b.mustChild(j - 1)
		}
	}
	vKey := func(j int) blocks.ID {
		switch {
		case j < slot-1:
			return b.mustKeyID(j)
		case j == slot-1:
			return keyID
		default:
			return b.mustKeyID(j - 1)
		}
	}

	leftN := order/2 + 1
	rightN := order + 1 - leftN
	separator := vKey(leftN - 1)

	right := b.e.NewBranch()
	for j := 0; j < rightN; j++ {
		if j > 0 {
			right.PutKeyID(j-1, vKey(leftN+j-1))
		}
		right.Attach(j, vChild(leftN+j))
	}
	right.SetCount(rightN)

	if slot < leftN {
		b.truncate(leftN - 1)
		b.Insert(slot, keyID, child)
	} else {
		b.truncate(leftN)
	}

	b.SetSubtreeSize(b.ChildrenSize())
	right.SetSubtreeSize(right.ChildrenSize())

	b.e.log.Debugf("split branch %d: left %d children, right %d at %d", b.addr, leftN, rightN, right.addr)
	return right, separator
}
