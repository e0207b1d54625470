package nodes

import (
	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/region"
)

// AddSubtreeSize adds delta to the subtree size of the branch at addr and of
// every ancestor above it. Leaves derive their size from their count, so a
// leaf address starts the walk at its parent.
func (e *Engine) AddSubtreeSize(addr region.Address, delta int64) {
	n := e.Node(addr)
	for {
		if b, ok := n.(Branch); ok {
			b.SetSubtreeSize(uint64(int64(b.SubtreeSize()) + delta))
		}
		p, ok := n.Parent()
		if !ok {
			return
		}
		n = e.Branch(p)
	}
}

// siblings returns the parent of the node at addr and the node's index in
// it. It panics for the root.
func (e *Engine) siblings(n Node) (Branch, int) {
	p, ok := n.Parent()
	if !ok {
		panic("nodes: root has no siblings")
	}
	i, ok := n.Index()
	if !ok {
		panic("nodes: non root node without an index")
	}
	return e.Branch(p), i
}

// LargerNeighbour returns whichever of the siblings either side of child i
// of parent holds more entries, preferring the right one on a tie. It
// returns false for an only child.
func (e *Engine) LargerNeighbour(parent Branch, i int) (region.Address, bool) {
	var left, right region.Address
	hasLeft := i > 0
	hasRight := i+1 < parent.Count()
	if hasLeft {
		left = parent.mustChild(i - 1)
	}
	if hasRight {
		right = parent.mustChild(i + 1)
	}
	switch {
	case hasLeft && hasRight:
		if e.Node(left).Count() > e.Node(right).Count() {
			return left, true
		}
		return right, true
	case hasRight:
		return right, true
	case hasLeft:
		return left, true
	default:
		return 0, false
	}
}

// Redistribute evens out the node at addr and its larger neighbour by moving
// entries from the neighbour. It returns false without changing anything when
// the node is the root, is an only child, or the pair holds fewer than order
// entries between them and should be merged instead.
func (e *Engine) Redistribute(addr region.Address) bool {
	n := e.Node(addr)
	if _, ok := n.Parent(); !ok {
		return false
	}
	parent, i := e.siblings(n)
	nbAddr, ok := e.LargerNeighbour(parent, i)
	if !ok {
		return false
	}
	nb := e.Node(nbAddr)
	count, nbCount := n.Count(), nb.Count()
	sum := count + nbCount
	if sum < e.order {
		return false
	}
	moved := sum/2 - count
	if moved <= 0 {
		return false
	}
	nbIndex, _ := nb.Index()
	fromRight := nbIndex > i

	switch n := n.(type) {
	case Leaf:
		e.redistributeLeaf(parent, n, nb.(Leaf), i, moved, fromRight)
	case Branch:
		e.redistributeBranch(parent, n, nb.(Branch), i, moved, fromRight)
	}
	e.log.Debugf("redistribute %s %d: moved %d from %d", n.Kind(), addr, moved, nbAddr)
	return true
}

func (e *Engine) redistributeLeaf(parent Branch, l, nb Leaf, i, moved int, fromRight bool) {
	count, nbCount := l.Count(), nb.Count()
	var sepSlot int
	var first Leaf
	if fromRight {
		// nb's first entries go to the end of l
		for j := 0; j < moved; j++ {
			l.PutKeyID(count+j, nb.mustKeyID(j))
			l.PutValueID(count+j, nb.mustValueID(j))
		}
		nb.Shift(moved, nbCount, -moved)
		sepSlot, first = i+1, nb
	} else {
		// nb's last entries go to the front of l
		l.Shift(0, count, moved)
		for j := 0; j < moved; j++ {
			l.PutKeyID(j, nb.mustKeyID(nbCount-moved+j))
			l.PutValueID(j, nb.mustValueID(nbCount-moved+j))
		}
		sepSlot, first = i, l
	}
	l.SetCount(count + moved)
	nb.truncate(nbCount - moved)

	old := parent.mustKeyID(sepSlot - 1)
	sep := first.mustKeyID(0)
	e.blocks.Retain(sep)
	parent.PutKeyID(sepSlot-1, sep)
	e.blocks.Release(old)
}

// redistributeBranch rotates children through the parent. The separators
// move between the three nodes so no reference count changes.
func (e *Engine) redistributeBranch(parent Branch, b, nb Branch, i, moved int, fromRight bool) {
	count, nbCount := b.Count(), nb.Count()
	var size uint64
	if fromRight {
		sepSlot := i + 1
		sep := parent.mustKeyID(sepSlot - 1)
		for j := 0; j < moved; j++ {
			if j == 0 {
				b.PutKeyID(count-1, sep)
			} else {
				b.PutKeyID(count-1+j, nb.mustKeyID(j-1))
			}
			c := nb.mustChild(j)
			size += e.Size(c)
			b.Attach(count+j, c)
		}
		parent.PutKeyID(sepSlot-1, nb.mustKeyID(moved-1))
		nb.moveKeys(moved, 0, nbCount-1-moved)
		nb.moveChildren(moved, 0, nbCount-moved)
		nb.reindex(0, nbCount-moved)
	} else {
		sepSlot := i
		sep := parent.mustKeyID(sepSlot - 1)
		b.moveKeys(0, moved, count-1)
		b.moveChildren(0, moved, count)
		b.reindex(moved, count+moved)
		for j := 0; j < moved; j++ {
			c := nb.mustChild(nbCount - moved + j)
			size += e.Size(c)
			b.Attach(j, c)
			if j < moved-1 {
				b.PutKeyID(j, nb.mustKeyID(nbCount-moved+j))
			}
		}
		b.PutKeyID(moved-1, sep)
		parent.PutKeyID(sepSlot-1, nb.mustKeyID(nbCount-moved-1))
	}
	b.SetCount(count + moved)
	nb.truncate(nbCount - moved)
	b.SetSubtreeSize(b.SubtreeSize() + size)
	nb.SetSubtreeSize(nb.SubtreeSize() - size)
}

// Merge folds together the node at addr and its sibling at neighbour, which
// must be adjacent children of the same parent. The right hand node of the
// pair is appended onto the left hand one, removed from the parent and
// deallocated. Its address is returned.
//
// For branches the parent's separator is pulled down between the two halves.
// For leaves it is released and the sibling links are spliced around the
// removed leaf. The parent may be left under occupied.
func (e *Engine) Merge(addr, neighbour region.Address) region.Address {
	a, b := e.Node(addr), e.Node(neighbour)
	if a.Kind() != b.Kind() {
		panic("nodes: merge of nodes of different kinds")
	}
	pa, _ := a.Parent()
	pb, _ := b.Parent()
	if pa != pb {
		panic("nodes: merge of nodes with different parents")
	}
	parent, ia := e.siblings(a)
	_, ib := e.siblings(b)
	if ia > ib {
		a, b = b, a
		ia, ib = ib, ia
	}
	if ib != ia+1 {
		panic("nodes: merge of nodes that are not adjacent")
	}
	if a.Count()+b.Count() > e.Capacity(a.Kind()) {
		panic("nodes: merged node would overflow")
	}

	switch left := a.(type) {
	case Leaf:
		right := b.(Leaf)
		for j := 0; j < right.Count(); j++ {
			left.Insert(left.Count(), right.mustKeyID(j), right.mustValueID(j))
		}
		if next, ok := right.Next(); ok {
			left.SetNext(next)
			e.Leaf(next).SetPrev(left.addr)
		} else {
			left.ClearNext()
		}
		sep, _ := parent.Remove(ib)
		e.blocks.Release(sep)
	case Branch:
		right := b.(Branch)
		sep, _ := parent.Remove(ib)
		var keyID blocks.ID
		for j := 0; j < right.Count(); j++ {
			if j == 0 {
				keyID = sep
			} else {
				keyID = right.mustKeyID(j - 1)
			}
			left.Insert(left.Count(), keyID, right.mustChild(j))
		}
		left.SetSubtreeSize(left.SubtreeSize() + right.SubtreeSize())
	}

	removed := b.Address()
	e.log.Debugf("merge %s %d into %d", a.Kind(), removed, a.Address())
	e.Free(removed)
	return removed
}
