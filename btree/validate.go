package btree

import (
	"fmt"

	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/nodes"
	"github.com/forestrie/go-stablebtree/region"
)

// Validate walks the whole tree and checks its structural invariants: record
// formats, occupancy, key order and bounds, parent and index back references,
// subtree sizes, uniform leaf depth, the leaf chain and block reference
// counts. It returns the first violation found.
func (t *Tree) Validate() error {
	defer t.lock()()
	return t.validate()
}

type validator struct {
	t      *Tree
	e      *nodes.Engine
	refs   map[blocks.ID]uint32
	leaves []region.Address
	depth  int

	branches int
}

func (t *Tree) validate() error {
	if !t.hasRoot {
		if t.length != 0 {
			return fmt.Errorf("%w: empty tree with length %d", ErrInvalid, t.length)
		}
		return nil
	}

	if _, err := t.e.Validate(t.root); err != nil {
		return err
	}
	v := &validator{t: t, e: t.e, refs: map[blocks.ID]uint32{}, depth: -1}
	root := t.e.Node(t.root)
	if _, ok := root.Parent(); ok {
		return fmt.Errorf("%w: root %d has a parent", ErrInvalid, t.root)
	}
	if _, ok := root.Index(); ok {
		return fmt.Errorf("%w: root %d has an index", ErrInvalid, t.root)
	}

	size, err := v.walk(t.root, nil, nil, 0)
	if err != nil {
		return err
	}
	if size != t.length {
		return fmt.Errorf("%w: tree holds %d entries, length is %d", ErrInvalid, size, t.length)
	}
	if err := v.chain(); err != nil {
		return err
	}
	if v.branches != t.e.BranchCount() || len(v.leaves) != t.e.LeafCount() {
		return fmt.Errorf("%w: found %d branches and %d leaves, counted %d and %d",
			ErrInvalid, v.branches, len(v.leaves), t.e.BranchCount(), t.e.LeafCount())
	}
	for id, want := range v.refs {
		if got := t.blocks.Refs(id); got != want {
			return fmt.Errorf("%w: block %d has %d references, %d found", ErrInvalid, id, got, want)
		}
	}
	return nil
}

// inBounds reports whether lo <= key < hi, a nil bound being open.
func (v *validator) inBounds(key, lo, hi []byte) bool {
	if lo != nil && v.e.Compare(key, lo) < 0 {
		return false
	}
	return hi == nil || v.e.Compare(key, hi) < 0
}

func (v *validator) walk(addr region.Address, lo, hi []byte, depth int) (uint64, error) {
	kind, err := v.e.Validate(addr)
	if err != nil {
		return 0, err
	}
	n := v.e.Node(addr)
	_, isChild := n.Parent()
	if isChild && n.Count() < v.e.MinEntries() {
		return 0, fmt.Errorf("%w: %s %d holds %d, minimum is %d", ErrInvalid, kind, addr, n.Count(), v.e.MinEntries())
	}

	switch n := n.(type) {
	case nodes.Leaf:
		return v.leaf(n, lo, hi, depth)
	case nodes.Branch:
		return v.branch(n, lo, hi, depth)
	}
	return 0, nil
}

func (v *validator) keys(n interface {
	KeyID(int) (blocks.ID, bool)
	Key(int) []byte
}, addr region.Address, count int, lo, hi []byte) error {
	var prev []byte
	for i := 0; i < count; i++ {
		id, ok := n.KeyID(i)
		if !ok {
			return fmt.Errorf("%w: node %d key %d is empty", ErrInvalid, addr, i)
		}
		v.refs[id]++
		k := n.Key(i)
		if prev != nil && v.e.Compare(prev, k) >= 0 {
			return fmt.Errorf("%w: node %d keys out of order at %d", ErrInvalid, addr, i)
		}
		if !v.inBounds(k, lo, hi) {
			return fmt.Errorf("%w: node %d key %d outside its parent's range", ErrInvalid, addr, i)
		}
		prev = k
	}
	for i := count; i < v.e.Order()-1; i++ {
		if _, ok := n.KeyID(i); ok {
			return fmt.Errorf("%w: node %d unused key slot %d is set", ErrInvalid, addr, i)
		}
	}
	return nil
}

func (v *validator) leaf(l nodes.Leaf, lo, hi []byte, depth int) (uint64, error) {
	addr := l.Address()
	if v.depth == -1 {
		v.depth = depth
	} else if v.depth != depth {
		return 0, fmt.Errorf("%w: leaf %d at depth %d, expected %d", ErrInvalid, addr, depth, v.depth)
	}
	count := l.Count()
	if count == 0 && addr != v.t.root {
		return 0, fmt.Errorf("%w: empty leaf %d", ErrInvalid, addr)
	}
	if err := v.keys(l, addr, count, lo, hi); err != nil {
		return 0, err
	}
	for i := 0; i < v.e.Order()-1; i++ {
		id, ok := l.ValueID(i)
		if ok != (i < count) {
			return 0, fmt.Errorf("%w: leaf %d value slot %d does not match count %d", ErrInvalid, addr, i, count)
		}
		if ok {
			v.refs[id]++
		}
	}
	v.leaves = append(v.leaves, addr)
	return uint64(count), nil
}

func (v *validator) branch(b nodes.Branch, lo, hi []byte, depth int) (uint64, error) {
	addr := b.Address()
	v.branches++
	count := b.Count()
	if count < 2 {
		return 0, fmt.Errorf("%w: branch %d has %d children", ErrInvalid, addr, count)
	}
	if err := v.keys(b, addr, count-1, lo, hi); err != nil {
		return 0, err
	}

	var size uint64
	for i := 0; i < v.e.Order(); i++ {
		child, ok := b.Child(i)
		if ok != (i < count) {
			return 0, fmt.Errorf("%w: branch %d child slot %d does not match count %d", ErrInvalid, addr, i, count)
		}
		if !ok {
			continue
		}
		c := v.e.Node(child)
		if p, ok := c.Parent(); !ok || p != addr {
			return 0, fmt.Errorf("%w: child %d of branch %d has parent %d", ErrInvalid, child, addr, p)
		}
		if idx, ok := c.Index(); !ok || idx != i {
			return 0, fmt.Errorf("%w: child %d of branch %d has index %d, expected %d", ErrInvalid, child, addr, idx, i)
		}
		clo, chi := lo, hi
		if i > 0 {
			clo = b.Key(i - 1)
		}
		if i < count-1 {
			chi = b.Key(i)
		}
		n, err := v.walk(child, clo, chi, depth+1)
		if err != nil {
			return 0, err
		}
		size += n
	}
	if size != b.SubtreeSize() {
		return 0, fmt.Errorf("%w: branch %d subtree size %d, children hold %d", ErrInvalid, addr, b.SubtreeSize(), size)
	}
	return size, nil
}

// chain checks the leaf sibling links against the in order walk.
func (v *validator) chain() error {
	for i, addr := range v.leaves {
		l := v.e.Leaf(addr)
		prev, hasPrev := l.Prev()
		next, hasNext := l.Next()
		if hasPrev != (i > 0) || (hasPrev && prev != v.leaves[i-1]) {
			return fmt.Errorf("%w: leaf %d prev link broken", ErrInvalid, addr)
		}
		last := i == len(v.leaves)-1
		if hasNext == last || (hasNext && next != v.leaves[i+1]) {
			return fmt.Errorf("%w: leaf %d next link broken", ErrInvalid, addr)
		}
	}
	return nil
}
