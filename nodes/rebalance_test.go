package nodes

import (
	"testing"

	"github.com/forestrie/go-stablebtree/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLargerNeighbour(t *testing.T) {
	f := newFixture(t, 8, 0)
	a, b, c, d := f.leaf(1, 2), f.leaf(10), f.leaf(20, 21), f.leaf(30, 31, 32)
	p := f.parent(a, b, c, d)

	nb, ok := f.e.LargerNeighbour(p, 0)
	require.True(t, ok)
	assert.Equal(t, b.Address(), nb)

	// tie between a and c goes right
	nb, _ = f.e.LargerNeighbour(p, 1)
	assert.Equal(t, c.Address(), nb)

	nb, _ = f.e.LargerNeighbour(p, 2)
	assert.Equal(t, d.Address(), nb)

	nb, _ = f.e.LargerNeighbour(p, 3)
	assert.Equal(t, c.Address(), nb)

	only := f.parent(f.leaf(5))
	_, ok = f.e.LargerNeighbour(only, 0)
	assert.False(t, ok)
}

func TestRedistributeLeaves(t *testing.T) {
	t.Run("from right", func(t *testing.T) {
		f := newFixture(t, 4, 0)
		l, r := f.leaf(10), f.leaf(20, 30, 40)
		f.link(l, r)
		p := f.parent(l, r)
		oldSep, _ := p.KeyID(0)

		require.True(t, f.e.Redistribute(l.Address()))
		assert.Equal(t, []int{10, 20}, leafKeys(l))
		assert.Equal(t, []int{30, 40}, leafKeys(r))
		assert.Equal(t, []int{30}, branchKeys(p))

		newSep, _ := p.KeyID(0)
		first, _ := r.KeyID(0)
		assert.Equal(t, first, newSep)
		assert.Equal(t, uint32(2), f.e.blocks.Refs(newSep))
		assert.Equal(t, uint32(1), f.e.blocks.Refs(oldSep))
		assert.Equal(t, uint64(4), p.ChildrenSize())
	})

	t.Run("from left", func(t *testing.T) {
		f := newFixture(t, 4, 0)
		l, r := f.leaf(10, 20, 30), f.leaf(40)
		f.link(l, r)
		p := f.parent(l, r)

		require.True(t, f.e.Redistribute(r.Address()))
		assert.Equal(t, []int{10, 20}, leafKeys(l))
		assert.Equal(t, []int{30, 40}, leafKeys(r))
		assert.Equal(t, []int{30}, branchKeys(p))
		_, ok := l.KeyID(2)
		assert.False(t, ok)
	})

	t.Run("too few to share", func(t *testing.T) {
		f := newFixture(t, 4, 0)
		l, r := f.leaf(10), f.leaf(20, 30)
		p := f.parent(l, r)
		before := append([]byte(nil), f.mem.Bytes()...)

		assert.False(t, f.e.Redistribute(l.Address()))
		assert.Equal(t, before, f.mem.Bytes())
		assert.Equal(t, []int{20}, branchKeys(p))
	})

	t.Run("root", func(t *testing.T) {
		f := newFixture(t, 4, 0)
		assert.False(t, f.e.Redistribute(f.leaf(1).Address()))
	})
}

// twoLevels builds a parent over two branches, each over leaves of one entry
// whose keys are given per branch.
func twoLevels(f fixture, left, right []int) (Branch, Branch, Branch, []Leaf) {
	var all []Leaf
	build := func(keys []int) Branch {
		var ls []Leaf
		for _, k := range keys {
			ls = append(ls, f.leaf(k))
		}
		all = append(all, ls...)
		return f.parent(ls...)
	}
	l, r := build(left), build(right)
	f.e.blocks.Retain(all[len(left)].mustKeyID(0))
	p := f.e.NewBranch()
	p.Attach(0, l.Address())
	p.SetCount(1)
	p.Insert(1, all[len(left)].mustKeyID(0), r.Address())
	p.SetSubtreeSize(p.ChildrenSize())
	return p, l, r, all
}

func TestRedistributeBranches(t *testing.T) {
	t.Run("from right", func(t *testing.T) {
		f := newFixture(t, 4, 0)
		p, l, r, _ := twoLevels(f, []int{1, 2}, []int{3, 4, 5, 6})

		require.True(t, f.e.Redistribute(l.Address()))
		assert.Equal(t, 3, l.Count())
		assert.Equal(t, 3, r.Count())
		assert.Equal(t, []int{2, 3}, branchKeys(l))
		assert.Equal(t, []int{4}, branchKeys(p))
		assert.Equal(t, []int{5, 6}, branchKeys(r))
		assert.Equal(t, uint64(3), l.SubtreeSize())
		assert.Equal(t, uint64(3), r.SubtreeSize())
		assert.Equal(t, uint64(6), p.SubtreeSize())
		requireParented(t, f.e, l)
		requireParented(t, f.e, r)
	})

	t.Run("from left", func(t *testing.T) {
		f := newFixture(t, 4, 0)
		p, l, r, _ := twoLevels(f, []int{1, 2, 3, 4}, []int{5, 6})

		require.True(t, f.e.Redistribute(r.Address()))
		assert.Equal(t, []int{2, 3}, branchKeys(l))
		assert.Equal(t, []int{4}, branchKeys(p))
		assert.Equal(t, []int{5, 6}, branchKeys(r))
		assert.Equal(t, uint64(3), l.SubtreeSize())
		assert.Equal(t, uint64(3), r.SubtreeSize())
		requireParented(t, f.e, l)
		requireParented(t, f.e, r)
	})
}

func TestMergeLeaves(t *testing.T) {
	f := newFixture(t, 4, 0)
	a, b, c := f.leaf(10), f.leaf(20), f.leaf(30)
	f.link(a, b, c)
	p := f.parent(a, b, c)
	sep, _ := p.KeyID(0)
	require.Equal(t, uint32(2), f.e.blocks.Refs(sep))

	removed := f.e.Merge(b.Address(), a.Address())
	assert.Equal(t, b.Address(), removed)
	assert.False(t, f.mem.IsLive(removed))
	assert.Equal(t, []int{10, 20}, leafKeys(a))
	assert.Equal(t, []int{30}, branchKeys(p))
	assert.Equal(t, uint32(1), f.e.blocks.Refs(sep))
	assert.Equal(t, 2, f.e.LeafCount())

	next, _ := a.Next()
	assert.Equal(t, c.Address(), next)
	prev, _ := c.Prev()
	assert.Equal(t, a.Address(), prev)
	requireParented(t, f.e, p)
}

func TestMergeInvertsSplit(t *testing.T) {
	f := newFixture(t, 4, 0)
	l := f.leaf(10, 20, 30)
	p := f.parent(l)

	newKey := f.e.blocks.Put(key(25))
	right, sep := l.Split(2, newKey, f.e.blocks.Put(value(25)))
	p.Insert(1, sep, right.Address())

	k, v := right.Remove(0)
	f.e.blocks.Release(k)
	f.e.blocks.Release(v)
	require.True(t, f.mem.IsLive(region.Address(newKey)))

	f.e.Merge(l.Address(), right.Address())
	assert.Equal(t, []int{10, 20, 30}, leafKeys(l))
	assert.Equal(t, 1, p.Count())
	assert.False(t, f.mem.IsLive(region.Address(newKey)))
	_, ok := l.Next()
	assert.False(t, ok)
}

func TestMergeInvertsBranchSplit(t *testing.T) {
	f := newFixture(t, 4, 0)
	c := []Leaf{f.leaf(0), f.leaf(10), f.leaf(20), f.leaf(30), f.leaf(40)}
	b := f.parent(c[0], c[1], c[2], c[3])
	gp := f.e.NewBranch()
	gp.Attach(0, b.Address())
	gp.SetCount(1)
	gp.SetSubtreeSize(b.SubtreeSize())
	count, size := b.Count(), b.SubtreeSize()

	right, sep := b.Split(4, f.e.blocks.Put(key(40)), c[4].Address())
	gp.Insert(1, sep, right.Address())
	require.Equal(t, 3, b.Count())
	require.Equal(t, 2, right.Count())

	// Take back the child the split brought in, leaving the original children.
	keyID, child := right.Remove(1)
	f.e.blocks.Release(keyID)
	f.e.ReleaseAll(child)
	right.SetSubtreeSize(right.ChildrenSize())

	removed := f.e.Merge(b.Address(), right.Address())
	assert.Equal(t, right.Address(), removed)
	assert.Equal(t, count, b.Count())
	assert.Equal(t, size, b.SubtreeSize())
	assert.Equal(t, []int{10, 20, 30}, branchKeys(b))
	for i, addr := range children(t, b) {
		assert.Equal(t, c[i].Address(), addr)
	}
	requireParented(t, f.e, b)
	assert.Equal(t, 1, gp.Count())
	assert.Equal(t, 2, f.e.BranchCount())
}

func TestMergeBranches(t *testing.T) {
	f := newFixture(t, 4, 0)
	p, l, r, leaves := twoLevels(f, []int{1, 2}, []int{3, 4})

	f.e.Merge(l.Address(), r.Address())
	assert.Equal(t, 1, p.Count())
	assert.Equal(t, []int{2, 3, 4}, branchKeys(l))
	assert.Equal(t, uint64(4), l.SubtreeSize())
	requireParented(t, f.e, l)
	for i, c := range children(t, l) {
		assert.Equal(t, leaves[i].Address(), c)
	}
	assert.Equal(t, 2, f.e.BranchCount())
}

func TestMergeRejectsOverflow(t *testing.T) {
	f := newFixture(t, 4, 0)
	a, b := f.leaf(1, 2), f.leaf(3, 4)
	f.parent(a, b)
	assert.Panics(t, func() { f.e.Merge(a.Address(), b.Address()) })
}

func TestAddSubtreeSize(t *testing.T) {
	f := newFixture(t, 4, 0)
	p, l, _, leaves := twoLevels(f, []int{1, 2}, []int{3, 4})

	f.e.AddSubtreeSize(leaves[0].Address(), 1)
	assert.Equal(t, uint64(3), l.SubtreeSize())
	assert.Equal(t, uint64(5), p.SubtreeSize())

	f.e.AddSubtreeSize(l.Address(), -2)
	assert.Equal(t, uint64(1), l.SubtreeSize())
	assert.Equal(t, uint64(3), p.SubtreeSize())
}
