package nodes

import (
	"testing"

	"github.com/forestrie/go-stablebtree/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafInsertRemove(t *testing.T) {
	f := newFixture(t, 5, 0)
	l := f.leaf(10, 30)
	l.Insert(1, f.e.blocks.Put(key(20)), f.e.blocks.Put(value(20)))
	l.Insert(0, f.e.blocks.Put(key(5)), f.e.blocks.Put(value(5)))
	assert.Equal(t, []int{5, 10, 20, 30}, leafKeys(l))

	assert.Panics(t, func() { l.Insert(0, 0, 0) })

	k, v := l.Remove(1)
	assert.Equal(t, key(10), f.e.blocks.Get(k))
	assert.Equal(t, value(10), f.e.blocks.Get(v))
	assert.Equal(t, []int{5, 20, 30}, leafKeys(l))
	_, ok := l.KeyID(3)
	assert.False(t, ok)
	assert.Panics(t, func() { l.Remove(3) })
}

func TestBranchInsertRemoveReindexes(t *testing.T) {
	f := newFixture(t, 5, 0)
	c := []Leaf{f.leaf(1), f.leaf(10), f.leaf(20), f.leaf(30)}
	b := f.parent(c[0], c[1], c[3])
	f.e.blocks.Retain(c[2].mustKeyID(0))
	b.Insert(2, c[2].mustKeyID(0), c[2].Address())

	assert.Equal(t, []int{10, 20, 30}, branchKeys(b))
	requireParented(t, f.e, b)
	assert.Panics(t, func() { b.Insert(0, 0, c[0].Address()) })

	keyID, child := b.Remove(1)
	assert.Equal(t, key(10), f.e.blocks.Get(keyID))
	assert.Equal(t, c[1].Address(), child)
	assert.Equal(t, []int{20, 30}, branchKeys(b))
	assert.Equal(t, []region.Address{c[0].Address(), c[2].Address(), c[3].Address()}, children(t, b))
	requireParented(t, f.e, b)
	assert.Panics(t, func() { b.Remove(0) })
}

func TestBranchShiftRejectsSlotZero(t *testing.T) {
	f := newFixture(t, 4, 0)
	b := f.parent(f.leaf(1), f.leaf(2))
	assert.Panics(t, func() { b.Shift(1, 2, -1) })
	assert.Panics(t, func() { b.Shift(0, 1, 1) })
}

func TestBranchSplit(t *testing.T) {
	tests := []struct {
		name      string
		slot      int
		newKey    int
		left      []int
		leftKids  []int
		separator int
		right     []int
		rightKids []int
	}{
		{
			// children c0..c3 separated by 10 20 30, (40, c4) arrives at the end
			name: "append", slot: 4, newKey: 40,
			left: []int{10, 20}, leftKids: []int{0, 1, 2},
			separator: 30,
			right:     []int{40}, rightKids: []int{3, 4},
		},
		{
			name: "front", slot: 1, newKey: 5,
			left: []int{5, 10}, leftKids: []int{0, 4, 1},
			separator: 20,
			right:     []int{30}, rightKids: []int{2, 3},
		},
		{
			name: "promoted", slot: 3, newKey: 25,
			left: []int{10, 20}, leftKids: []int{0, 1, 2},
			separator: 25,
			right:     []int{30}, rightKids: []int{4, 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 4, 0)
			// every child holds one entry so subtree sizes count children
			c := []Leaf{f.leaf(0), f.leaf(10), f.leaf(20), f.leaf(30), f.leaf(tt.newKey)}
			b := f.parent(c[0], c[1], c[2], c[3])
			require.Equal(t, 4, b.Count())
			newKeyID := f.e.blocks.Put(key(tt.newKey))

			right, sep := b.Split(tt.slot, newKeyID, c[4].Address())

			assert.Equal(t, key(tt.separator), f.e.blocks.Get(sep))
			assert.Equal(t, tt.left, branchKeys(b))
			assert.Equal(t, tt.right, branchKeys(right))
			kids := func(idx []int) []region.Address {
				var out []region.Address
				for _, i := range idx {
					out = append(out, c[i].Address())
				}
				return out
			}
			assert.Equal(t, kids(tt.leftKids), children(t, b))
			assert.Equal(t, kids(tt.rightKids), children(t, right))
			requireParented(t, f.e, b)
			requireParented(t, f.e, right)

			assert.Equal(t, uint64(len(tt.leftKids)), b.SubtreeSize())
			assert.Equal(t, uint64(len(tt.rightKids)), right.SubtreeSize())
			_, ok := right.Parent()
			assert.False(t, ok)
			_, ok = b.KeyID(2)
			assert.False(t, ok)
			_, ok = b.Child(3)
			assert.False(t, ok)
		})
	}
}

func TestLeafSplit(t *testing.T) {
	tests := []struct {
		order  int
		keys   []int
		insert int
		left   []int
		right  []int
	}{
		{4, []int{10, 20, 30}, 25, []int{10, 20}, []int{25, 30}},
		{4, []int{10, 20, 30}, 5, []int{5, 10}, []int{20, 30}},
		{5, []int{10, 20, 30, 40}, 50, []int{10, 20, 30}, []int{40, 50}},
		{5, []int{10, 20, 30, 40}, 15, []int{10, 15, 20}, []int{30, 40}},
	}
	for _, tt := range tests {
		f := newFixture(t, tt.order, 0)
		l := f.leaf(tt.keys...)
		after := f.leaf(99)
		f.link(l, after)

		i, found := Decode(l.Search(key(tt.insert)))
		require.False(t, found)
		right, sep := l.Split(i, f.e.blocks.Put(key(tt.insert)), f.e.blocks.Put(value(tt.insert)))

		assert.Equal(t, tt.left, leafKeys(l))
		assert.Equal(t, tt.right, leafKeys(right))
		assert.Equal(t, len(tt.keys)+1, l.Count()+right.Count())

		first, _ := right.KeyID(0)
		assert.Equal(t, first, sep)
		assert.Equal(t, uint32(2), f.e.blocks.Refs(sep))

		next, _ := l.Next()
		assert.Equal(t, right.Address(), next)
		prev, _ := right.Prev()
		assert.Equal(t, l.Address(), prev)
		next, _ = right.Next()
		assert.Equal(t, after.Address(), next)
		prev, _ = after.Prev()
		assert.Equal(t, right.Address(), prev)
	}
}

func TestSplitOfNotFullNodePanics(t *testing.T) {
	f := newFixture(t, 4, 0)
	l := f.leaf(1, 2)
	assert.Panics(t, func() { l.Split(0, 0, 0) })
	b := f.parent(f.leaf(1), f.leaf(2))
	assert.Panics(t, func() { b.Split(1, 0, 0) })
}
