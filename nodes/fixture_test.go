package nodes

import (
	"encoding/binary"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/region"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t   *testing.T
	mem *region.Memory
	e   *Engine
}

func newFixture(t *testing.T, order, capacity int) fixture {
	logger.New("NOOP")
	t.Cleanup(logger.OnExit)

	mem := region.NewMemory(1)
	e, err := NewEngine(
		logger.Sugar.WithServiceName("nodes"), mem, blocks.NewStore(mem),
		Config{Order: order, CacheCapacity: capacity})
	require.NoError(t, err)
	return fixture{t: t, mem: mem, e: e}
}

func key(k int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k))
	return b
}

func unkey(b []byte) int { return int(binary.BigEndian.Uint64(b)) }

func value(k int) []byte { return append([]byte("v"), key(k)...) }

// leaf builds a leaf holding keys, in the order given.
func (f fixture) leaf(keys ...int) Leaf {
	l := f.e.NewLeaf()
	for i, k := range keys {
		l.Insert(i, f.e.blocks.Put(key(k)), f.e.blocks.Put(value(k)))
	}
	return l
}

// parent builds a branch over leaves, taking a separator reference on the
// first key of every leaf after the first.
func (f fixture) parent(leaves ...Leaf) Branch {
	b := f.e.NewBranch()
	b.Attach(0, leaves[0].Address())
	b.SetCount(1)
	for i, l := range leaves[1:] {
		sep := l.mustKeyID(0)
		f.e.blocks.Retain(sep)
		b.Insert(i+1, sep, l.Address())
	}
	b.SetSubtreeSize(b.ChildrenSize())
	return b
}

// link chains leaves through their sibling pointers.
func (f fixture) link(leaves ...Leaf) {
	for i := 1; i < len(leaves); i++ {
		leaves[i-1].SetNext(leaves[i].Address())
		leaves[i].SetPrev(leaves[i-1].Address())
	}
}

func leafKeys(l Leaf) []int {
	var out []int
	for i := 0; i < l.Count(); i++ {
		out = append(out, unkey(l.Key(i)))
	}
	return out
}

func branchKeys(b Branch) []int {
	var out []int
	for i := 0; i < b.Count()-1; i++ {
		out = append(out, unkey(b.Key(i)))
	}
	return out
}

func children(t *testing.T, b Branch) []region.Address {
	var out []region.Address
	for i := 0; i < b.Count(); i++ {
		c, ok := b.Child(i)
		require.True(t, ok)
		out = append(out, c)
	}
	return out
}

// requireParented checks every child of b points back at b with its slot.
func requireParented(t *testing.T, e *Engine, b Branch) {
	for i, c := range children(t, b) {
		n := e.Node(c)
		p, ok := n.Parent()
		require.True(t, ok)
		require.Equal(t, b.Address(), p)
		idx, ok := n.Index()
		require.True(t, ok)
		require.Equal(t, i, idx)
	}
}
