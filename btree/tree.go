// Package btree is an ordered key value map built on the node records of
// package nodes. Every byte of the tree, including the variable length keys
// and values, lives in a single region so the whole tree can be persisted by
// copying the region image.
package btree

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/nodes"
	"github.com/forestrie/go-stablebtree/region"
	"github.com/google/uuid"
)

var (
	ErrInvalid        = errors.New("btree: tree invariant violated")
	ErrHeaderMismatch = errors.New("btree: header does not describe the region")
)

// Header is the state of a tree that is not held in its region.
type Header struct {
	ID       uuid.UUID
	Order    int
	Root     region.Address
	HasRoot  bool
	Len      uint64
	Branches int
	Leaves   int
}

type Tree struct {
	mu   sync.Mutex
	opts Options
	log  logger.Logger

	id     uuid.UUID
	r      region.Region
	blocks *blocks.Store
	e      *nodes.Engine

	root    region.Address
	hasRoot bool
	length  uint64
}

// New creates an empty tree in r. The region must not be shared with
// anything else.
func New(r region.Region, opts ...Option) (*Tree, error) {
	o := newOptions(opts...)
	return newTree(uuid.New(), r, o)
}

func newTree(id uuid.UUID, r region.Region, o Options) (*Tree, error) {
	store := blocks.NewStore(r)
	e, err := nodes.NewEngine(o.Log, r, store, nodes.Config{
		Order:         o.Order,
		CacheCapacity: o.CacheCapacity,
		Compare:       o.Comparer,
	})
	if err != nil {
		return nil, err
	}
	return &Tree{
		opts:   o,
		log:    o.Log,
		id:     id,
		r:      r,
		blocks: store,
		e:      e,
	}, nil
}

// Resume attaches to a tree previously built in r and described by h. The
// order recorded in the header wins over any WithOrder option. The tree is
// validated before it is returned.
func Resume(r region.Region, h Header, opts ...Option) (*Tree, error) {
	o := newOptions(opts...)
	o.Order = h.Order
	t, err := newTree(h.ID, r, o)
	if err != nil {
		return nil, err
	}
	t.root, t.hasRoot, t.length = h.Root, h.HasRoot, h.Len
	t.e.SetCounts(h.Branches, h.Leaves)
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeaderMismatch, err)
	}
	t.log.Debugf("resumed tree %s: %d entries", t.id, t.length)
	return t, nil
}

func (t *Tree) lock() func() {
	if !t.opts.Locking {
		return func() {}
	}
	t.mu.Lock()
	return t.mu.Unlock
}

func (t *Tree) ID() uuid.UUID          { return t.id }
func (t *Tree) Region() region.Region  { return t.r }
func (t *Tree) Engine() *nodes.Engine { return t.e }

func (t *Tree) Header() Header {
	defer t.lock()()
	return t.header()
}

// View calls fn with the header and the region while holding the tree lock,
// so fn sees a consistent image.
func (t *Tree) View(fn func(h Header, r region.Region) error) error {
	defer t.lock()()
	return fn(t.header(), t.r)
}

func (t *Tree) header() Header {
	return Header{
		ID:       t.id,
		Order:    t.e.Order(),
		Root:     t.root,
		HasRoot:  t.hasRoot,
		Len:      t.length,
		Branches: t.e.BranchCount(),
		Leaves:   t.e.LeafCount(),
	}
}

func (t *Tree) Len() int {
	defer t.lock()()
	return int(t.length)
}

// findLeaf descends from the root to the leaf whose range covers key.
func (t *Tree) findLeaf(key []byte) (nodes.Leaf, error) {
	addr := t.root
	for {
		n, err := t.e.Load(addr, false)
		if err != nil {
			return nodes.Leaf{}, err
		}
		switch n := n.(type) {
		case nodes.Leaf:
			return n, nil
		case nodes.Branch:
			child, ok := n.Child(n.ChildFor(key))
			if !ok {
				return nodes.Leaf{}, fmt.Errorf("%w: branch %d has no child for key", ErrInvalid, addr)
			}
			addr = child
		}
	}
}

// edgeLeaf descends along the first or last children.
func (t *Tree) edgeLeaf(last bool) (nodes.Leaf, error) {
	addr := t.root
	for {
		n, err := t.e.Load(addr, true)
		if err != nil {
			return nodes.Leaf{}, err
		}
		switch n := n.(type) {
		case nodes.Leaf:
			return n, nil
		case nodes.Branch:
			i := 0
			if last {
				i = n.Count() - 1
			}
			addr, _ = n.Child(i)
		}
	}
}

// Insert stores value under key. If the key was present its previous value
// is returned and replaced is true.
func (t *Tree) Insert(key, value []byte) (old []byte, replaced bool, err error) {
	defer t.lock()()

	if !t.hasRoot {
		l := t.e.NewLeaf()
		l.Insert(0, t.blocks.Put(key), t.blocks.Put(value))
		t.root, t.hasRoot, t.length = l.Address(), true, 1
		return nil, false, nil
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return nil, false, err
	}
	i, found := nodes.Decode(leaf.Search(key))
	if found {
		old = leaf.Value(i)
		id, _ := leaf.ValueID(i)
		leaf.PutValueID(i, t.blocks.Replace(id, value))
		return old, true, nil
	}

	keyID, valueID := t.blocks.Put(key), t.blocks.Put(value)
	t.length++
	t.e.AddSubtreeSize(leaf.Address(), 1)
	if leaf.Count() < t.e.Capacity(nodes.KindLeaf) {
		leaf.Insert(i, keyID, valueID)
		return nil, false, nil
	}
	right, sep := leaf.Split(i, keyID, valueID)
	t.promote(leaf, sep, right)
	return nil, false, nil
}

// promote inserts the separator and right half produced by a split into the
// parent of left, splitting upwards for as long as parents are full.
func (t *Tree) promote(left nodes.Node, sep blocks.ID, right nodes.Node) {
	for {
		p, ok := left.Parent()
		if !ok {
			root := t.e.NewBranch()
			root.Attach(0, left.Address())
			root.SetCount(1)
			root.Insert(1, sep, right.Address())
			root.SetSubtreeSize(left.Size() + right.Size())
			t.root = root.Address()
			t.log.Debugf("new root %d", t.root)
			return
		}
		parent := t.e.Branch(p)
		i, _ := left.Index()
		if parent.Count() < t.e.Order() {
			parent.Insert(i+1, sep, right.Address())
			return
		}
		upper, upperSep := parent.Split(i+1, sep, right.Address())
		left, sep, right = parent, upperSep, upper
	}
}

// Get returns a copy of the value stored under key.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	defer t.lock()()
	if !t.hasRoot {
		return nil, false, nil
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return nil, false, err
	}
	i, found := nodes.Decode(leaf.Search(key))
	if !found {
		return nil, false, nil
	}
	return leaf.Value(i), true, nil
}

func (t *Tree) Has(key []byte) (bool, error) {
	_, ok, err := t.Get(key)
	return ok, err
}

// Remove deletes key and returns the value it held.
func (t *Tree) Remove(key []byte) ([]byte, bool, error) {
	defer t.lock()()
	if !t.hasRoot {
		return nil, false, nil
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return nil, false, err
	}
	i, found := nodes.Decode(leaf.Search(key))
	if !found {
		return nil, false, nil
	}

	old := leaf.Value(i)
	keyID, valueID := leaf.Remove(i)
	// A separator may still share the key block, in which case only the
	// leaf's reference goes here.
	t.blocks.Release(keyID)
	t.blocks.Release(valueID)
	t.length--
	t.e.AddSubtreeSize(leaf.Address(), -1)
	t.rebalance(leaf)
	return old, true, nil
}

// rebalance restores minimum occupancy from n upwards after a removal.
func (t *Tree) rebalance(n nodes.Node) {
	for {
		p, ok := n.Parent()
		if !ok {
			t.shrink(n)
			return
		}
		if n.Count() >= t.e.MinEntries() || t.e.Redistribute(n.Address()) {
			return
		}
		parent := t.e.Branch(p)
		i, _ := n.Index()
		nb, ok := t.e.LargerNeighbour(parent, i)
		if !ok {
			panic("btree: non root node without a sibling")
		}
		t.e.Merge(n.Address(), nb)
		n = parent
	}
}

// shrink drops an empty root leaf, or a root branch left with a single child.
func (t *Tree) shrink(root nodes.Node) {
	switch root := root.(type) {
	case nodes.Leaf:
		if root.Count() > 0 {
			return
		}
		t.e.Free(root.Address())
		t.root, t.hasRoot = 0, false
	case nodes.Branch:
		if root.Count() > 1 {
			return
		}
		child, _ := root.Child(0)
		t.e.Free(root.Address())
		t.e.Node(child).SetRoot()
		t.root = child
		t.log.Debugf("root collapsed into %d", child)
	}
}

// Min returns the smallest key and its value.
func (t *Tree) Min() ([]byte, []byte, bool, error) {
	return t.edge(false)
}

// Max returns the largest key and its value.
func (t *Tree) Max() ([]byte, []byte, bool, error) {
	return t.edge(true)
}

func (t *Tree) edge(last bool) ([]byte, []byte, bool, error) {
	defer t.lock()()
	if !t.hasRoot {
		return nil, nil, false, nil
	}
	leaf, err := t.edgeLeaf(last)
	if err != nil {
		return nil, nil, false, err
	}
	i := 0
	if last {
		i = leaf.Count() - 1
	}
	return bytes.Clone(leaf.Key(i)), leaf.Value(i), true, nil
}

// Select returns the entry with the given zero based rank in key order.
func (t *Tree) Select(rank uint64) ([]byte, []byte, bool, error) {
	defer t.lock()()
	if rank >= t.length {
		return nil, nil, false, nil
	}
	addr := t.root
	for {
		n, err := t.e.Load(addr, true)
		if err != nil {
			return nil, nil, false, err
		}
		switch n := n.(type) {
		case nodes.Leaf:
			i := int(rank)
			return bytes.Clone(n.Key(i)), n.Value(i), true, nil
		case nodes.Branch:
			next, ok := region.Null, false
			for i := 0; i < n.Count() && !ok; i++ {
				child, _ := n.Child(i)
				if size := t.e.Size(child); rank < size {
					next, ok = child, true
				} else {
					rank -= size
				}
			}
			if !ok {
				return nil, nil, false, fmt.Errorf("%w: branch %d is smaller than its subtree size", ErrInvalid, addr)
			}
			addr = next
		}
	}
}

// Rank returns the number of keys less than key and whether key is present.
func (t *Tree) Rank(key []byte) (uint64, bool, error) {
	defer t.lock()()
	if !t.hasRoot {
		return 0, false, nil
	}
	var rank uint64
	addr := t.root
	for {
		n, err := t.e.Load(addr, false)
		if err != nil {
			return 0, false, err
		}
		switch n := n.(type) {
		case nodes.Leaf:
			i, found := nodes.Decode(n.Search(key))
			return rank + uint64(i), found, nil
		case nodes.Branch:
			ci := n.ChildFor(key)
			for i := 0; i < ci; i++ {
				child, _ := n.Child(i)
				rank += t.e.Size(child)
			}
			addr, _ = n.Child(ci)
		}
	}
}

// Scan calls fn for each entry with from <= key < to, in key order, until fn
// returns false. A nil bound is open. fn must not modify the tree.
func (t *Tree) Scan(from, to []byte, fn func(key, value []byte) bool) error {
	defer t.lock()()
	if !t.hasRoot {
		return nil
	}

	var leaf nodes.Leaf
	var err error
	i := 0
	if from == nil {
		leaf, err = t.edgeLeaf(false)
	} else {
		leaf, err = t.findLeaf(from)
		if err == nil {
			i, _ = nodes.Decode(leaf.Search(from))
		}
	}
	if err != nil {
		return err
	}

	for {
		for ; i < leaf.Count(); i++ {
			k := leaf.Key(i)
			if to != nil && t.e.Compare(k, to) >= 0 {
				return nil
			}
			if !fn(bytes.Clone(k), leaf.Value(i)) {
				return nil
			}
		}
		next, ok := leaf.Next()
		if !ok {
			return nil
		}
		n, err := t.e.Load(next, false)
		if err != nil {
			return err
		}
		if leaf, ok = n.(nodes.Leaf); !ok {
			return fmt.Errorf("%w: leaf link to branch %d", ErrInvalid, next)
		}
		i = 0
	}
}

// Clear removes every entry and frees every node and block.
func (t *Tree) Clear() {
	defer t.lock()()
	if !t.hasRoot {
		return
	}
	t.e.ReleaseAll(t.root)
	t.root, t.hasRoot, t.length = 0, false, 0
}

type Stats struct {
	Len      uint64
	Order    int
	Depth    int
	Branches int
	Leaves   int
	Cache    nodes.CacheStats
}

func (t *Tree) Stats() (Stats, error) {
	defer t.lock()()
	st := Stats{
		Len:      t.length,
		Order:    t.e.Order(),
		Branches: t.e.BranchCount(),
		Leaves:   t.e.LeafCount(),
		Cache:    t.e.CacheStats(),
	}
	if !t.hasRoot {
		return st, nil
	}
	addr := t.root
	for {
		st.Depth++
		n, err := t.e.Load(addr, true)
		if err != nil {
			return st, err
		}
		b, ok := n.(nodes.Branch)
		if !ok {
			return st, nil
		}
		addr, _ = b.Child(0)
	}
}
