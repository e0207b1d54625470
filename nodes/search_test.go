package nodes

import (
	"cmp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinarySearch(t *testing.T) {
	keys := []int{10, 20, 30, 40}
	tests := []struct {
		name  string
		key   int
		index int
		found bool
	}{
		{"first", 10, 0, true},
		{"last", 40, 3, true},
		{"middle", 30, 2, true},
		{"before all", 5, 0, false},
		{"between", 25, 2, false},
		{"after all", 50, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := BinarySearch(len(keys), func(i int) int { return cmp.Compare(tt.key, keys[i]) })
			i, found := Decode(code)
			assert.Equal(t, tt.index, i)
			assert.Equal(t, tt.found, found)
			if !found {
				assert.Less(t, code, 0)
			}
		})
	}
}

func TestBinarySearchSingle(t *testing.T) {
	tests := []struct {
		name  string
		key   int
		code  int
		index int
		found bool
	}{
		{"below", 5, -1, 0, false},
		{"equal", 10, 0, 0, true},
		{"above", 15, -2, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := BinarySearch(1, func(i int) int { return cmp.Compare(tt.key, 10) })
			assert.Equal(t, tt.code, code)
			i, found := Decode(code)
			assert.Equal(t, tt.index, i)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestBinarySearchEmpty(t *testing.T) {
	code := BinarySearch(0, func(int) int { panic("no keys to compare") })
	assert.Equal(t, -1, code)
}

func TestLeafAndBranchSearch(t *testing.T) {
	f := newFixture(t, 8, 0)
	l := f.leaf(2, 4, 6, 8)
	i, found := Decode(l.Search(key(6)))
	assert.True(t, found)
	assert.Equal(t, 2, i)
	i, found = Decode(l.Search(key(5)))
	assert.False(t, found)
	assert.Equal(t, 2, i)

	b := f.parent(f.leaf(1), f.leaf(10), f.leaf(20))
	assert.Equal(t, []int{10, 20}, branchKeys(b))
	assert.Equal(t, 0, b.ChildFor(key(9)))
	assert.Equal(t, 1, b.ChildFor(key(10)))
	assert.Equal(t, 1, b.ChildFor(key(19)))
	assert.Equal(t, 2, b.ChildFor(key(20)))
	assert.Equal(t, 2, b.ChildFor(key(99)))
}
