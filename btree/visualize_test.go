package btree

import (
	"testing"

	"github.com/fatih/color"
	"github.com/forestrie/go-stablebtree/btreetesting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisualize(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })

	tc := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "TestVisualize"})
	tree, _ := newTestTree(t, tc, WithOrder(4))
	v := &Visualizer{Tree: tree}
	assert.Equal(t, "(empty)", v.Visualize())

	for _, k := range []string{"a", "b", "c", "d"} {
		_, _, err := tree.Insert([]byte(k), []byte(k))
		require.NoError(t, err)
	}
	assert.Equal(t, " 0: [c]\n 1: (a b) (c d)\n", v.Visualize())

	_, _, err := tree.Insert([]byte{0x00, 0xfe}, nil)
	require.NoError(t, err)
	assert.Equal(t, " 0: [c]\n 1: (00fe a b) (c d)\n", v.Visualize())
}
