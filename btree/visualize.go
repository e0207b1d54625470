package btree

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/fatih/color"
	"github.com/forestrie/go-stablebtree/nodes"
	"github.com/forestrie/go-stablebtree/region"
)

// Visualizer renders a tree level by level, one line per level. Branches
// show their separators and leaves their keys.
type Visualizer struct {
	Tree *Tree
}

var (
	branchColor = color.New(color.FgCyan).SprintFunc()
	leafColor   = color.New(color.FgGreen).SprintFunc()
	levelColor  = color.New(color.Faint).SprintFunc()
)

// printable renders a key as text when it is printable and as hex otherwise.
func printable(key []byte) string {
	for _, r := range string(key) {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return fmt.Sprintf("%x", key)
		}
	}
	return string(key)
}

func (v *Visualizer) Visualize() string {
	t := v.Tree
	defer t.lock()()
	if !t.hasRoot {
		return levelColor("(empty)")
	}

	var sb strings.Builder
	level := []region.Address{t.root}
	for depth := 0; len(level) > 0; depth++ {
		var next []region.Address
		sb.WriteString(levelColor(fmt.Sprintf("%2d:", depth)))
		for _, addr := range level {
			sb.WriteByte(' ')
			switch n := t.e.Node(addr).(type) {
			case nodes.Branch:
				var keys []string
				for i := 0; i < n.Count()-1; i++ {
					keys = append(keys, printable(n.Key(i)))
				}
				sb.WriteString(branchColor("[" + strings.Join(keys, " ") + "]"))
				for i := 0; i < n.Count(); i++ {
					child, _ := n.Child(i)
					next = append(next, child)
				}
			case nodes.Leaf:
				var keys []string
				for i := 0; i < n.Count(); i++ {
					keys = append(keys, printable(n.Key(i)))
				}
				sb.WriteString(leafColor("(" + strings.Join(keys, " ") + ")"))
			}
		}
		sb.WriteByte('\n')
		level = next
	}
	return sb.String()
}
