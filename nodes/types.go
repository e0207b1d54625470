package nodes

import (
	"errors"

	"github.com/forestrie/go-stablebtree/blocks"
	"github.com/forestrie/go-stablebtree/region"
)

type Kind uint8

const (
	KindBranch Kind = 0x00
	KindLeaf   Kind = 0x01
)

func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "branch"
	case KindLeaf:
		return "leaf"
	default:
		return "invalid"
	}
}

const (
	MinOrder     = 4
	MaxOrder     = 4096
	DefaultOrder = 32

	DefaultCacheCapacity = 1024
)

var (
	ErrBadMagic   = errors.New("nodes: record magic invalid")
	ErrBadVersion = errors.New("nodes: record layout version invalid")
	ErrBadKind    = errors.New("nodes: record node type invalid")
	ErrBadOrder   = errors.New("nodes: order out of range")
	ErrBadCount   = errors.New("nodes: record count out of range")
)

const (
	nullAddr = region.Null
	noID     = blocks.ID(region.Null)
)

// Compare orders keys. It returns <0, 0 or >0 like bytes.Compare.
type Compare func(a, b []byte) int
