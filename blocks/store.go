// Package blocks stores the variable length key and value payloads that node
// records refer to by id. Keeping payloads out of line is what lets node
// records stay fixed size and index addressable.
package blocks

import (
	"fmt"
	"math"

	"github.com/forestrie/go-stablebtree/region"
)

// ID identifies a live block. It is the block's address in the region.
type ID uint64

// Block layout
//
//	| length | refs | payload      |
//	| 0    3 | 4  7 | 8 .. 8+length|
const (
	lengthOff   = 0
	refsOff     = 4
	payloadOff  = 8
	HeaderBytes = payloadOff

	MaxPayloadBytes = math.MaxUint32
)

// Store allocates blocks in a region. A block starts with one reference, held
// by whoever called Put. A branch separator that shares a leaf's key id
// takes another with Retain. The block is freed when the last reference is
// released.
type Store struct {
	r region.Region
}

func NewStore(r region.Region) *Store {
	return &Store{r: r}
}

func allocBytes(n int) uint64 { return HeaderBytes + uint64(n) }

// Put copies data into a new block and returns its id.
func (s *Store) Put(data []byte) ID {
	if uint64(len(data)) > MaxPayloadBytes {
		panic(fmt.Sprintf("blocks: payload of %d bytes exceeds the maximum", len(data)))
	}
	addr := s.r.Allocate(allocBytes(len(data)))
	s.r.StoreUint32(addr+lengthOff, uint32(len(data)))
	s.r.StoreUint32(addr+refsOff, 1)
	if len(data) > 0 {
		s.r.StoreBlob(addr+payloadOff, data)
	}
	return ID(addr)
}

// Len returns the payload length of id.
func (s *Store) Len(id ID) int {
	return int(s.r.LoadUint32(region.Address(id) + lengthOff))
}

// Get returns a copy of the payload of id.
func (s *Store) Get(id ID) []byte {
	addr := region.Address(id)
	n := s.r.LoadUint32(addr + lengthOff)
	if n == 0 {
		return []byte{}
	}
	return s.r.LoadBlob(addr+payloadOff, uint64(n))
}

// Refs returns the current reference count of id.
func (s *Store) Refs(id ID) uint32 {
	return s.r.LoadUint32(region.Address(id) + refsOff)
}

// Retain adds a reference to id.
func (s *Store) Retain(id ID) {
	addr := region.Address(id)
	refs := s.r.LoadUint32(addr + refsOff)
	if refs == 0 {
		panic(fmt.Sprintf("blocks: retain of released block %d", id))
	}
	s.r.StoreUint32(addr+refsOff, refs+1)
}

// Release drops a reference to id and frees the block when none remain. It
// reports whether the block was freed.
func (s *Store) Release(id ID) bool {
	addr := region.Address(id)
	refs := s.r.LoadUint32(addr + refsOff)
	if refs == 0 {
		panic(fmt.Sprintf("blocks: release of released block %d", id))
	}
	if refs > 1 {
		s.r.StoreUint32(addr+refsOff, refs-1)
		return false
	}
	n := s.r.LoadUint32(addr + lengthOff)
	s.r.StoreUint32(addr+refsOff, 0)
	s.r.Deallocate(addr, allocBytes(int(n)))
	return true
}

// Replace sets the payload of a block that only the caller references. The
// block is rewritten in place when the aligned size is unchanged, otherwise a
// new block is returned and the old one released.
func (s *Store) Replace(id ID, data []byte) ID {
	addr := region.Address(id)
	if refs := s.r.LoadUint32(addr + refsOff); refs != 1 {
		panic(fmt.Sprintf("blocks: replace of block %d with %d references", id, refs))
	}
	n := s.r.LoadUint32(addr + lengthOff)
	if region.AlignedSize(allocBytes(int(n))) != region.AlignedSize(allocBytes(len(data))) {
		s.Release(id)
		return s.Put(data)
	}
	s.r.StoreUint32(addr+lengthOff, uint32(len(data)))
	if len(data) > 0 {
		s.r.StoreBlob(addr+payloadOff, data)
	}
	return id
}
