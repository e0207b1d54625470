package region

import (
	"fmt"
	"sort"
)

// Memory is an in-process Region backed by a single growable byte slice.
//
// Memory is not safe for concurrent use. It is owned by exactly one tree.
type Memory struct {
	data []byte

	// end is the high water mark of bump allocation.
	end uint64

	// free maps an aligned extent size to the addresses available for reuse.
	free map[uint64][]Address

	// live records the aligned size of every outstanding allocation so that
	// double frees and size mismatches are caught at the call site.
	live map[Address]uint64

	allocated uint64
}

var _ Region = (*Memory)(nil)

// NewMemory returns an empty region with initialPages pages reserved.
func NewMemory(initialPages int) *Memory {
	if initialPages < 1 {
		initialPages = 1
	}
	return &Memory{
		data: make([]byte, initialPages*PageBytes),
		free: make(map[uint64][]Address),
		live: make(map[Address]uint64),
	}
}

// Allocate reserves size bytes and returns their address. The bytes are zero
// filled.
func (m *Memory) Allocate(size uint64) Address {
	if size == 0 {
		panic("region: zero size allocation")
	}
	size = AlignedSize(size)

	if addrs := m.free[size]; len(addrs) > 0 {
		addr := addrs[len(addrs)-1]
		m.free[size] = addrs[:len(addrs)-1]
		clear(m.data[addr : uint64(addr)+size])
		m.live[addr] = size
		m.allocated += size
		return addr
	}

	addr := Address(m.end)
	m.grow(m.end + size)
	m.end += size
	m.live[addr] = size
	m.allocated += size
	return addr
}

// Deallocate returns an extent to the free list. size must be the size the
// extent was allocated with.
func (m *Memory) Deallocate(addr Address, size uint64) {
	size = AlignedSize(size)
	got, ok := m.live[addr]
	if !ok {
		panic(fmt.Sprintf("region: deallocate of address %d which is not allocated", addr))
	}
	if got != size {
		panic(fmt.Sprintf("region: deallocate of address %d with size %d, allocated with %d", addr, size, got))
	}
	delete(m.live, addr)
	m.free[size] = append(m.free[size], addr)
	m.allocated -= size
}

// IsLive reports whether addr is the start of an outstanding allocation.
func (m *Memory) IsLive(addr Address) bool {
	_, ok := m.live[addr]
	return ok
}

// Size is the number of bytes in use, including freed extents that have not
// been reused. It is the length of the image returned by Bytes.
func (m *Memory) Size() uint64 { return m.end }

// Allocated is the number of bytes held by live allocations.
func (m *Memory) Allocated() uint64 { return m.allocated }

// LiveCount is the number of outstanding allocations.
func (m *Memory) LiveCount() int { return len(m.live) }

// Bytes returns the used portion of the backing buffer. The slice aliases the
// region and is only valid until the next Allocate.
func (m *Memory) Bytes() []byte { return m.data[:m.end] }

func (m *Memory) grow(need uint64) {
	if need <= uint64(len(m.data)) {
		return
	}
	n := uint64(len(m.data))
	for n < need {
		n += PageBytes
	}
	data := make([]byte, n)
	copy(data, m.data[:m.end])
	m.data = data
}

func (m *Memory) slice(at Address, n uint64) []byte {
	end := uint64(at) + n
	if end > m.end || end < uint64(at) {
		panic(fmt.Sprintf("region: access [%d, %d) outside region of size %d", at, end, m.end))
	}
	return m.data[at:end]
}

func (m *Memory) LoadUint8(at Address) uint8     { return m.slice(at, 1)[0] }
func (m *Memory) StoreUint8(at Address, v uint8) { m.slice(at, 1)[0] = v }

func (m *Memory) LoadUint16(at Address) uint16     { return readU16BE(m.slice(at, 2)) }
func (m *Memory) StoreUint16(at Address, v uint16) { writeU16BE(m.slice(at, 2), v) }

func (m *Memory) LoadUint32(at Address) uint32     { return readU32BE(m.slice(at, 4)) }
func (m *Memory) StoreUint32(at Address, v uint32) { writeU32BE(m.slice(at, 4), v) }

func (m *Memory) LoadUint64(at Address) uint64     { return readU64BE(m.slice(at, 8)) }
func (m *Memory) StoreUint64(at Address, v uint64) { writeU64BE(m.slice(at, 8), v) }

func (m *Memory) LoadBlob(at Address, n uint64) []byte {
	out := make([]byte, n)
	copy(out, m.slice(at, n))
	return out
}

func (m *Memory) StoreBlob(at Address, b []byte) {
	copy(m.slice(at, uint64(len(b))), b)
}

// Extent is a single allocation, used to persist allocator state.
type Extent struct {
	Addr uint64 `cbor:"1,keyasint"`
	Size uint64 `cbor:"2,keyasint"`
}

// State is the allocator book keeping needed to resume a region from its
// image. The image bytes themselves are carried separately.
type State struct {
	End  uint64   `cbor:"1,keyasint"`
	Live []Extent `cbor:"2,keyasint"`
	Free []Extent `cbor:"3,keyasint"`
}

// State returns the allocator state in a deterministic order.
func (m *Memory) State() State {
	st := State{End: m.end}
	for addr, size := range m.live {
		st.Live = append(st.Live, Extent{Addr: uint64(addr), Size: size})
	}
	for size, addrs := range m.free {
		for _, addr := range addrs {
			st.Free = append(st.Free, Extent{Addr: uint64(addr), Size: size})
		}
	}
	sortExtents(st.Live)
	sortExtents(st.Free)
	return st
}

func sortExtents(es []Extent) {
	sort.Slice(es, func(i, j int) bool { return es[i].Addr < es[j].Addr })
}

// Restore rebuilds a region from an image previously obtained from Bytes and
// the matching State.
func Restore(image []byte, st State) (*Memory, error) {
	if uint64(len(image)) != st.End {
		return nil, fmt.Errorf("%w: image %d bytes, state end %d", ErrStateSizeInvalid, len(image), st.End)
	}
	pages := (st.End + PageBytes - 1) / PageBytes
	m := NewMemory(int(pages))
	copy(m.data, image)
	m.end = st.End

	for _, e := range st.Live {
		if e.Size == 0 || e.Addr+e.Size > st.End || AlignedSize(e.Size) != e.Size {
			return nil, fmt.Errorf("%w: live extent %d+%d", ErrStateInvalid, e.Addr, e.Size)
		}
		m.live[Address(e.Addr)] = e.Size
		m.allocated += e.Size
	}
	for _, e := range st.Free {
		if e.Size == 0 || e.Addr+e.Size > st.End {
			return nil, fmt.Errorf("%w: free extent %d+%d", ErrStateInvalid, e.Addr, e.Size)
		}
		if _, ok := m.live[Address(e.Addr)]; ok {
			return nil, fmt.Errorf("%w: extent %d both live and free", ErrStateInvalid, e.Addr)
		}
		m.free[e.Size] = append(m.free[e.Size], Address(e.Addr))
	}
	return m, nil
}
