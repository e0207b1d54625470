package region

import "errors"

// Address is a byte offset into a Region.
type Address uint64

// Null is the serialized form of "no address". It is never returned by
// Allocate.
const Null = ^Address(0)

const (
	// PageBytes is the growth increment of the backing buffer.
	PageBytes = 64 * 1024

	// Alignment is the granularity of every allocation.
	Alignment = 8
)

var (
	ErrStateInvalid     = errors.New("region: allocator state invalid")
	ErrStateSizeInvalid = errors.New("region: allocator state does not match the image size")
)

// Region is the allocator contract consumed by the block store and the
// node codec.
type Region interface {
	Allocate(size uint64) Address
	Deallocate(addr Address, size uint64)

	LoadUint8(at Address) uint8
	StoreUint8(at Address, v uint8)
	LoadUint16(at Address) uint16
	StoreUint16(at Address, v uint16)
	LoadUint32(at Address) uint32
	StoreUint32(at Address, v uint32)
	LoadUint64(at Address) uint64
	StoreUint64(at Address, v uint64)

	// LoadBlob returns a copy of n bytes starting at at.
	LoadBlob(at Address, n uint64) []byte
	StoreBlob(at Address, b []byte)
}

// AlignedSize rounds size up to Alignment.
func AlignedSize(size uint64) uint64 {
	return (size + Alignment - 1) &^ (Alignment - 1)
}
