package region

/*

# Linear memory region

This package provides the flat, byte-addressable memory that every other
stablebtree structure is stored in. Nothing outside this package holds a Go
pointer into the region: records refer to each other by Address, which is a
byte offset from the region start.

The region only grows. Allocation never relocates a previously allocated
address, so an Address stays valid until it is passed to Deallocate.

## Allocator

Freed extents are kept on exact size class free lists. The B+tree node
records are fixed size for a given order, so in steady state almost every
node allocation is satisfied from a free list. Variable sized key/value
blocks are rounded up to the 8 byte alignment and reuse extents of the same
rounded size.

Allocations that can't be satisfied from a free list are bump allocated at
the end of the used area. The backing buffer grows in PageBytes steps.

## Typed access

All multi-byte integers are big-endian, matching the layouts used by the
rest of the module:

	StoreUint64(addr+8, v)
	v := LoadUint64(addr+8)

Out of range access is a caller bug and panics.

*/
