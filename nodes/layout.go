package nodes

import "github.com/forestrie/go-stablebtree/region"

const (
	Magic         = "BTN"
	LayoutVersion = uint8(1)

	HeaderBytes = 64
	slotBytes   = 8

	offMagic   = 0
	offType    = 3
	offVersion = 4
	offIndex   = 5
	offCount   = 7

	offBranchSubtree = 9
	offBranchParent  = 17

	offLeafParent = 9
	offLeafPrev   = 17
	offLeafNext   = 25

	offKeys = HeaderBytes

	// rootIndex is stored in the index field of a node without a parent.
	rootIndex = 0xffff
)

// BranchBytes is the fixed record size of a branch for order.
func BranchBytes(order int) uint64 {
	return HeaderBytes + slotBytes*uint64(order-1) + slotBytes*uint64(order)
}

// LeafBytes is the fixed record size of a leaf for order.
func LeafBytes(order int) uint64 {
	return HeaderBytes + 2*slotBytes*uint64(order-1)
}

func keyOffset(i int) region.Address {
	return offKeys + region.Address(slotBytes*i)
}

func childOffset(order, i int) region.Address {
	return offKeys + region.Address(slotBytes*(order-1)) + region.Address(slotBytes*i)
}

func valueOffset(order, i int) region.Address {
	return offKeys + region.Address(slotBytes*(order-1)) + region.Address(slotBytes*i)
}

func parentOffset(k Kind) region.Address {
	if k == KindBranch {
		return offBranchParent
	}
	return offLeafParent
}
