package nodes

/*

# Node records

This package owns the binary format of the two B+tree node kinds and the
structural algorithms that keep a tree of them balanced. Nodes live in a
region.Region and refer to each other only by region.Address.

It follows the same style as the merkle log primitives it grew from: explicit
byte layouts, small composable operations, and a burden of knowledge on the
caller. The façade in package btree decides when to split, merge or
redistribute. The operations here perform the mechanics and leave every
count, index, parent and subtree size consistent when they return.

## Layout

Both kinds share a 64 byte header

	| magic | type | version | index | count |
	| 0   2 |  3   |    4    | 5   6 | 7   8 |

Branch

	| subtree size | parent | reserved | key ids       | children    |
	| 9         16 | 17  24 | 25    63 | 8 x (order-1) | 8 x order   |

Leaf

	| parent | prev   | next   | reserved | key ids       | value ids     |
	| 9   16 | 17  24 | 25  32 | 33    63 | 8 x (order-1) | 8 x (order-1) |

Absent addresses and ids are stored as all ones. The root stores 0xffff as
its index. Neither sentinel escapes the package: accessors return (v, ok).

## Slots

A leaf slot i is the pair (key[i], value[i]). A branch slot s >= 1 is the
pair (key[s-1], child[s]), key[s-1] being the separator between child[s-1]
and child[s]. Slot 0 of a branch is child[0] alone and is never the target
of an ordinary insert, shift or remove.

Leaf count is the number of occupied entries (at most order-1). Branch count
is the number of occupied children (at most order).

Every non root node holds at least floor(order/2) entries or children, for
odd orders too. Redistribution moves floor(sum/2) - count entries, and that
only leaves both nodes at or above the minimum with this floor.

## Cache

Decoded nodes are kept in a fixed arena of slots indexed through an LRU
keyed by address. Every mutator writes the region and the decoded copy
together, so dropping a cached node never loses data. Evicting reuses the
victim's slot in place.

## Concurrency

None. An Engine and everything it manages belong to a single writer and
structural operations are not interruptible.

*/
