package nodes

// BinarySearch finds the position of a key among length sorted keys. cmpAt(i)
// compares the sought key with key i.
//
// If the key is present its index is returned. Otherwise the result is
// -(ins+1) where ins is the position the key would be inserted at, so every
// result is distinct and the insertion point survives an absent key at
// index 0.
func BinarySearch(length int, cmpAt func(i int) int) int {
	lo, hi := 0, length-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		c := cmpAt(mid)
		switch {
		case c > 0:
			lo = mid + 1
		case c < 0:
			hi = mid - 1
		default:
			return mid
		}
	}
	return -(lo + 1)
}

// Decode splits a BinarySearch result into an index and whether the key was
// found. When it was not, the index is the insertion point.
func Decode(code int) (int, bool) {
	if code < 0 {
		return -code - 1, false
	}
	return code, true
}
