package buffer_pool

import "math/bits"

// bitset is a growable set of slice indices.
type bitset []uint64

func (b *bitset) grow(n uint32) {
	words := int((n + 63) / 64)
	if words > len(*b) {
		*b = append(*b, make([]uint64, words-len(*b))...)
	}
}

func (b bitset) test(i uint32) bool {
	return b[i/64]&(1<<(i%64)) != 0
}

func (b bitset) set(i uint32) {
	b[i/64] |= 1 << (i % 64)
}

func (b bitset) clear(i uint32) {
	b[i/64] &^= 1 << (i % 64)
}

func (b bitset) count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}
