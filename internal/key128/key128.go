// Package key128 implements the fixed-width 128-bit unsigned integer used
// as the key type throughout nestdb's on-disk format. Go has no native
// u128; the corpus's one 128-bit library (github.com/davidminor/uint128)
// is not used (see DESIGN.md), so keys are represented here as a pair of
// uint64 halves, encoded BE as
// spec'd: the high 8 bytes first, then the low 8 bytes.
package key128

import (
	"encoding/binary"
	"math/big"
	"sort"
)

// Key128 is an unsigned 128-bit integer, split into high and low 64-bit
// halves for ordinary Go arithmetic and comparison.
type Key128 struct {
	Hi uint64
	Lo uint64
}

// FromUint64 widens a u64 into a Key128 with a zero high half.
func FromUint64(v uint64) Key128 {
	return Key128{Lo: v}
}

// FromBytes decodes a 16-byte big-endian buffer into a Key128.
func FromBytes(b []byte) Key128 {
	return Key128{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// Bytes encodes the key as 16 big-endian bytes.
func (k Key128) Bytes() [16]byte {
	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], k.Hi)
	binary.BigEndian.PutUint64(out[8:16], k.Lo)
	return out
}

// Less reports whether k orders strictly before other.
func (k Key128) Less(other Key128) bool {
	if k.Hi != other.Hi {
		return k.Hi < other.Hi
	}
	return k.Lo < other.Lo
}

// Equal reports whether k and other are the same 128-bit value.
func (k Key128) Equal(other Key128) bool {
	return k.Hi == other.Hi && k.Lo == other.Lo
}

// String renders the key in decimal, for logging and debugging.
func (k Key128) String() string {
	b := k.Bytes()
	return new(big.Int).SetBytes(b[:]).String()
}

// LowerBound returns the index of the first key in the sorted slice keys
// that is not less than target, or len(keys) if none qualifies. Both the
// exact-match and the insertion-point cases collapse to this single index
// under the "separator = max key of left subtree" convention (see
// spec.md §4.4): lookup, insert, and delete all descend to pointers[i].
func LowerBound(keys []Key128, target Key128) int {
	return sort.Search(len(keys), func(i int) bool {
		return !keys[i].Less(target)
	})
}
