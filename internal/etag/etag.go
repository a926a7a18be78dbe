package etag

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// Compute returns the version token for a serialized value.
// XXH3-128 is extremely fast and collision-resistant enough for optimistic
// concurrency; equal inputs always yield equal tokens.
// https://cyan4973.github.io/xxHash/
func Compute(serialized []byte) string {
	sum := xxh3.Hash128(serialized)
	return hex.EncodeToString(uint128ToBytes(sum))
}

// uint128ToBytes converts a uint128 to a byte array
func uint128ToBytes(a xxh3.Uint128) (b []byte) {
	b = make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], a.Lo)
	binary.LittleEndian.PutUint64(b[8:16], a.Hi)
	return
}
