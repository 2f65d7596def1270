package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// HashSize is the length of all hashes in bytes.
const HashSize = 32

// Hash256 is an opaque 32-byte hash value, ordered by lexicographic byte
// compare. The all-zero value marks "no parent" on the genesis header.
type Hash256 [HashSize]byte

// ZeroHash is the all-zeroes hash.
var ZeroHash Hash256

// HashFromBytes creates a Hash256 from a byte slice. Returns an error if len != 32.
func HashFromBytes(b []byte) (Hash256, error) {
	if len(b) != HashSize {
		return Hash256{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash256
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses a hex-encoded string into a Hash256.
func HashFromHex(s string) (Hash256, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash256{}, fmt.Errorf("invalid hex: %w", err)
	}
	return HashFromBytes(b)
}

// Bytes returns the hash as a byte slice.
func (h Hash256) Bytes() []byte {
	return h[:]
}

// Hex returns the lowercase hex-encoded string.
func (h Hash256) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash256) String() string {
	return h.Hex()
}

// IsZero returns true if every byte is 0x00.
func (h Hash256) IsZero() bool {
	return h == ZeroHash
}

// Less reports whether h orders before other under lexicographic byte compare.
// This is the fork-choice tie-break order.
func (h Hash256) Less(other Hash256) bool {
	return bytes.Compare(h[:], other[:]) < 0
}
