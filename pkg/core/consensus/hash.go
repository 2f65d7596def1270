package consensus

import (
	"math/bits"

	"golang.org/x/crypto/blake2b"

	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

// Domain tags for hash derivation. Every derived hash mixes a 16-byte
// domain ahead of the canonical payload so header ids, tx ids, and merkle
// nodes can never collide across kinds.
var (
	DomainHeader = [16]byte{'E', 'G', 'G', ':', 'H', 'D', 'R', ':', 'V', '0'}
	DomainTx     = [16]byte{'E', 'G', 'G', ':', 'T', 'X', ' ', ':', 'V', '0'}
	DomainMerkle = [16]byte{'E', 'G', 'G', ':', 'M', 'R', 'K', ':', 'V', '0'}
	DomainSpec   = [16]byte{'E', 'G', 'G', ':', 'S', 'P', 'C', ':', 'V', '0'}
)

// HashDomain computes blake2b-256 over domain || payload.
func HashDomain(domain [16]byte, payload []byte) types.Hash256 {
	buf := make([]byte, 0, len(domain)+len(payload))
	buf = append(buf, domain[:]...)
	buf = append(buf, payload...)
	return types.Hash256(blake2b.Sum256(buf))
}

// HeaderID derives a header's identity, which is also its block's id.
func HeaderID(h *types.BlockHeader) types.Hash256 {
	return HashDomain(DomainHeader, types.EncodeHeader(h))
}

// TxIDFromPayload derives a transaction id from its payload alone.
func TxIDFromPayload(payload []byte) types.Hash256 {
	return HashDomain(DomainTx, types.EncodeTxBody(payload))
}

// ValidTxID reports whether tx.ID matches its payload.
func ValidTxID(tx *types.Transaction) bool {
	return tx.ID == TxIDFromPayload(tx.Payload)
}

// HashChainSpec derives the chainspec hash recorded in chain meta.
func HashChainSpec(spec *types.ChainSpec) types.Hash256 {
	return HashDomain(DomainSpec, types.EncodeChainSpec(spec))
}

// LeadingZeroBits counts leading zero bits of h in network byte order.
func LeadingZeroBits(h types.Hash256) uint32 {
	var count uint32
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		count += uint32(bits.LeadingZeros8(b))
		break
	}
	return count
}

// PowValid reports whether the header id meets the header's own difficulty
// target. Difficulty 0 always passes.
func PowValid(h *types.BlockHeader) bool {
	return LeadingZeroBits(HeaderID(h)) >= h.PowDifficultyBits
}
