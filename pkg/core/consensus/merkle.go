package consensus

import "github.com/TuyenPKT/EGG-Project/pkg/core/types"

func merkleParent(left, right types.Hash256) types.Hash256 {
	var buf [64]byte
	copy(buf[0:32], left[:])
	copy(buf[32:64], right[:])
	return HashDomain(DomainMerkle, buf[:])
}

// MerkleRoot computes the deterministic merkle root over a list of tx ids.
// An empty list hashes to the zero value; an odd fringe duplicates its
// last leaf.
func MerkleRoot(txids []types.Hash256) types.Hash256 {
	if len(txids) == 0 {
		return types.ZeroHash
	}

	layer := make([]types.Hash256, len(txids))
	copy(layer, txids)

	for len(layer) > 1 {
		next := make([]types.Hash256, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			l := layer[i]
			r := l
			if i+1 < len(layer) {
				r = layer[i+1]
			}
			next = append(next, merkleParent(l, r))
		}
		layer = next
	}
	return layer[0]
}
