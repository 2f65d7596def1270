package miner

import (
	"fmt"

	"github.com/TuyenPKT/EGG-Project/pkg/core/consensus"
	"github.com/TuyenPKT/EGG-Project/pkg/core/mempool"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

const (
	// MaxTxsPerBlock bounds how many transactions a template drains.
	MaxTxsPerBlock = 10_000
	// DefaultMaxNonceTries bounds the nonce search.
	DefaultMaxNonceTries = 50_000_000
)

// PowNotFoundError is returned when the nonce search exhausts its budget.
type PowNotFoundError struct{ MaxTries uint64 }

func (e *PowNotFoundError) Error() string {
	return fmt.Sprintf("pow not found within %d nonce tries", e.MaxTries)
}

// BuildTemplate drains the mempool FIFO into a block template on the given
// parent, with the merkle root set and nonce 0 for the search to fill.
func BuildTemplate(mp *mempool.Mempool, parent types.Hash256, height types.Height, timestampUTC int64, powDifficultyBits uint32) (types.Block, error) {
	txs := mp.DrainFIFO(MaxTxsPerBlock)
	root, err := consensus.MerkleRootFromTxs(txs)
	if err != nil {
		return types.Block{}, err
	}

	return types.Block{
		Header: types.BlockHeader{
			Parent:            parent,
			Height:            height,
			TimestampUTC:      timestampUTC,
			Nonce:             0,
			MerkleRoot:        root,
			PowDifficultyBits: powDifficultyBits,
		},
		Txs: txs,
	}, nil
}

// Mine searches nonces until the header id satisfies its difficulty.
func Mine(block types.Block) (types.Block, error) {
	for tries := uint64(0); tries < DefaultMaxNonceTries; tries++ {
		if consensus.PowValid(&block.Header) {
			return block, nil
		}
		block.Header.Nonce++
	}
	return types.Block{}, &PowNotFoundError{MaxTries: DefaultMaxNonceTries}
}

// MineFromMempool builds a template from the mempool and mines it. If the
// search fails, the drained transactions are restored best-effort so they
// are not lost.
func MineFromMempool(mp *mempool.Mempool, parent types.Hash256, height types.Height, timestampUTC int64, powDifficultyBits uint32) (types.Block, error) {
	block, err := BuildTemplate(mp, parent, height, timestampUTC, powDifficultyBits)
	if err != nil {
		return types.Block{}, err
	}

	mined, err := Mine(block)
	if err != nil {
		for _, tx := range block.Txs {
			_, _ = mp.Add(tx)
		}
		return types.Block{}, err
	}
	return mined, nil
}
