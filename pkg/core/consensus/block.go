package consensus

import (
	"fmt"

	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

// TxIDError reports a transaction whose id does not match its payload.
type TxIDError struct {
	Index    int
	Expected types.Hash256
	Got      types.Hash256
}

func (e *TxIDError) Error() string {
	return fmt.Sprintf("invalid tx id at index %d: expected %s, got %s", e.Index, e.Expected, e.Got)
}

// MerkleMismatchError reports a header whose merkle root does not cover its txs.
type MerkleMismatchError struct {
	Expected types.Hash256
	Got      types.Hash256
}

func (e *MerkleMismatchError) Error() string {
	return fmt.Sprintf("merkle mismatch: expected %s, got %s", e.Expected, e.Got)
}

// MerkleRootFromTxs validates every tx id against its payload, then returns
// the merkle root over the ids.
func MerkleRootFromTxs(txs []types.Transaction) (types.Hash256, error) {
	leaves := make([]types.Hash256, len(txs))
	for i := range txs {
		if !ValidTxID(&txs[i]) {
			return types.Hash256{}, &TxIDError{
				Index:    i,
				Expected: TxIDFromPayload(txs[i].Payload),
				Got:      txs[i].ID,
			}
		}
		leaves[i] = txs[i].ID
	}
	return MerkleRoot(leaves), nil
}

// VerifyBlockMerkle checks that every tx id matches its payload and that the
// header's merkle root covers the tx list.
func VerifyBlockMerkle(b *types.Block) error {
	expected, err := MerkleRootFromTxs(b.Txs)
	if err != nil {
		return err
	}
	if b.Header.MerkleRoot != expected {
		return &MerkleMismatchError{Expected: expected, Got: b.Header.MerkleRoot}
	}
	return nil
}
