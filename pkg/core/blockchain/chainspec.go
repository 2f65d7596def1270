package blockchain

import (
	"errors"

	"github.com/TuyenPKT/EGG-Project/pkg/core/consensus"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

var (
	ErrSpecVersionZero  = errors.New("chainspec: spec_version must be > 0")
	ErrSpecNameEmpty    = errors.New("chainspec: chain.chain_name must be non-empty")
	ErrSpecBadTimestamp = errors.New("chainspec: genesis.timestamp_utc must be > 0 (UTC seconds)")
)

// ValidateChainSpec checks the structural invariants of a chainspec.
func ValidateChainSpec(spec *types.ChainSpec) error {
	if spec.SpecVersion == 0 {
		return ErrSpecVersionZero
	}
	if spec.Chain.ChainName == "" {
		return ErrSpecNameEmpty
	}
	if spec.Genesis.TimestampUTC <= 0 {
		return ErrSpecBadTimestamp
	}
	return nil
}

// GenesisHeader derives the genesis header from a chainspec. Genesis always
// has a zero parent, height 0, and an empty-tx merkle root.
func GenesisHeader(spec *types.ChainSpec) (types.BlockHeader, error) {
	if err := ValidateChainSpec(spec); err != nil {
		return types.BlockHeader{}, err
	}
	return types.BlockHeader{
		Parent:            types.ZeroHash,
		Height:            0,
		TimestampUTC:      spec.Genesis.TimestampUTC,
		Nonce:             spec.Genesis.Nonce,
		MerkleRoot:        types.ZeroHash,
		PowDifficultyBits: spec.Genesis.PowDifficultyBits,
	}, nil
}

// GenesisBlock derives the deterministic genesis block: header plus no txs.
func GenesisBlock(spec *types.ChainSpec) (types.Block, error) {
	header, err := GenesisHeader(spec)
	if err != nil {
		return types.Block{}, err
	}
	return types.Block{Header: header}, nil
}

// GenesisID derives the genesis block id from a chainspec.
func GenesisID(spec *types.ChainSpec) (types.Hash256, error) {
	header, err := GenesisHeader(spec)
	if err != nil {
		return types.Hash256{}, err
	}
	return consensus.HeaderID(&header), nil
}

// GenesisPowValid reports whether the chainspec's nonce satisfies its own
// difficulty. Specs with difficulty_bits > 0 must ship a matching nonce.
func GenesisPowValid(spec *types.ChainSpec) (bool, error) {
	header, err := GenesisHeader(spec)
	if err != nil {
		return false, err
	}
	return consensus.PowValid(&header), nil
}
