package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/TuyenPKT/EGG-Project/pkg/core/blockchain"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

// DefaultChainSpec is the mainnet chainspec the node falls back to when no
// file is supplied.
func DefaultChainSpec() types.ChainSpec {
	return types.ChainSpec{
		SpecVersion: 1,
		Chain: types.ChainParams{
			ChainName: "EGG-MAINNET",
			ChainID:   1,
		},
		Genesis: types.GenesisSpec{
			TimestampUTC:      1_700_000_000,
			PowDifficultyBits: 0,
			Nonce:             0,
		},
	}
}

// LoadChainSpec reads and validates a TOML chainspec file.
func LoadChainSpec(path string) (types.ChainSpec, error) {
	var spec types.ChainSpec
	if _, err := toml.DecodeFile(path, &spec); err != nil {
		return types.ChainSpec{}, err
	}
	if err := blockchain.ValidateChainSpec(&spec); err != nil {
		return types.ChainSpec{}, err
	}
	return spec, nil
}

// SaveChainSpec validates and writes a chainspec as TOML.
func SaveChainSpec(path string, spec types.ChainSpec) error {
	if err := blockchain.ValidateChainSpec(&spec); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(spec)
}
