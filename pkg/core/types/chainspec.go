package types

// ChainSpec defines the network parameters and the genesis block.
// The genesis timestamp is the official chain start (UTC seconds).
type ChainSpec struct {
	SpecVersion uint32      `toml:"spec_version"`
	Chain       ChainParams `toml:"chain"`
	Genesis     GenesisSpec `toml:"genesis"`
}

// ChainParams names the network.
type ChainParams struct {
	ChainName string `toml:"chain_name"`
	ChainID   uint32 `toml:"chain_id"`
}

// GenesisSpec fixes the genesis header fields.
type GenesisSpec struct {
	TimestampUTC      int64  `toml:"timestamp_utc"`
	PowDifficultyBits uint32 `toml:"pow_difficulty_bits"`
	Nonce             uint64 `toml:"nonce"`
}
