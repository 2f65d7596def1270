package types

// Height is a block's distance from genesis along its parent chain.
type Height uint64

// BlockHeader contains all consensus metadata for a block. Its identity is
// the domain-separated hash of the canonical encoding (see consensus.HeaderID).
type BlockHeader struct {
	Parent            Hash256
	Height            Height
	TimestampUTC      int64
	Nonce             uint64
	MerkleRoot        Hash256
	PowDifficultyBits uint32
}

// Transaction is an opaque payload keyed by its payload hash.
// ID must equal the domain-separated hash of the canonical tx body.
type Transaction struct {
	ID      Hash256
	Payload []byte
}

// Block is a complete block: header plus ordered transactions.
// Header.MerkleRoot must equal the merkle root over the tx ids.
type Block struct {
	Header BlockHeader
	Txs    []Transaction
}

// ChainTip is the single authoritative best-chain pointer.
type ChainTip struct {
	Height Height
	Hash   Hash256
}

// BlockMeta is the traversal shadow of a stored header: its parent link and
// height, readable without decoding the full header.
type BlockMeta struct {
	Parent Hash256
	Height Height
}

// ChainMeta is the set-once identity of a store: written at genesis init,
// immutable thereafter.
type ChainMeta struct {
	ChainID       uint32
	GenesisID     Hash256
	ChainSpecHash Hash256
}
