package blockchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

func TestValidateChainSpecRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.ChainSpec)
		want   error
	}{
		{"zero version", func(s *types.ChainSpec) { s.SpecVersion = 0 }, ErrSpecVersionZero},
		{"empty name", func(s *types.ChainSpec) { s.Chain.ChainName = "" }, ErrSpecNameEmpty},
		{"zero timestamp", func(s *types.ChainSpec) { s.Genesis.TimestampUTC = 0 }, ErrSpecBadTimestamp},
		{"negative timestamp", func(s *types.ChainSpec) { s.Genesis.TimestampUTC = -1 }, ErrSpecBadTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := mkSpec(1_700_000_000)
			tt.mutate(&spec)
			assert.ErrorIs(t, ValidateChainSpec(&spec), tt.want)
		})
	}
}

func TestGenesisHeaderFields(t *testing.T) {
	spec := mkSpec(1_700_000_000)
	hdr, err := GenesisHeader(&spec)
	require.NoError(t, err)
	assert.Equal(t, types.ZeroHash, hdr.Parent)
	assert.Equal(t, types.Height(0), hdr.Height)
	assert.Equal(t, spec.Genesis.TimestampUTC, hdr.TimestampUTC)
	assert.Equal(t, types.ZeroHash, hdr.MerkleRoot)
}

func TestGenesisIDIsStable(t *testing.T) {
	spec := mkSpec(1_700_000_000)
	a, err := GenesisID(&spec)
	require.NoError(t, err)
	b, err := GenesisID(&spec)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, types.ZeroHash, a)

	other := mkSpec(1_700_000_001)
	c, err := GenesisID(&other)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenesisPowValidWhenDifficultyZero(t *testing.T) {
	spec := mkSpec(1_700_000_000)
	ok, err := GenesisPowValid(&spec)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenesisBlockIsDeterministicAndDecodable(t *testing.T) {
	spec := mkSpec(1_700_000_000)
	blk, err := GenesisBlock(&spec)
	require.NoError(t, err)

	dec, err := types.DecodeBlock(types.EncodeBlock(&blk))
	require.NoError(t, err)
	assert.Equal(t, blk.Header, dec.Header)
	assert.Empty(t, dec.Txs)
}
