package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader() BlockHeader {
	return BlockHeader{
		Parent:            Hash256{1},
		Height:            2,
		TimestampUTC:      1_700_000_123,
		Nonce:             999,
		MerkleRoot:        Hash256{2},
		PowDifficultyBits: 8,
	}
}

func TestHeaderEncodingIsFixedSize(t *testing.T) {
	h := sampleHeader()
	assert.Len(t, EncodeHeader(&h), HeaderEncodedLen)
}

func TestHeaderRoundtrip(t *testing.T) {
	h := sampleHeader()
	got, err := DecodeHeader(EncodeHeader(&h))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestTxRoundtrip(t *testing.T) {
	tx := Transaction{ID: Hash256{9}, Payload: []byte{1, 2, 3, 4, 5}}
	got, err := DecodeTx(EncodeTx(&tx))
	require.NoError(t, err)
	assert.Equal(t, tx, got)
}

func TestBlockRoundtrip(t *testing.T) {
	b := Block{
		Header: sampleHeader(),
		Txs: []Transaction{
			{ID: Hash256{3}, Payload: []byte{9, 9, 9}},
			{ID: Hash256{4}, Payload: []byte{1, 2, 3, 4}},
		},
	}
	got, err := DecodeBlock(EncodeBlock(&b))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestEmptyBlockRoundtrip(t *testing.T) {
	b := Block{Header: sampleHeader()}
	got, err := DecodeBlock(EncodeBlock(&b))
	require.NoError(t, err)
	assert.Equal(t, b.Header, got.Header)
	assert.Empty(t, got.Txs)
}

func TestInvalidMagicRejected(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderEncodedLen))
	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodecInvalidMagic, ce.Kind)
}

func TestTruncatedHeaderRejected(t *testing.T) {
	h := sampleHeader()
	enc := EncodeHeader(&h)
	_, err := DecodeHeader(enc[:50])
	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodecUnexpectedEOF, ce.Kind)
}

func TestTruncatedBlockTxRejected(t *testing.T) {
	b := Block{
		Header: sampleHeader(),
		Txs:    []Transaction{{ID: Hash256{3}, Payload: []byte{1, 2, 3}}},
	}
	enc := EncodeBlock(&b)
	_, err := DecodeBlock(enc[:len(enc)-1])
	require.Error(t, err)
}

func TestHashLess(t *testing.T) {
	a := Hash256{0x01}
	b := Hash256{0x02}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestHashHexRoundtrip(t *testing.T) {
	h := Hash256{0xde, 0xad, 0xbe, 0xef}
	back, err := HashFromHex(h.Hex())
	require.NoError(t, err)
	assert.Equal(t, h, back)

	_, err = HashFromHex("zz")
	assert.Error(t, err)

	_, err = HashFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}
