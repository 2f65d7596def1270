package blockchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

func testHeader() types.BlockHeader {
	return types.BlockHeader{
		Parent:            types.ZeroHash,
		Height:            0,
		TimestampUTC:      1_700_000_000,
		Nonce:             0,
		MerkleRoot:        types.ZeroHash,
		PowDifficultyBits: 0,
	}
}

func TestStoreHeaderRoundtrip(t *testing.T) {
	s := NewChainStore(NewMemKV())
	hdr := testHeader()
	id := types.Hash256{1}

	ok, err := s.HasHeader(id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutHeader(id, &hdr))
	ok, err = s.HasHeader(id)
	require.NoError(t, err)
	assert.True(t, ok)

	back, err := s.GetHeader(id)
	require.NoError(t, err)
	assert.Equal(t, hdr, back)
}

func TestStoreBlockRoundtrip(t *testing.T) {
	s := NewChainStore(NewMemKV())
	blk := types.Block{Header: testHeader()}
	id := types.Hash256{2}

	require.NoError(t, s.PutBlock(id, &blk))
	ok, err := s.HasBlock(id)
	require.NoError(t, err)
	assert.True(t, ok)

	back, err := s.GetBlock(id)
	require.NoError(t, err)
	assert.Equal(t, blk.Header, back.Header)
}

func TestStoreTipRoundtrip(t *testing.T) {
	s := NewChainStore(NewMemKV())

	_, ok, err := s.GetTip()
	require.NoError(t, err)
	assert.False(t, ok)

	tip := types.ChainTip{Height: 123, Hash: types.Hash256{9}}
	require.NoError(t, s.SetTip(tip))

	back, ok, err := s.GetTip()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tip, back)
}

func TestStoreMetaRoundtrip(t *testing.T) {
	s := NewChainStore(NewMemKV())

	_, ok, err := s.GetMeta()
	require.NoError(t, err)
	assert.False(t, ok)

	m := types.ChainMeta{ChainID: 7, GenesisID: types.Hash256{1}, ChainSpecHash: types.Hash256{2}}
	require.NoError(t, s.SetMeta(m))

	back, ok, err := s.GetMeta()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m, back)
}

func TestStoreBlockMetaRoundtrip(t *testing.T) {
	s := NewChainStore(NewMemKV())
	id := types.Hash256{5}

	_, ok, err := s.GetBlockMeta(id)
	require.NoError(t, err)
	assert.False(t, ok)

	m := types.BlockMeta{Parent: types.Hash256{4}, Height: 11}
	require.NoError(t, s.PutBlockMeta(id, m))

	back, ok, err := s.GetBlockMeta(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m, back)
}

func TestAddChildIsIdempotent(t *testing.T) {
	s := NewChainStore(NewMemKV())
	parent := types.Hash256{1}
	child := types.Hash256{2}

	require.NoError(t, s.AddChild(parent, child))
	require.NoError(t, s.AddChild(parent, child))

	children, err := s.GetChildren(parent)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash256{child}, children)

	require.NoError(t, s.AddChild(parent, types.Hash256{3}))
	children, err = s.GetChildren(parent)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestCanonRoundtrip(t *testing.T) {
	s := NewChainStore(NewMemKV())

	_, ok, err := s.GetCanonHash(3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCanonHash(3, types.Hash256{7}))
	id, ok, err := s.GetCanonHash(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.Hash256{7}, id)
}

func TestStoreDecodeErrorOnBadMagic(t *testing.T) {
	kv := NewMemKV()
	s := NewChainStore(kv)

	// Corrupt the tip record directly.
	require.NoError(t, kv.Put([]byte("tip:"), make([]byte, 48)))
	_, _, err := s.GetTip()
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StoreDecode, se.Kind)

	// A header with a foreign magic fails decode too.
	id := types.Hash256{8}
	require.NoError(t, kv.Put(append([]byte("hdr:"), id[:]...), make([]byte, types.HeaderEncodedLen)))
	_, err = s.GetHeader(id)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StoreDecode, se.Kind)
}

func TestBadgerKVInMemory(t *testing.T) {
	kv, err := NewBadgerKV("")
	require.NoError(t, err)
	defer kv.Close()

	ok, err := kv.Has([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = kv.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, kv.Put([]byte("a"), []byte("1")))
	v, err := kv.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, kv.Del([]byte("a")))
	ok, err = kv.Has([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemKVPutGetDel(t *testing.T) {
	kv := NewMemKV()

	_, err := kv.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, kv.Put([]byte("a"), []byte("1")))
	v, err := kv.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, kv.Del([]byte("a")))
	ok, err := kv.Has([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}
