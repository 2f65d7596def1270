package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TuyenPKT/EGG-Project/pkg/core/consensus"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

func mkLocal() NodeInfo {
	return NodeInfo{
		ChainID:   1,
		GenesisID: types.Hash256{9},
		Tip:       Tip{Height: 0, Hash: types.ZeroHash},
		NodeNonce: 111,
		Agent:     "local",
	}
}

func mkAck() Message {
	return HelloAck{
		ChainID:   1,
		GenesisID: types.Hash256{9},
		Tip:       Tip{Height: 0, Hash: types.ZeroHash},
		NodeNonce: 222,
		Agent:     "remote",
	}
}

func mkHdr(parent types.Hash256, height types.Height, nonce uint64) types.BlockHeader {
	return types.BlockHeader{
		Parent:       parent,
		Height:       height,
		TimestampUTC: 1_700_000_000,
		Nonce:        nonce,
	}
}

func TestOutboundHandshake(t *testing.T) {
	p := NewPeerMachine(RoleOutbound, mkLocal())
	out := p.Start()
	require.Len(t, out, 1)
	_, isHello := out[0].(Hello)
	assert.True(t, isHello)
	assert.False(t, p.IsReady())

	out = p.OnMessage(mkAck())
	assert.True(t, p.IsReady())
	assert.Empty(t, out)
	require.NotNil(t, p.RemoteInfo())
	assert.Equal(t, "remote", p.RemoteInfo().Agent)
}

func TestInboundHandshakeAcksAndReady(t *testing.T) {
	p := NewPeerMachine(RoleInbound, mkLocal())
	assert.Empty(t, p.Start())

	out := p.OnMessage(Hello{ChainID: 1, Agent: "remote"})
	require.Len(t, out, 1)
	_, isAck := out[0].(HelloAck)
	assert.True(t, isAck)
	assert.True(t, p.IsReady())
}

func TestSyncKickoffAndCursorAdvance(t *testing.T) {
	p := NewPeerMachine(RoleOutbound, mkLocal()).EnableHeaderSync(2000)
	_ = p.Start()

	out := p.OnMessage(mkAck())
	require.Len(t, out, 1)
	gh, ok := out[0].(GetHeaders)
	require.True(t, ok)
	assert.Equal(t, types.ZeroHash, gh.Start)
	assert.Equal(t, uint32(2000), gh.Max)

	h1 := mkHdr(types.ZeroHash, 1, 1)
	h2 := mkHdr(consensus.HeaderID(&h1), 2, 2)
	out = p.OnMessage(Headers{Headers: []types.BlockHeader{h1, h2}})
	require.Len(t, out, 1)
	gh = out[0].(GetHeaders)
	assert.Equal(t, consensus.HeaderID(&h2), gh.Start)

	// Empty batch ends the loop.
	out = p.OnMessage(Headers{})
	assert.Empty(t, out)
}

func TestPingPong(t *testing.T) {
	p := NewPeerMachine(RoleOutbound, mkLocal())
	_ = p.Start()
	_ = p.OnMessage(mkAck())

	out := p.OnMessage(Ping{Nonce: 5})
	require.Len(t, out, 1)
	assert.Equal(t, Message(Pong{Nonce: 5}), out[0])

	assert.Empty(t, p.OnMessage(Pong{Nonce: 5}))
}

func TestPenaltyBanRequiresThresholdNotImmediate(t *testing.T) {
	p := NewPeerMachine(RoleOutbound, mkLocal())
	t0 := time.Now()
	_ = p.onMessageAt(mkAck(), t0)
	require.True(t, p.IsReady())

	h := mkHdr(types.ZeroHash, 1, 1)
	id := consensus.HeaderID(&h)
	blk := types.Block{Header: h}

	// Unsolicited reply: 55 points, below the threshold.
	_ = p.onMessageAt(BlockFound{ID: id, Block: blk}, t0.Add(1*time.Second))
	assert.False(t, p.IsBanned())
	assert.Equal(t, 55, p.PenaltyScore())

	// Second inside the decay window crosses 100.
	_ = p.onMessageAt(BlockFound{ID: id, Block: blk}, t0.Add(2*time.Second))
	assert.True(t, p.IsBanned())
	assert.Contains(t, p.BanReason(), "threshold")

	// A banned machine ignores input and emits nothing.
	assert.Empty(t, p.onMessageAt(Ping{Nonce: 1}, t0.Add(3*time.Second)))
}

func TestPenaltyDecaysOverTime(t *testing.T) {
	p := NewPeerMachine(RoleOutbound, mkLocal())
	t0 := time.Now()
	_ = p.onMessageAt(mkAck(), t0)

	h := mkHdr(types.ZeroHash, 1, 1)
	id := consensus.HeaderID(&h)

	_ = p.onMessageAt(BlockFound{ID: id, Block: types.Block{Header: h}}, t0.Add(1*time.Second))
	assert.Equal(t, 55, p.PenaltyScore())

	// 60 s later: six decay steps wipe the score.
	_ = p.onMessageAt(Pong{Nonce: 1}, t0.Add(61*time.Second))
	assert.Equal(t, 0, p.PenaltyScore())
	assert.False(t, p.IsBanned())
}

func TestReplyWithoutKnownHeaderPenalized(t *testing.T) {
	p := NewPeerMachine(RoleOutbound, mkLocal())
	t0 := time.Now()
	_ = p.onMessageAt(mkAck(), t0)

	id := types.Hash256{8}

	_ = p.RequestBlock(id)
	_ = p.onMessageAt(BlockNotFound{ID: id}, t0.Add(1*time.Second))
	assert.False(t, p.IsBanned())
	assert.Equal(t, 65, p.PenaltyScore())

	_ = p.RequestBlock(id)
	_ = p.onMessageAt(BlockNotFound{ID: id}, t0.Add(2*time.Second))
	assert.True(t, p.IsBanned())
}

func TestBlockIDMismatchPenalized(t *testing.T) {
	p := NewPeerMachine(RoleOutbound, mkLocal())
	t0 := time.Now()
	_ = p.onMessageAt(mkAck(), t0)

	h := mkHdr(types.ZeroHash, 1, 1)
	id := consensus.HeaderID(&h)
	_ = p.onMessageAt(Headers{Headers: []types.BlockHeader{h}}, t0.Add(1*time.Second))

	_ = p.RequestBlock(id)
	wrong := mkHdr(types.ZeroHash, 1, 2)
	_ = p.onMessageAt(BlockFound{ID: id, Block: types.Block{Header: wrong}}, t0.Add(2*time.Second))
	assert.Equal(t, 70, p.PenaltyScore())
	assert.False(t, p.IsBanned())
}

func TestBanAfterTooManyDistinctNotFoundIDs(t *testing.T) {
	p := NewPeerMachine(RoleOutbound, mkLocal())
	t0 := time.Now()
	_ = p.onMessageAt(mkAck(), t0)

	var headers []types.BlockHeader
	for i := uint64(1); i <= uint64(maxDistinctNotFoundIDs)+1; i++ {
		headers = append(headers, mkHdr(types.ZeroHash, types.Height(i), 10_000+i))
	}
	_ = p.onMessageAt(Headers{Headers: headers}, t0.Add(1*time.Second))

	for idx, h := range headers {
		id := consensus.HeaderID(&h)
		_ = p.RequestBlock(id)
		_ = p.onMessageAt(BlockNotFound{ID: id}, t0.Add(time.Duration(2+idx)*time.Second))

		if idx < maxDistinctNotFoundIDs {
			require.False(t, p.IsBanned(), "should not be banned yet at idx=%d", idx)
		} else {
			require.True(t, p.IsBanned(), "should be banned at idx=%d", idx)
		}
	}
	assert.Positive(t, p.DistinctNotFoundCount())
}

func TestNoteTimeoutAddsPenalty(t *testing.T) {
	p := NewPeerMachine(RoleOutbound, mkLocal())
	t0 := time.Now()
	_ = p.onMessageAt(mkAck(), t0)

	p.noteTimeoutAt(t0.Add(1 * time.Second))
	assert.Equal(t, 8, p.PenaltyScore())
	assert.False(t, p.IsBanned())
}
