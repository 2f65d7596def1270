package p2p

import (
	"fmt"
	"time"

	"github.com/TuyenPKT/EGG-Project/pkg/core/consensus"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

const (
	maxNotFoundPerID       = 2
	maxDistinctNotFoundIDs = 16

	penaltyBanThreshold = 100

	// Lazy decay: every full decay window elapsed since the last decay
	// subtracts one decay step from the score.
	penaltyDecayEvery = 10 * time.Second
	penaltyDecayStep  = 10

	penaltyUnsolicitedReply        = 55
	penaltyReplyWithoutKnownHeader = 65
	penaltyBlockIDMismatch         = 70
	penaltyBlockNotFound           = 5
	penaltyTooManyNotFoundPerID    = 25
	penaltyTooManyDistinctNotFound = 40
	penaltyTimeout                 = 8
)

// Role marks which side initiated the connection.
type Role int

const (
	RoleInbound Role = iota
	RoleOutbound
)

// HandshakeState tracks handshake progress.
type HandshakeState int

const (
	HandshakeInit HandshakeState = iota
	HandshakeSentHello
	HandshakeReceivedHello
	HandshakeReady
)

// NodeInfo is the identity either side advertises during handshake.
type NodeInfo struct {
	ChainID   uint32
	GenesisID types.Hash256
	Tip       Tip
	NodeNonce uint64
	Agent     string
}

// PeerMachine is the purely computational per-connection protocol state:
// it consumes one message and a clock, and returns the outbound messages.
// It performs no I/O and never blocks.
type PeerMachine struct {
	role   Role
	hs     HandshakeState
	local  NodeInfo
	remote *NodeInfo

	syncEnabled     bool
	syncCursorStart types.Hash256
	syncBatchMax    uint32

	banReason string

	knownHeaderIDs map[types.Hash256]struct{}
	inflightBlocks map[types.Hash256]struct{}

	notFoundByID       map[types.Hash256]uint8
	notFoundDistinctID map[types.Hash256]struct{}

	penaltyScore     int
	penaltyLastDecay time.Time
}

// NewPeerMachine creates a machine for one connection. The local tip hash is
// pre-seeded into the known-header set.
func NewPeerMachine(role Role, local NodeInfo) *PeerMachine {
	known := map[types.Hash256]struct{}{local.Tip.Hash: {}}
	return &PeerMachine{
		role:               role,
		hs:                 HandshakeInit,
		local:              local,
		syncCursorStart:    local.Tip.Hash,
		syncBatchMax:       2000,
		knownHeaderIDs:     known,
		inflightBlocks:     make(map[types.Hash256]struct{}),
		notFoundByID:       make(map[types.Hash256]uint8),
		notFoundDistinctID: make(map[types.Hash256]struct{}),
		penaltyLastDecay:   time.Now(),
	}
}

// EnableHeaderSync turns on the headers-first cursor with the given batch
// limit; the cursor starts at the local tip.
func (p *PeerMachine) EnableHeaderSync(batchMax uint32) *PeerMachine {
	p.syncEnabled = true
	if batchMax < 1 {
		batchMax = 1
	}
	p.syncBatchMax = batchMax
	p.syncCursorStart = p.local.Tip.Hash
	return p
}

// IsReady reports whether the handshake completed.
func (p *PeerMachine) IsReady() bool { return p.hs == HandshakeReady }

// RemoteInfo returns the remote identity once a Hello arrived.
func (p *PeerMachine) RemoteInfo() *NodeInfo { return p.remote }

// IsBanned reports whether the penalty score crossed the ban threshold.
func (p *PeerMachine) IsBanned() bool { return p.banReason != "" }

// BanReason returns the triggering reason, or empty when not banned.
func (p *PeerMachine) BanReason() string { return p.banReason }

// PenaltyScore returns the current (decayed-at-last-event) score.
func (p *PeerMachine) PenaltyScore() int { return p.penaltyScore }

// DistinctNotFoundCount returns how many distinct ids were reported missing.
func (p *PeerMachine) DistinctNotFoundCount() int { return len(p.notFoundDistinctID) }

// InflightBlockCount returns the number of unanswered block requests.
func (p *PeerMachine) InflightBlockCount() int { return len(p.inflightBlocks) }

func (p *PeerMachine) ban(reason string) {
	if p.banReason == "" {
		p.banReason = reason
	}
}

func (p *PeerMachine) applyDecay(now time.Time) {
	elapsed := now.Sub(p.penaltyLastDecay)
	if elapsed < 0 {
		p.penaltyLastDecay = now
		return
	}
	steps := int(elapsed / penaltyDecayEvery)
	if steps == 0 {
		return
	}
	p.penaltyScore -= steps * penaltyDecayStep
	if p.penaltyScore < 0 {
		p.penaltyScore = 0
	}
	p.penaltyLastDecay = now
}

func (p *PeerMachine) addPenalty(now time.Time, points int, why string) {
	if p.IsBanned() {
		return
	}
	p.applyDecay(now)
	p.penaltyScore += points
	if p.penaltyScore >= penaltyBanThreshold {
		p.ban(fmt.Sprintf("penalty threshold exceeded: score=%d reason=%s", p.penaltyScore, why))
	}
}

// NoteTimeout records a request timeout against the peer.
func (p *PeerMachine) NoteTimeout() {
	p.noteTimeoutAt(time.Now())
}

func (p *PeerMachine) noteTimeoutAt(now time.Time) {
	p.addPenalty(now, penaltyTimeout, "timeout")
}

// Start kicks off the handshake. Outbound machines emit Hello; everything
// else waits for the remote.
func (p *PeerMachine) Start() []Message {
	if p.IsBanned() {
		return nil
	}
	if p.role == RoleOutbound && p.hs == HandshakeInit {
		p.hs = HandshakeSentHello
		return []Message{Hello{
			ChainID:   p.local.ChainID,
			GenesisID: p.local.GenesisID,
			Tip:       p.local.Tip,
			NodeNonce: p.local.NodeNonce,
			Agent:     p.local.Agent,
		}}
	}
	return nil
}

func (p *PeerMachine) makeGetHeaders(start types.Hash256) Message {
	return GetHeaders{Start: start, Max: p.syncBatchMax}
}

// RequestBlock records id as inflight and returns the request to send.
func (p *PeerMachine) RequestBlock(id types.Hash256) Message {
	p.inflightBlocks[id] = struct{}{}
	return GetBlock{ID: id}
}

func (p *PeerMachine) markRemote(chainID uint32, genesisID types.Hash256, tip Tip, nodeNonce uint64, agent string) {
	p.remote = &NodeInfo{
		ChainID:   chainID,
		GenesisID: genesisID,
		Tip:       tip,
		NodeNonce: nodeNonce,
		Agent:     agent,
	}
}

func (p *PeerMachine) maybeSyncKickoff() []Message {
	if p.syncEnabled && p.hs == HandshakeReady {
		return []Message{p.makeGetHeaders(p.syncCursorStart)}
	}
	return nil
}

// hardeningOnBlockReply validates the reply against the inflight and known
// header sets. Returns false when the reply must be dropped.
func (p *PeerMachine) hardeningOnBlockReply(now time.Time, id types.Hash256) bool {
	if _, ok := p.inflightBlocks[id]; !ok {
		p.addPenalty(now, penaltyUnsolicitedReply, "unsolicited block reply")
		return false
	}
	delete(p.inflightBlocks, id)

	if _, ok := p.knownHeaderIDs[id]; !ok {
		p.addPenalty(now, penaltyReplyWithoutKnownHeader, "block reply without known header")
		return false
	}
	return true
}

func (p *PeerMachine) hardeningOnNotFound(now time.Time, id types.Hash256) {
	p.addPenalty(now, penaltyBlockNotFound, "BlockNotFound")

	p.notFoundByID[id]++
	count := p.notFoundByID[id]

	// Per-id escalation: repeated misses for one id add points, never an
	// immediate ban.
	if count > maxNotFoundPerID {
		p.addPenalty(now, penaltyTooManyNotFoundPerID, "too many BlockNotFound per id")
	}

	if count == 1 {
		prev := len(p.notFoundDistinctID)
		p.notFoundDistinctID[id] = struct{}{}
		if prev <= maxDistinctNotFoundIDs && len(p.notFoundDistinctID) > maxDistinctNotFoundIDs {
			p.addPenalty(now, penaltyTooManyDistinctNotFound, "too many distinct BlockNotFound ids")
		}
	}
}

func (p *PeerMachine) hardeningOnFound(id types.Hash256) {
	delete(p.notFoundByID, id)
	delete(p.notFoundDistinctID, id)
}

// OnMessage consumes one inbound message at the current wall clock.
func (p *PeerMachine) OnMessage(msg Message) []Message {
	return p.onMessageAt(msg, time.Now())
}

func (p *PeerMachine) onMessageAt(msg Message, now time.Time) []Message {
	if p.IsBanned() {
		return nil
	}

	p.applyDecay(now)

	switch m := msg.(type) {
	case Hello:
		p.markRemote(m.ChainID, m.GenesisID, m.Tip, m.NodeNonce, m.Agent)
		if p.hs == HandshakeInit {
			p.hs = HandshakeReceivedHello
		}
		out := []Message{HelloAck{
			ChainID:   p.local.ChainID,
			GenesisID: p.local.GenesisID,
			Tip:       p.local.Tip,
			NodeNonce: p.local.NodeNonce,
			Agent:     p.local.Agent,
		}}
		p.hs = HandshakeReady
		return append(out, p.maybeSyncKickoff()...)

	case HelloAck:
		p.markRemote(m.ChainID, m.GenesisID, m.Tip, m.NodeNonce, m.Agent)
		p.hs = HandshakeReady
		return p.maybeSyncKickoff()

	case GetHeaders:
		// Answered by the session using the chain state, not the machine.
		return nil

	case Headers:
		// Record ids even when sync is off: replies are validated against
		// the known-header set.
		for i := range m.Headers {
			id := consensus.HeaderID(&m.Headers[i])
			p.knownHeaderIDs[id] = struct{}{}
		}
		if !p.syncEnabled || len(m.Headers) == 0 {
			return nil
		}
		last := m.Headers[len(m.Headers)-1]
		p.syncCursorStart = consensus.HeaderID(&last)
		return []Message{p.makeGetHeaders(p.syncCursorStart)}

	case GetBlock:
		return nil

	case BlockFound:
		if !p.hardeningOnBlockReply(now, m.ID) {
			return nil
		}
		if consensus.HeaderID(&m.Block.Header) != m.ID {
			p.addPenalty(now, penaltyBlockIDMismatch, "BlockFound id mismatch")
			return nil
		}
		p.hardeningOnFound(m.ID)
		return nil

	case BlockNotFound:
		if !p.hardeningOnBlockReply(now, m.ID) {
			return nil
		}
		p.hardeningOnNotFound(now, m.ID)
		return nil

	case Ping:
		return []Message{Pong{Nonce: m.Nonce}}

	case Pong:
		return nil
	}
	return nil
}
