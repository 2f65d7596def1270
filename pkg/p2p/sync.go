package p2p

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TuyenPKT/EGG-Project/pkg/core/blockchain"
	"github.com/TuyenPKT/EGG-Project/pkg/core/consensus"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

const (
	// BlockWindow is the block download pipeline width.
	BlockWindow = 16
	// MaxBlockRetries bounds resends per block id; total attempts are
	// MaxBlockRetries + 1.
	MaxBlockRetries = 2
	// PerReqResendAfter is how long a block request may stay unanswered
	// before it is resent.
	PerReqResendAfter = 2 * time.Second
	// SessionIdleTimeout fails a session that makes no progress.
	SessionIdleTimeout = 20 * time.Second
	// HeaderBatchMax is the default GetHeaders batch limit.
	HeaderBatchMax = 2000

	ioTick = 1 * time.Second
)

// SessionError is a fatal session failure (protocol violation, ban, idle
// timeout, or retry exhaustion).
type SessionError struct {
	Reason string
}

func (e *SessionError) Error() string { return "session failed: " + e.Reason }

func sessionErr(format string, args ...any) error {
	return &SessionError{Reason: fmt.Sprintf(format, args...)}
}

type inflightEntry struct {
	retries  int
	lastSent time.Time
}

// Syncer drives one headers-then-blocks session against a single remote.
type Syncer struct {
	st        *blockchain.ChainState
	peer      *PeerMachine
	io        *FramedConn
	log       *logrus.Entry
	nodeNonce uint64
	agent     string
	batchMax  uint32
}

// NewSyncer prepares a session over an established connection.
func NewSyncer(st *blockchain.ChainState, conn net.Conn, nodeNonce uint64, agent string, batchMax uint32) *Syncer {
	tip := st.Tip()
	local := NodeInfo{
		ChainID:   st.Meta().ChainID,
		GenesisID: st.Meta().GenesisID,
		Tip:       Tip{Height: uint64(tip.Height), Hash: tip.Hash},
		NodeNonce: nodeNonce,
		Agent:     agent,
	}
	peer := NewPeerMachine(RoleOutbound, local).EnableHeaderSync(batchMax)
	return &Syncer{
		st:        st,
		peer:      peer,
		io:        NewFramedConn(conn),
		log:       logrus.WithField("role", "syncer"),
		nodeNonce: nodeNonce,
		agent:     agent,
		batchMax:  batchMax,
	}
}

// RunSyncerOnce connects to addr and synchronizes st with the remote chain:
// handshake, headers loop, windowed block download, then a full best-chain
// validation. The context cancels the session.
func RunSyncerOnce(ctx context.Context, addr string, st *blockchain.ChainState, batchMax uint32) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	return NewSyncer(st, conn, 1001, "egg-node/syncer", batchMax).Run(ctx)
}

// Run executes the session on the prepared connection.
func (s *Syncer) Run(ctx context.Context) error {
	defer s.io.Close()

	for _, m := range s.peer.Start() {
		if err := s.io.Send(m); err != nil {
			return err
		}
	}

	downloaded, err := s.runHeaderPhase(ctx)
	if err != nil {
		return err
	}
	s.log.WithField("headers", len(downloaded)).Info("header phase complete")

	if err := s.runBlockPhase(ctx, downloaded); err != nil {
		return err
	}

	if err := s.st.ValidateBestChain(); err != nil {
		return err
	}
	tip := s.st.Tip()
	s.log.WithFields(logrus.Fields{"height": tip.Height, "hash": tip.Hash}).Info("sync complete")
	return nil
}

func (s *Syncer) forward(msgs []Message) error {
	for _, m := range msgs {
		if err := s.io.Send(m); err != nil {
			return err
		}
	}
	if s.peer.IsBanned() {
		return sessionErr("peer banned: %s", s.peer.BanReason())
	}
	return nil
}

// runHeaderPhase ingests header batches until the remote sends an empty
// batch, returning the downloaded ids in canonical order.
func (s *Syncer) runHeaderPhase(ctx context.Context) ([]types.Hash256, error) {
	var downloaded []types.Hash256
	lastProgress := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := s.io.Recv(time.Now().Add(ioTick))
		if err != nil {
			if IsTimeout(err) {
				if time.Since(lastProgress) >= SessionIdleTimeout {
					return nil, sessionErr("idle timeout waiting for headers")
				}
				continue
			}
			return nil, err
		}

		if hs, ok := msg.(Headers); ok {
			for _, h := range hs.Headers {
				id, _, err := s.st.IngestHeader(h)
				if err != nil {
					return nil, err
				}
				downloaded = append(downloaded, id)
			}
			lastProgress = time.Now()
		}

		if err := s.forward(s.peer.OnMessage(msg)); err != nil {
			return nil, err
		}

		if hs, ok := msg.(Headers); ok && len(hs.Headers) == 0 {
			return downloaded, nil
		}
	}
}

// runBlockPhase downloads the block bodies for the given ids through a
// fixed-width request window with per-request resends.
func (s *Syncer) runBlockPhase(ctx context.Context, ids []types.Hash256) error {
	// FIFO of ids still to request, deduped, skipping bodies already stored.
	var pending []types.Hash256
	seen := make(map[types.Hash256]struct{})
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		have, err := s.st.Store().HasBlock(id)
		if err != nil {
			return err
		}
		if !have {
			pending = append(pending, id)
		}
	}

	inflight := make(map[types.Hash256]*inflightEntry)
	lastProgress := time.Now()

	sendRequest := func(id types.Hash256) error {
		return s.io.Send(s.peer.RequestBlock(id))
	}

	for len(pending) > 0 || len(inflight) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Fill the window.
		for len(inflight) < BlockWindow && len(pending) > 0 {
			id := pending[0]
			pending = pending[1:]
			have, err := s.st.Store().HasBlock(id)
			if err != nil {
				return err
			}
			if have {
				continue
			}
			if err := sendRequest(id); err != nil {
				return err
			}
			inflight[id] = &inflightEntry{lastSent: time.Now()}
		}
		if len(pending) == 0 && len(inflight) == 0 {
			break
		}

		msg, err := s.io.Recv(time.Now().Add(ioTick))
		if err != nil {
			if !IsTimeout(err) {
				return err
			}
			if time.Since(lastProgress) >= SessionIdleTimeout {
				return sessionErr("idle timeout waiting for blocks")
			}
			// Resend every stale request; a request out of retries fails
			// the session.
			now := time.Now()
			for id, e := range inflight {
				if now.Sub(e.lastSent) < PerReqResendAfter {
					continue
				}
				if e.retries >= MaxBlockRetries {
					return sessionErr("block %s timed out after %d attempts", id, e.retries+1)
				}
				s.peer.NoteTimeout()
				if s.peer.IsBanned() {
					return sessionErr("peer banned: %s", s.peer.BanReason())
				}
				if err := sendRequest(id); err != nil {
					return err
				}
				e.retries++
				e.lastSent = now
				s.log.WithFields(logrus.Fields{"id": id, "retries": e.retries}).Debug("resent block request")
			}
			continue
		}

		if err := s.forward(s.peer.OnMessage(msg)); err != nil {
			return err
		}

		switch m := msg.(type) {
		case BlockFound:
			if _, ok := inflight[m.ID]; !ok {
				return sessionErr("block reply for id not inflight: %s", m.ID)
			}
			hasHeader, err := s.st.Store().HasHeader(m.ID)
			if err != nil {
				return err
			}
			if !hasHeader {
				return sessionErr("received block %s but local missing header", m.ID)
			}
			if consensus.HeaderID(&m.Block.Header) != m.ID {
				return sessionErr("block response id mismatch for %s", m.ID)
			}
			if _, _, err := s.st.IngestBlock(m.Block); err != nil {
				return err
			}
			delete(inflight, m.ID)
			lastProgress = time.Now()

		case BlockNotFound:
			e, ok := inflight[m.ID]
			if !ok {
				return sessionErr("notfound reply for id not inflight: %s", m.ID)
			}
			if e.retries >= MaxBlockRetries {
				return sessionErr("block %s not found after %d attempts", m.ID, e.retries+1)
			}
			e.retries++
			e.lastSent = time.Now()
			if err := sendRequest(m.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
