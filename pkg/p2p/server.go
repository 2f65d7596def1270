package p2p

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TuyenPKT/EGG-Project/pkg/core/blockchain"
)

// Responder serves one inbound session: it answers GetHeaders from the
// canonical chain and GetBlock from the block store once the handshake
// completes.
type Responder struct {
	st   *blockchain.ChainState
	peer *PeerMachine
	io   *FramedConn
	log  *logrus.Entry
}

// NewResponder prepares an inbound session over an accepted connection.
func NewResponder(st *blockchain.ChainState, conn net.Conn, nodeNonce uint64, agent string) *Responder {
	tip := st.Tip()
	local := NodeInfo{
		ChainID:   st.Meta().ChainID,
		GenesisID: st.Meta().GenesisID,
		Tip:       Tip{Height: uint64(tip.Height), Hash: tip.Hash},
		NodeNonce: nodeNonce,
		Agent:     agent,
	}
	return &Responder{
		st:   st,
		peer: NewPeerMachine(RoleInbound, local),
		io:   NewFramedConn(conn),
		log:  logrus.WithField("role", "responder"),
	}
}

// RunResponderOnce accepts a single connection from the listener and serves
// it until the peer closes. A machine ban fails the session.
func RunResponderOnce(ctx context.Context, listener net.Listener, st *blockchain.ChainState) error {
	conn, err := listener.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	return NewResponder(st, conn, 2002, "egg-node/responder").Run(ctx)
}

// Run serves the session until the peer closes the connection.
func (r *Responder) Run(ctx context.Context) error {
	defer r.io.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := r.io.Recv(time.Now().Add(ioTick))
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			if IsClosed(err) {
				r.log.Debug("peer closed connection")
				return nil
			}
			return err
		}

		for _, m := range r.peer.OnMessage(msg) {
			if err := r.io.Send(m); err != nil {
				return err
			}
		}
		if r.peer.IsBanned() {
			return sessionErr("peer banned: %s", r.peer.BanReason())
		}

		if !r.peer.IsReady() {
			continue
		}

		switch m := msg.(type) {
		case GetHeaders:
			headers, err := r.st.GetHeadersAfter(m.Start, int(m.Max))
			if err != nil {
				return err
			}
			if err := r.io.Send(Headers{Headers: headers}); err != nil {
				return err
			}

		case GetBlock:
			have, err := r.st.Store().HasBlock(m.ID)
			if err != nil {
				return err
			}
			if !have {
				if err := r.io.Send(BlockNotFound{ID: m.ID}); err != nil {
					return err
				}
				continue
			}
			blk, err := r.st.Store().GetBlock(m.ID)
			if err != nil {
				return err
			}
			if err := r.io.Send(BlockFound{ID: m.ID, Block: blk}); err != nil {
				return err
			}
		}
	}
}
