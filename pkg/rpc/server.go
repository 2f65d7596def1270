package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/TuyenPKT/EGG-Project/pkg/core/blockchain"
	"github.com/TuyenPKT/EGG-Project/pkg/core/consensus"
	"github.com/TuyenPKT/EGG-Project/pkg/core/mempool"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
	"github.com/TuyenPKT/EGG-Project/pkg/p2p"
)

// PeerHealthSource reports per-connection protocol telemetry.
type PeerHealthSource interface {
	PenaltyScore() int
	DistinctNotFoundCount() int
	InflightBlockCount() int
	IsBanned() bool
	BanReason() string
}

var _ PeerHealthSource = (*p2p.PeerMachine)(nil)

// Server is the node's HTTP observability and submission surface.
type Server struct {
	st   *blockchain.ChainState
	mp   *mempool.Mempool
	peer PeerHealthSource
	log  *logrus.Entry
}

// NewServer builds a server over the chain state and mempool. peer may be
// nil when no session is active.
func NewServer(st *blockchain.ChainState, mp *mempool.Mempool, peer PeerHealthSource) *Server {
	return &Server{st: st, mp: mp, peer: peer, log: logrus.WithField("component", "rpc")}
}

// Router wires the chi routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Get("/block/{id}", s.handleBlock)
	r.Get("/header/{id}", s.handleHeader)
	r.Get("/peer/health", s.handlePeerHealth)
	r.Post("/tx", s.handleSubmitTx)
	return r
}

// Start serves the router on addr; it blocks.
func (s *Server) Start(addr string) error {
	s.log.WithField("addr", addr).Info("rpc listening")
	return http.ListenAndServe(addr, s.Router())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tip := s.st.Tip()
	meta := s.st.Meta()
	writeJSON(w, struct {
		ChainID     uint32 `json:"chain_id"`
		GenesisID   string `json:"genesis_id"`
		Height      uint64 `json:"height"`
		TipHash     string `json:"tip_hash"`
		MempoolSize int    `json:"mempool_size"`
	}{
		ChainID:     meta.ChainID,
		GenesisID:   meta.GenesisID.Hex(),
		Height:      uint64(tip.Height),
		TipHash:     tip.Hash.Hex(),
		MempoolSize: s.mp.Len(),
	})
}

func parseID(w http.ResponseWriter, r *http.Request) (types.Hash256, bool) {
	id, err := types.HashFromHex(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid hash format", http.StatusBadRequest)
		return types.Hash256{}, false
	}
	return id, true
}

// GET /block/{id}
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	have, err := s.st.Store().HasBlock(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !have {
		http.Error(w, "block not found", http.StatusNotFound)
		return
	}
	blk, err := s.st.Store().GetBlock(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	txs := make([]struct {
		ID      string `json:"id"`
		Payload string `json:"payload"`
	}, len(blk.Txs))
	for i, tx := range blk.Txs {
		txs[i].ID = tx.ID.Hex()
		txs[i].Payload = hex.EncodeToString(tx.Payload)
	}
	writeJSON(w, struct {
		Header headerJSON `json:"header"`
		Txs    any        `json:"txs"`
	}{Header: headerToJSON(&blk.Header), Txs: txs})
}

type headerJSON struct {
	Parent            string `json:"parent"`
	Height            uint64 `json:"height"`
	TimestampUTC      int64  `json:"timestamp_utc"`
	Nonce             uint64 `json:"nonce"`
	MerkleRoot        string `json:"merkle_root"`
	PowDifficultyBits uint32 `json:"pow_difficulty_bits"`
}

func headerToJSON(h *types.BlockHeader) headerJSON {
	return headerJSON{
		Parent:            h.Parent.Hex(),
		Height:            uint64(h.Height),
		TimestampUTC:      h.TimestampUTC,
		Nonce:             h.Nonce,
		MerkleRoot:        h.MerkleRoot.Hex(),
		PowDifficultyBits: h.PowDifficultyBits,
	}
}

// GET /header/{id}
func (s *Server) handleHeader(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	have, err := s.st.Store().HasHeader(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !have {
		http.Error(w, "header not found", http.StatusNotFound)
		return
	}
	hdr, err := s.st.Store().GetHeader(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, headerToJSON(&hdr))
}

// GET /peer/health
func (s *Server) handlePeerHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		PenaltyScore        int    `json:"penalty_score"`
		DistinctNotFoundIDs int    `json:"distinct_notfound_ids"`
		InflightBlocks      int    `json:"inflight_blocks"`
		Banned              bool   `json:"banned"`
		BanReason           string `json:"ban_reason,omitempty"`
	}{}
	if s.peer != nil {
		resp.PenaltyScore = s.peer.PenaltyScore()
		resp.DistinctNotFoundIDs = s.peer.DistinctNotFoundCount()
		resp.InflightBlocks = s.peer.InflightBlockCount()
		resp.Banned = s.peer.IsBanned()
		resp.BanReason = s.peer.BanReason()
	}
	writeJSON(w, resp)
}

// POST /tx  {"payload": "<hex>"}
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		http.Error(w, "invalid payload hex", http.StatusBadRequest)
		return
	}

	tx := types.Transaction{ID: consensus.TxIDFromPayload(payload), Payload: payload}
	outcome, err := s.mp.Add(tx)
	if err != nil {
		http.Error(w, "rejected: "+err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, struct {
		TxID         string `json:"txid"`
		AlreadyKnown bool   `json:"already_known"`
	}{TxID: tx.ID.Hex(), AlreadyKnown: outcome == mempool.AlreadyKnown})
}
