package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TuyenPKT/EGG-Project/pkg/core/blockchain"
	"github.com/TuyenPKT/EGG-Project/pkg/core/consensus"
	"github.com/TuyenPKT/EGG-Project/pkg/core/mempool"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

func testState(t *testing.T) *blockchain.ChainState {
	t.Helper()
	spec := types.ChainSpec{
		SpecVersion: 1,
		Chain:       types.ChainParams{ChainName: "EGG-MAINNET", ChainID: 1},
		Genesis:     types.GenesisSpec{TimestampUTC: 1_700_000_000},
	}
	st, err := blockchain.OpenOrInit(blockchain.NewChainStore(blockchain.NewMemKV()), spec)
	require.NoError(t, err)
	return st
}

func TestStatusEndpoint(t *testing.T) {
	st := testState(t)
	srv := httptest.NewServer(NewServer(st, mempool.New(), nil).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ChainID uint32 `json:"chain_id"`
		Height  uint64 `json:"height"`
		TipHash string `json:"tip_hash"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, uint32(1), body.ChainID)
	assert.Equal(t, uint64(0), body.Height)
	assert.Equal(t, st.Tip().Hash.Hex(), body.TipHash)
}

func TestHeaderAndBlockEndpoints(t *testing.T) {
	st := testState(t)
	srv := httptest.NewServer(NewServer(st, mempool.New(), nil).Router())
	defer srv.Close()

	gid := st.Meta().GenesisID.Hex()

	resp, err := http.Get(srv.URL + "/header/" + gid)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/block/" + gid)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	missing := types.Hash256{0xaa}
	resp, err = http.Get(srv.URL + "/block/" + missing.Hex())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/block/not-hex")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitTx(t *testing.T) {
	st := testState(t)
	mp := mempool.New()
	srv := httptest.NewServer(NewServer(st, mp, nil).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tx", "application/json", strings.NewReader(`{"payload":"010203"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		TxID         string `json:"txid"`
		AlreadyKnown bool   `json:"already_known"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.AlreadyKnown)
	assert.Equal(t, consensus.TxIDFromPayload([]byte{1, 2, 3}).Hex(), body.TxID)
	assert.Equal(t, 1, mp.Len())

	resp2, err := http.Post(srv.URL+"/tx", "application/json", strings.NewReader(`{"payload":"010203"}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.True(t, body.AlreadyKnown)
}

func TestPeerHealthWithoutSession(t *testing.T) {
	st := testState(t)
	srv := httptest.NewServer(NewServer(st, mempool.New(), nil).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/peer/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		PenaltyScore int  `json:"penalty_score"`
		Banned       bool `json:"banned"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Zero(t, body.PenaltyScore)
	assert.False(t, body.Banned)
}
