package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayClient_SubmitMint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/mint", r.URL.Path)
		assert.Equal(t, "Bearer relay-token", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("Idempotency-Key"))

		var call MintCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		assert.Equal(t, "req-1", call.RequestID)
		assert.Len(t, call.Signatures, 2)

		_, _ = w.Write([]byte(`{"tx_hash":"0xabc"}`))
	}))
	defer srv.Close()

	c := NewRelayClient(RelayConfig{RelayURL: srv.URL, Token: "relay-token"})
	hash, err := c.SubmitMint(context.Background(), MintCall{RequestID: "req-1", Signatures: []string{"0x1", "0x2"}})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", hash)
}

func TestRelayClient_SubmitMintRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad signatures"}`))
	}))
	defer srv.Close()

	c := NewRelayClient(RelayConfig{RelayURL: srv.URL})
	_, err := c.SubmitMint(context.Background(), MintCall{RequestID: "req-1"})
	assert.ErrorIs(t, err, ErrRelayRejected)
}

func TestRelayClient_SubmitMintWithoutHashIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c := NewRelayClient(RelayConfig{RelayURL: srv.URL})
	_, err := c.SubmitMint(context.Background(), MintCall{RequestID: "req-1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRelayRejected, "a 2xx may already have broadcast")
}

func TestRelayClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"tx_hash":"0xabc"}`))
	}))
	defer srv.Close()

	c := NewRelayClient(RelayConfig{RelayURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.SubmitMint(context.Background(), MintCall{RequestID: "req-1"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func rpcServer(t *testing.T, result string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func TestRelayClient_GetReceipt(t *testing.T) {
	srv := rpcServer(t, `{"status":"0x1","blockNumber":"0x10"}`)
	defer srv.Close()

	c := NewRelayClient(RelayConfig{RPCURL: srv.URL})
	rcpt, err := c.GetReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	require.NotNil(t, rcpt)
	assert.True(t, rcpt.Success)
	assert.Equal(t, uint64(16), rcpt.BlockNumber)
}

func TestRelayClient_GetReceiptPending(t *testing.T) {
	srv := rpcServer(t, `null`)
	defer srv.Close()

	c := NewRelayClient(RelayConfig{RPCURL: srv.URL})
	rcpt, err := c.GetReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Nil(t, rcpt)
}

func TestRelayClient_Balances(t *testing.T) {
	srv := rpcServer(t, `"0x0de0b6b3a7640000"`) // 1e18
	defer srv.Close()

	c := NewRelayClient(RelayConfig{RPCURL: srv.URL, ContractAddress: "0x1111111111111111111111111111111111111111"})
	b, err := c.Balances(context.Background(), "0x3333333333333333333333333333333333333333")
	require.NoError(t, err)
	assert.Equal(t, "1", FormatUnits(b.Total, 18))
	assert.Equal(t, "1", FormatUnits(b.Locked, 18))
}
