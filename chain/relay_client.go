package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

var (
	// ErrTimeout is returned when the relay or RPC node does not answer in time.
	ErrTimeout = errors.New("chain: request timed out")
	// ErrRelayRejected is returned for a non-2xx relay answer.
	ErrRelayRejected = errors.New("chain: relay rejected request")
)

// MintCall is what the relay needs to broadcast a multi-signed mint.
type MintCall struct {
	RequestID   string   `json:"request_id"`
	Contract    string   `json:"contract"`
	Recipient   string   `json:"recipient"`
	Amount      string   `json:"amount"` // base units, decimal string
	ActionsHash string   `json:"actions_hash"`
	Nonce       string   `json:"nonce"`
	Deadline    int64    `json:"deadline"`
	Signatures  []string `json:"signatures"`
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	Success     bool   `json:"success"`
	BlockNumber uint64 `json:"block_number"`
}

// Balances are the token balances read from the contract.
type Balances struct {
	Wallet string   `json:"wallet"`
	Total  *big.Int `json:"total"`
	Locked *big.Int `json:"locked"`
}

type RelayConfig struct {
	RelayURL        string
	RPCURL          string
	Token           string
	ContractAddress string
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
}

// RelayClient submits mints through the signing relay and reads chain state
// from a JSON-RPC node. Every call is bounded by Timeout.
type RelayClient struct {
	relayURL string
	rpcURL   string
	token    string
	contract string
	timeout  time.Duration
	limiter  *rate.Limiter
	client   *http.Client
}

func NewRelayClient(cfg RelayConfig) *RelayClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &RelayClient{
		relayURL: strings.TrimRight(cfg.RelayURL, "/"),
		rpcURL:   cfg.RPCURL,
		token:    cfg.Token,
		contract: cfg.ContractAddress,
		timeout:  cfg.Timeout,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// SubmitMint hands the signed payload to the relay and returns the tx hash.
// The request id doubles as the idempotency key, so a retried broadcast
// returns the hash of the first one. Only ErrRelayRejected means nothing
// was broadcast.
func (c *RelayClient) SubmitMint(ctx context.Context, call MintCall) (string, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, c.relayURL+"/v1/mint", body, true, call.RequestID)
	if err != nil {
		return "", err
	}
	txHash := gjson.GetBytes(resp, "tx_hash").String()
	if txHash == "" {
		return "", errors.New("chain: relay accepted mint without tx_hash")
	}
	log.WithFields(log.Fields{"request_id": call.RequestID, "tx_hash": txHash}).Info("[RELAY] mint broadcast")
	return txHash, nil
}

// GetReceipt returns nil while the transaction is still pending.
func (c *RelayClient) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	res, err := c.rpc(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if !res.Exists() || res.Type == gjson.Null {
		return nil, nil
	}
	block, err := strconv.ParseUint(strings.TrimPrefix(res.Get("blockNumber").String(), "0x"), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("chain: bad blockNumber in receipt: %w", err)
	}
	return &Receipt{
		TxHash:      txHash,
		Success:     res.Get("status").String() == "0x1",
		BlockNumber: block,
	}, nil
}

// Balances reads balanceOf and lockedBalanceOf for wallet.
func (c *RelayClient) Balances(ctx context.Context, wallet string) (*Balances, error) {
	addr, err := ParseAddress(wallet)
	if err != nil {
		return nil, err
	}
	total, err := c.callUint(ctx, "balanceOf(address)", addr)
	if err != nil {
		return nil, err
	}
	locked, err := c.callUint(ctx, "lockedBalanceOf(address)", addr)
	if err != nil {
		return nil, err
	}
	return &Balances{Wallet: wallet, Total: total, Locked: locked}, nil
}

func (c *RelayClient) callUint(ctx context.Context, signature string, addr [20]byte) (*big.Int, error) {
	selector := Keccak256([]byte(signature))
	callData := append(append([]byte{}, selector[:4]...), word(addr[:])...)
	data := "0x" + hex.EncodeToString(callData)
	res, err := c.rpc(ctx, "eth_call", map[string]string{"to": c.contract, "data": data}, "latest")
	if err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(strings.TrimPrefix(res.String(), "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("chain: bad %s result %q", signature, res.String())
	}
	return v, nil
}

func (c *RelayClient) rpc(ctx context.Context, method string, params ...interface{}) (gjson.Result, error) {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return gjson.Result{}, err
	}
	raw, err := c.post(ctx, c.rpcURL, body, false, "")
	if err != nil {
		return gjson.Result{}, err
	}
	if e := gjson.GetBytes(raw, "error"); e.Exists() && e.Type != gjson.Null {
		return gjson.Result{}, fmt.Errorf("chain: rpc %s: %s", method, e.Get("message").String())
	}
	return gjson.GetBytes(raw, "result"), nil
}

func (c *RelayClient) post(ctx context.Context, url string, body []byte, auth bool, idempotencyKey string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, wrapTimeout(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, wrapTimeout(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, wrapTimeout(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %.256s", ErrRelayRejected, resp.StatusCode, string(raw))
	}
	return raw, nil
}

func wrapTimeout(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
