// Package chain calls the relayer service that submits token transfers and
// mints on-chain.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	ErrReverted    = errors.New("transaction reverted")
	ErrBadResponse = errors.New("unexpected relayer response")
)

type TransferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	To             string `json:"to"`
	Amount         int64  `json:"amount"`
}

type MintRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	To             string `json:"to"`
	AmountAtomic   string `json:"amount_atomic"`
}

type relayerResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Transfer pays out FUN points to a wallet and returns the transaction hash.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	return c.post(ctx, "/v1/transfers", req.IdempotencyKey, req)
}

// Mint mints token atomic units to a wallet and returns the transaction hash.
func (c *Client) Mint(ctx context.Context, req MintRequest) (string, error) {
	return c.post(ctx, "/v1/mints", req.IdempotencyKey, req)
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal relayer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create relayer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("relayer request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read relayer response: %w", err)
	}
	var out relayerResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("relayer returned non-2xx", "path", path, "status", resp.StatusCode, "idempotency_key", idempotencyKey)
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode, msg)
	}
	if out.Status == "reverted" {
		return "", fmt.Errorf("%w: %s", ErrReverted, out.Error)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("%w: missing tx_hash", ErrBadResponse)
	}
	return out.TxHash, nil
}
