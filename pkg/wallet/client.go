// Package wallet is the client for the custodial wallet API that holds
// user funds. The settlement core only ever needs three calls: create a
// wallet, read a stablecoin balance and submit a signed transfer.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Wallet is a newly created custodial wallet. PrivateKey is returned
// exactly once, at creation; callers must encrypt it before persisting.
type Wallet struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

// TransferResult reports a settled transfer
type TransferResult struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
}

// Client talks to the custodial wallet API
type Client struct {
	BaseURL string
	APIKey  string
	Mock    bool
	client  *http.Client
	log     *zap.Logger
}

// NewClient creates a new wallet API client
func NewClient(baseURL, apiKey string, mock bool, log *zap.Logger) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Mock:    mock,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.Named("wallet"),
	}
}

// CreateWallet provisions a new custodial wallet
func (c *Client) CreateWallet(ctx context.Context) (*Wallet, error) {
	if c.Mock {
		return &Wallet{
			Address:    "MOCKADDR" + uuid.NewString()[:8],
			PrivateKey: "MOCKKEY" + uuid.NewString(),
		}, nil
	}
	var out Wallet
	if err := c.do(ctx, http.MethodPost, "/v1/wallets", nil, &out); err != nil {
		return nil, fmt.Errorf("wallet: create: %w", err)
	}
	return &out, nil
}

// GetBalance returns the USDC balance of an address
func (c *Client) GetBalance(ctx context.Context, address string) (float64, error) {
	if c.Mock {
		return 1e9, nil
	}
	var out struct {
		Balance float64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/balances/"+address+"?asset=usdc", nil, &out); err != nil {
		return 0, fmt.Errorf("wallet: balance %s: %w", address, err)
	}
	return out.Balance, nil
}

// Transfer moves amount USDC from the wallet owning fromPrivateKey to
// toAddress. The provider sponsors network fees, so the full amount
// arrives at the destination.
func (c *Client) Transfer(ctx context.Context, fromPrivateKey, toAddress string, amount float64) (*TransferResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("wallet: transfer amount must be positive, got %v", amount)
	}
	if c.Mock {
		c.log.Info("mock transfer", zap.String("to", toAddress), zap.Float64("amount", amount))
		return &TransferResult{Success: true, Signature: "MOCKSIG" + uuid.NewString()}, nil
	}
	body := map[string]interface{}{
		"fromKey": fromPrivateKey,
		"to":      toAddress,
		"amount":  amount,
		"asset":   "usdc",
	}
	var out TransferResult
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", body, &out); err != nil {
		return nil, fmt.Errorf("wallet: transfer to %s: %w", toAddress, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("wallet: transfer to %s rejected by provider", toAddress)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
