package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// CustodyClient moves funds between depositor accounts and the vault through
// an external custody bridge. It implements vault.Custody.
type CustodyClient struct {
	client   HTTPDoer
	endpoint string
}

// NewCustodyClient constructs a custody client. When the client is nil a
// default with a ten second timeout is used.
func NewCustodyClient(client HTTPDoer, endpoint string) (*CustodyClient, error) {
	ep := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		return nil, fmt.Errorf("custody endpoint required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CustodyClient{client: client, endpoint: ep}, nil
}

type transferRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Pull moves amount of asset from the account into the vault.
func (c *CustodyClient) Pull(ctx context.Context, asset, account ethcommon.Address, amount *big.Int) error {
	return c.transfer(ctx, "/v1/custody/pull", asset, account, amount)
}

// Push releases amount of asset from the vault back to the account.
func (c *CustodyClient) Push(ctx context.Context, asset, account ethcommon.Address, amount *big.Int) error {
	return c.transfer(ctx, "/v1/custody/push", asset, account, amount)
}

func (c *CustodyClient) transfer(ctx context.Context, route string, asset, account ethcommon.Address, amount *big.Int) error {
	if c == nil {
		return fmt.Errorf("custody client not configured")
	}
	payload := transferRequest{Asset: asset.Hex(), Account: account.Hex(), Amount: amountString(amount)}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("custody: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+route, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("custody: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("custody: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("custody: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
