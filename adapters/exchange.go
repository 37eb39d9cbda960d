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

	"convault/native/vault"
)

// HTTPDoer captures the subset of http.Client used by the adapter clients so
// tests can substitute their own transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RouterClient talks to an external swap-router service over HTTP JSON and
// implements vault.ExchangeAdapter. The router is treated as untrusted: the
// engine validates every value it returns.
type RouterClient struct {
	client   HTTPDoer
	endpoint string
}

// NewRouterClient constructs a router client. When the client is nil a default
// with a ten second timeout is used.
func NewRouterClient(client HTTPDoer, endpoint string) (*RouterClient, error) {
	ep := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		return nil, fmt.Errorf("router endpoint required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RouterClient{client: client, endpoint: ep}, nil
}

type quoteRequest struct {
	AmountIn string   `json:"amount_in"`
	Path     []string `json:"path"`
}

type quoteResponse struct {
	AmountOut string `json:"amount_out"`
	NoPath    bool   `json:"no_path"`
}

// Quote asks the router for the expected output of swapping amountIn along
// path. A missing route is reported through QuoteResult.NoPath rather than an
// error.
func (c *RouterClient) Quote(ctx context.Context, amountIn *big.Int, path vault.Path) (vault.QuoteResult, error) {
	if c == nil {
		return vault.QuoteResult{}, fmt.Errorf("router client not configured")
	}
	payload := quoteRequest{AmountIn: amountString(amountIn), Path: hexPath(path)}
	var out quoteResponse
	if err := c.post(ctx, "/v1/router/quote", payload, &out); err != nil {
		return vault.QuoteResult{}, err
	}
	if out.NoPath {
		return vault.QuoteResult{NoPath: true}, nil
	}
	amount, err := parseAmount(out.AmountOut)
	if err != nil {
		return vault.QuoteResult{}, fmt.Errorf("router quote: %w", err)
	}
	return vault.QuoteResult{Amount: amount}, nil
}

type swapRequest struct {
	AmountIn  string   `json:"amount_in"`
	MinOut    string   `json:"min_out"`
	Path      []string `json:"path"`
	Recipient string   `json:"recipient"`
	Deadline  int64    `json:"deadline"`
}

type swapResponse struct {
	AmountOut string `json:"amount_out"`
}

// Execute performs a swap honouring minOut and deadline and returns the
// actual amount delivered to recipient.
func (c *RouterClient) Execute(ctx context.Context, amountIn, minOut *big.Int, path vault.Path, recipient ethcommon.Address, deadline time.Time) (*big.Int, error) {
	if c == nil {
		return nil, fmt.Errorf("router client not configured")
	}
	payload := swapRequest{
		AmountIn:  amountString(amountIn),
		MinOut:    amountString(minOut),
		Path:      hexPath(path),
		Recipient: recipient.Hex(),
		Deadline:  deadline.Unix(),
	}
	var out swapResponse
	if err := c.post(ctx, "/v1/router/swap", payload, &out); err != nil {
		return nil, err
	}
	actual, err := parseAmount(out.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("router swap: %w", err)
	}
	return actual, nil
}

type wrapperResponse struct {
	Asset string `json:"asset"`
}

// NativeWrapperAsset resolves the wrapped representation of the chain native
// asset used as the entry hop for native deposits.
func (c *RouterClient) NativeWrapperAsset(ctx context.Context) (ethcommon.Address, error) {
	if c == nil {
		return ethcommon.Address{}, fmt.Errorf("router client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/router/wrapper", nil)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("router wrapper: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("router wrapper: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ethcommon.Address{}, fmt.Errorf("router wrapper: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out wrapperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ethcommon.Address{}, fmt.Errorf("router wrapper: decode: %w", err)
	}
	asset := strings.TrimSpace(out.Asset)
	if !ethcommon.IsHexAddress(asset) {
		return ethcommon.Address{}, fmt.Errorf("router wrapper: invalid asset %q", asset)
	}
	return ethcommon.HexToAddress(asset), nil
}

func (c *RouterClient) post(ctx context.Context, route string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("router: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+route, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("router: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("router: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("router: decode: %w", err)
	}
	return nil
}

func hexPath(path vault.Path) []string {
	out := make([]string, len(path))
	for i, hop := range path {
		out[i] = hop.Hex()
	}
	return out
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return value, nil
}
