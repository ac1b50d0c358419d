package protocol

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sui-lending-api/internal/config"
	"sui-lending-api/pkg/metrics"
)

// SDKClient relays queries and submissions to the lending-protocol SDK
// sidecar over HTTP. The sidecar owns obligation accounting, Move-call
// construction, and signing; this client treats it as a black box. It
// implements LendingQuery, TransactionSubmitter, PriceFeedSource, and
// WalletAdapter.
type SDKClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSDKClient creates a client for the configured sidecar endpoint.
func NewSDKClient(cfg *config.ProtocolConfig) *SDKClient {
	return &SDKClient{
		baseURL: cfg.SDKEndpoint,
		httpClient: &http.Client{
			Timeout: cfg.SDKTimeout,
		},
	}
}

// sdkEnvelope is the sidecar's standard response shape.
type sdkEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// GetUserPortfolio returns every obligation owned by the address.
func (c *SDKClient) GetUserPortfolio(ctx context.Context, address string) ([]Obligation, error) {
	var obligations []Obligation
	path := "/query/portfolio/" + url.PathEscape(address)
	if err := c.get(ctx, "portfolio", path, &obligations); err != nil {
		return nil, fmt.Errorf("portfolio query failed for %s: %w", address, err)
	}
	return obligations, nil
}

// GetObligation returns a single obligation by object ID.
func (c *SDKClient) GetObligation(ctx context.Context, obligationID string) (*Obligation, error) {
	var obligation Obligation
	path := "/query/obligation/" + url.PathEscape(obligationID)
	if err := c.get(ctx, "obligation", path, &obligation); err != nil {
		return nil, fmt.Errorf("obligation query failed for %s: %w", obligationID, err)
	}
	return &obligation, nil
}

// GetMarketReserves returns the reserve configuration per symbol.
func (c *SDKClient) GetMarketReserves(ctx context.Context) (map[string]MarketReserve, error) {
	reserves := make(map[string]MarketReserve)
	if err := c.get(ctx, "market-reserves", "/query/market/reserves", &reserves); err != nil {
		return nil, fmt.Errorf("market reserves query failed: %w", err)
	}
	return reserves, nil
}

// GetMarketCollaterals returns the secondary collateral configuration
// per symbol.
func (c *SDKClient) GetMarketCollaterals(ctx context.Context) (map[string]CollateralConfig, error) {
	collaterals := make(map[string]CollateralConfig)
	if err := c.get(ctx, "market-collaterals", "/query/market/collaterals", &collaterals); err != nil {
		return nil, fmt.Errorf("market collaterals query failed: %w", err)
	}
	return collaterals, nil
}

// SignAndExecute submits a transaction plan through the sidecar's
// connected wallet and returns the chain outcome.
func (c *SDKClient) SignAndExecute(ctx context.Context, plan *TransactionPlan) (*SubmitResult, error) {
	var result SubmitResult
	if err := c.post(ctx, "execute", "/tx/execute", plan, &result); err != nil {
		return nil, fmt.Errorf("transaction execution failed: %w", err)
	}
	return &result, nil
}

// GetAddress returns the address of the sidecar's connected wallet,
// which signs server-side submissions.
func (c *SDKClient) GetAddress(ctx context.Context) (string, error) {
	var wire struct {
		Address string `json:"address"`
	}
	if err := c.get(ctx, "wallet-address", "/wallet/address", &wire); err != nil {
		return "", fmt.Errorf("wallet address query failed: %w", err)
	}
	return wire.Address, nil
}

// Ping checks that the sidecar is up and answering.
func (c *SDKClient) Ping(ctx context.Context) error {
	if err := c.get(ctx, "health", "/health", nil); err != nil {
		return fmt.Errorf("SDK sidecar unreachable: %w", err)
	}
	return nil
}

// GetPriceUpdate fetches fresh oracle price-feed payloads for a symbol.
func (c *SDKClient) GetPriceUpdate(ctx context.Context, symbol string) (*PriceFeedUpdate, error) {
	// Byte payloads travel base64-encoded.
	var wire struct {
		Symbol          string    `json:"symbol"`
		FeedID          string    `json:"feedId"`
		AccumulatorData string    `json:"accumulatorData"`
		VAAData         string    `json:"vaaData"`
		PublishedAt     time.Time `json:"publishedAt"`
	}
	path := "/price-feeds/" + url.PathEscape(symbol)
	if err := c.get(ctx, "price-feed", path, &wire); err != nil {
		return nil, fmt.Errorf("price feed query failed for %s: %w", symbol, err)
	}

	accumulator, err := base64.StdEncoding.DecodeString(wire.AccumulatorData)
	if err != nil {
		return nil, fmt.Errorf("invalid accumulator payload for %s: %w", symbol, err)
	}
	vaa, err := base64.StdEncoding.DecodeString(wire.VAAData)
	if err != nil {
		return nil, fmt.Errorf("invalid VAA payload for %s: %w", symbol, err)
	}

	return &PriceFeedUpdate{
		Symbol:          wire.Symbol,
		FeedID:          wire.FeedID,
		AccumulatorData: accumulator,
		VAAData:         vaa,
		PublishedAt:     wire.PublishedAt,
	}, nil
}

// get performs a GET request and decodes the envelope's data field.
func (c *SDKClient) get(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(method, req, out)
}

// post performs a POST request with a JSON body and decodes the
// envelope's data field.
func (c *SDKClient) post(ctx context.Context, method, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(method, req, out)
}

func (c *SDKClient) do(method string, req *http.Request, out interface{}) error {
	start := time.Now()
	rsp, err := c.httpClient.Do(req)
	metrics.SDKCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	defer rsp.Body.Close()

	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return fmt.Errorf("failed to read SDK response: %w", err)
	}

	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("SDK returned status %d: %s", rsp.StatusCode, string(raw))
	}

	var envelope sdkEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("invalid SDK response: %w", err)
	}
	if !envelope.Success {
		return fmt.Errorf("SDK error: %s", envelope.Error)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode SDK data: %w", err)
		}
	}

	return nil
}
