package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/crypto"
	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// DefaultTickSize is used when the tick-size endpoint fails or returns an
// unusable value; 0.0001 is the finest increment the CLOB supports.
const DefaultTickSize = 0.0001

// clobTimeout bounds every CLOB request. Bootstrap fetches whole books, so
// it is looser than a pure quote endpoint would need.
const clobTimeout = 30 * time.Second

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It serves book bootstrap, tick-size and price-history
// enrichment, REST polling, and the auth flow that derives API credentials.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer may be nil for unauthenticated use; it is required by DeriveAPIKey.
// hmac may carry pre-provisioned credentials, or nil to derive them later.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: clobTimeout},
		signer:     signer,
		hmacAuth:   hmac,
	}
}

// Auth returns the client's current API credentials, nil when none are set.
func (c *ClobClient) Auth() *crypto.HMACAuth {
	return c.hmacAuth
}

// GetOrderBook fetches the current book snapshot for one token. The result
// uses the same event shape as the live feed so callers apply it identically.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.BookEvent, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.doGet(ctx, "/book?"+params.Encode())
	if err != nil {
		return domain.BookEvent{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var resp OrderBookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.BookEvent{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}

	ev := resp.ToBookEvent()
	if ev.AssetID == "" {
		ev.AssetID = tokenID
	}
	return ev, nil
}

// GetTickSize fetches the minimum price increment for one token. Tick size
// is enrichment, so the returned value is always usable: on any failure it is
// DefaultTickSize alongside the error, and callers may log and proceed.
func (c *ClobClient) GetTickSize(ctx context.Context, tokenID string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.doGet(ctx, "/tick-size?"+params.Encode())
	if err != nil {
		return DefaultTickSize, fmt.Errorf("polymarket/clob: get tick size %s: %w", tokenID, err)
	}

	var resp TickSizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return DefaultTickSize, fmt.Errorf("polymarket/clob: decode tick size: %w", err)
	}
	if resp.MinimumTickSize <= 0 {
		return DefaultTickSize, fmt.Errorf("polymarket/clob: non-positive tick size %v for %s", float64(resp.MinimumTickSize), tokenID)
	}
	return float64(resp.MinimumTickSize), nil
}

// GetPriceHistory fetches a historical price series for one token.
// interval is a CLOB range keyword such as "max", "1d", "1w"; fidelity is
// the sample spacing in minutes. Unparseable samples are skipped.
func (c *ClobClient) GetPriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]domain.PricePoint, error) {
	params := url.Values{}
	params.Set("market", tokenID)
	if interval != "" {
		params.Set("interval", interval)
	}
	if fidelity > 0 {
		params.Set("fidelity", strconv.Itoa(fidelity))
	}

	body, err := c.doGet(ctx, "/prices-history?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: get price history %s: %w", tokenID, err)
	}

	var resp PriceHistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode price history: %w", err)
	}

	points := make([]domain.PricePoint, 0, len(resp.History))
	for _, sample := range resp.History {
		if sample.T <= 0 {
			continue
		}
		points = append(points, domain.PricePoint{
			At:    time.Unix(sample.T, 0),
			Price: float64(sample.P),
		})
	}
	return points, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC credential
// triple. It signs a ClobAuth EIP-712 message and sends it with L1 headers
// to the derive-api-key endpoint. Per Polymarket docs, L1 requires
// POLY_ADDRESS, POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE. On success the
// credentials are stored on the client and returned to the caller.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (*crypto.HMACAuth, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrAuthRequired)
	}

	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	const nonce int64 = 0

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	body, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var creds APICreds
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        creds.APIKey,
		Secret:     creds.Secret,
		Passphrase: creds.Passphrase,
	}
	return c.hmacAuth, nil
}

// ValidateAPIKey verifies the client's credential triple against the CLOB by
// listing the wallet's registered API keys with L2 headers. Useful as a
// sanity check between deriving credentials and opening the user channel.
func (c *ClobClient) ValidateAPIKey(ctx context.Context) error {
	if c.hmacAuth == nil {
		return fmt.Errorf("polymarket/clob: validate api key: %w", domain.ErrAuthRequired)
	}

	body, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/auth/api-keys", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: validate api key: %w", err)
	}

	var resp struct {
		APIKeys []string `json:"apiKeys"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("polymarket/clob: decode api keys: %w", err)
	}

	for _, k := range resp.APIKeys {
		if k == c.hmacAuth.Key {
			return nil
		}
	}
	return fmt.Errorf("polymarket/clob: api key not registered for wallet: %w", domain.ErrUnauthorized)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the CLOB API.
func (c *ClobClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req)
}

// doAuthenticatedRequest sends an L2-signed request. The HMAC headers cover
// method, path, and the exact body bytes, so the payload is marshalled once
// and the same string is signed and sent.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyStr string
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr, reader = string(raw), bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.hmacAuth != nil && c.signer != nil {
		for k, v := range c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}
	return c.send(req)
}

// send executes one request and returns the response body; non-2xx statuses
// come back as mapped domain errors.
func (c *ClobClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
