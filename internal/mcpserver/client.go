package mcpserver

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
)

// Config holds the configuration for connecting to the Paycore platform.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Admin API secret
}

// PaycoreClient is a pure HTTP client for the Paycore platform API.
type PaycoreClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewPaycoreClient creates a new client for the Paycore platform.
func NewPaycoreClient(cfg Config) *PaycoreClient {
	return &PaycoreClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *PaycoreClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.AdminSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetPayment returns a payment projection by ID.
func (c *PaycoreClient) GetPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, nil)
}

// GetEscrow returns an escrow record by ID.
func (c *PaycoreClient) GetEscrow(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrows/"+escrowID, nil, nil)
}

// GetLedger returns the ledger entries for an escrow.
func (c *PaycoreClient) GetLedger(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/ledger/"+escrowID, nil, nil)
}

// ListAlerts returns operational alerts, optionally only unacknowledged.
func (c *PaycoreClient) ListAlerts(ctx context.Context, unackedOnly bool, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if unackedOnly {
		q.Set("unacked", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/alerts", q, nil)
}

// AcknowledgeAlert marks an alert as handled.
func (c *PaycoreClient) AcknowledgeAlert(ctx context.Context, alertID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/alerts/"+alertID+"/ack", nil, nil)
}

// ResolveDispute applies an operator decision to a disputed escrow.
func (c *PaycoreClient) ResolveDispute(ctx context.Context, escrowID, outcome, reason string) (json.RawMessage, error) {
	body := map[string]string{
		"outcome": outcome,
		"reason":  reason,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/resolve", nil, body)
}
