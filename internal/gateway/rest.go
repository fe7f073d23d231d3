package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// restClient is the shared HTTP plumbing for providers we integrate over
// plain REST. Calls carry a bounded timeout through the client and the
// request context; idempotency keys go out as a header so provider-side
// retries reuse the same token.
type restClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newRESTClient(baseURL, apiKey string) *restClient {
	return &restClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultCallTimeout},
	}
}

// doJSON posts a JSON body and decodes the JSON response into out.
// Non-2xx statuses return an error with the response body for context.
func (c *restClient) doJSON(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// hmacSHA256Hex returns the hex HMAC-SHA256 of payload.
func hmacSHA256Hex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// hmacSHA256Base64 returns the base64 HMAC-SHA256 of payload.
func hmacSHA256Base64(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// hmacSHA512Hex returns the hex HMAC-SHA512 of payload.
func hmacSHA512Hex(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC compares an expected signature against the received one in
// constant time. Empty signatures always fail.
func verifyHMAC(expected, got string) error {
	if got == "" || !hmac.Equal([]byte(expected), []byte(got)) {
		return ErrSignatureVerification
	}
	return nil
}

// unmarshalEvent decodes a webhook payload, normalizing decode failures.
func unmarshalEvent(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("parse webhook payload: %w", err)
	}
	return nil
}

// formatMinorUnits renders minor units as a two-decimal string
// ("1050" → "10.50") for providers that take decimal amounts.
func formatMinorUnits(amount int64) string {
	neg := ""
	if amount < 0 {
		neg = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", neg, amount/100, amount%100)
}

// parseMinorUnits parses a two-decimal string back into minor units.
func parseMinorUnits(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var whole, frac int64
	n, err := fmt.Sscanf(s, "%d.%02d", &whole, &frac)
	if err != nil || n != 2 {
		if n, err := fmt.Sscanf(s, "%d", &whole); err == nil && n == 1 {
			return whole * 100, true
		}
		return 0, false
	}
	if whole < 0 {
		return whole*100 - frac, true
	}
	return whole*100 + frac, true
}
