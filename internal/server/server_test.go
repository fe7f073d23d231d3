package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/workbridge/paycore/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing.
func testConfig() *config.Config {
	return &config.Config{
		Port:            "8080",
		Env:             "test",
		LogLevel:        "error",
		LogFormat:       "text",
		FeeBps:          1000,
		MinPaymentMinor: 100,
		MaxPaymentMinor: 1_000_000,
		DefaultCurrency: "USD",
		WalletSecret:    "test-wallet-secret",
		RateLimitRPS:    1000,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func doRequest(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := doRequest(srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
		Checks []struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal health response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %s, want healthy", resp.Status)
	}
	names := make(map[string]bool)
	for _, c := range resp.Checks {
		names[c.Name] = c.Healthy
	}
	if !names["gateways"] || !names["ledger"] {
		t.Errorf("expected gateways and ledger checks healthy, got %v", names)
	}

	w = doRequest(srv, http.MethodGet, "/health/live", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET /health/live = %d, want 200", w.Code)
	}

	// Readiness flips only after Run starts.
	w = doRequest(srv, http.MethodGet, "/health/ready", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health/ready before Run = %d, want 503", w.Code)
	}
}

func TestInfoListsWalletProvider(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := doRequest(srv, http.MethodGet, "/api", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api = %d", w.Code)
	}
	var resp struct {
		Name      string   `json:"name"`
		Providers []string `json:"providers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Name != "paycore" {
		t.Errorf("name = %s", resp.Name)
	}
	found := false
	for _, p := range resp.Providers {
		if p == "wallet" {
			found = true
		}
	}
	if !found {
		t.Errorf("wallet provider missing from %v", resp.Providers)
	}
}

func TestGatewaysFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Stripe = config.GatewayConfig{
		BaseURL:       config.DefaultStripeURL,
		APIKey:        "sk_test_abc",
		WebhookSecret: "whsec_abc",
	}
	srv := newTestServer(t, cfg)

	providers := providerNames(srv.gateways.Configured())
	hasStripe := false
	for _, p := range providers {
		if p == "stripe" {
			hasStripe = true
		}
	}
	if !hasStripe {
		t.Errorf("stripe not configured: %v", providers)
	}
}

func TestAdminAuth(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = "topsecret"
	srv := newTestServer(t, cfg)

	w := doRequest(srv, http.MethodGet, "/v1/alerts", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /v1/alerts without secret = %d, want 401", w.Code)
	}

	w = doRequest(srv, http.MethodGet, "/v1/alerts", "", map[string]string{
		"Authorization": "Bearer topsecret",
	})
	if w.Code != http.StatusOK {
		t.Errorf("GET /v1/alerts with bearer = %d, want 200: %s", w.Code, w.Body.String())
	}

	w = doRequest(srv, http.MethodGet, "/v1/alerts", "", map[string]string{
		"X-Admin-Secret": "topsecret",
	})
	if w.Code != http.StatusOK {
		t.Errorf("GET /v1/alerts with header = %d, want 200", w.Code)
	}

	w = doRequest(srv, http.MethodGet, "/v1/alerts", "", map[string]string{
		"X-Admin-Secret": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /v1/alerts with wrong secret = %d, want 401", w.Code)
	}
}

func TestAdminAuthOpenWithoutSecret(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := doRequest(srv, http.MethodGet, "/v1/alerts", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET /v1/alerts in dev mode = %d, want 200", w.Code)
	}
}

func TestInvalidIDParamRejected(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := doRequest(srv, http.MethodGet, "/v1/payments/not%20an%20id", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid id = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestPaymentNotFound(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := doRequest(srv, http.MethodGet, "/v1/payments/pay_000000000000000000000000", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown payment = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := doRequest(srv, http.MethodPost, "/v1/webhooks/nosuchgateway", `{}`, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown provider = %d, want 404", w.Code)
	}
}

func TestReconciliationRun(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := doRequest(srv, http.MethodPost, "/v1/reconciliation/run", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /v1/reconciliation/run = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Checked int  `json:"checked"`
		Clean   bool `json:"clean"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Clean || resp.Checked != 0 {
		t.Errorf("empty system: checked=%d clean=%v, want 0/true", resp.Checked, resp.Clean)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := doRequest(srv, http.MethodGet, "/api", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}

	w = doRequest(srv, http.MethodGet, "/api", "", map[string]string{
		"X-Request-ID": "req-from-lb",
	})
	if got := w.Header().Get("X-Request-ID"); got != "req-from-lb" {
		t.Errorf("X-Request-ID = %s, want req-from-lb", got)
	}
}
