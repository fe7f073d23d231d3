package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/workbridge/paycore/internal/alerts"
	"github.com/workbridge/paycore/internal/gateway"
)

const walletSecret = "internal-secret"

// stubOrchestrator records ProcessWebhook calls and can be scripted to
// reject them.
type stubOrchestrator struct {
	gateways *gateway.Registry
	applied  []*gateway.Event
	keys     []string
	applyErr error
}

func (s *stubOrchestrator) VerifyWebhookSignature(_ context.Context, provider gateway.Provider, payload []byte, signature string) error {
	adapter, err := s.gateways.Get(provider)
	if err != nil {
		return err
	}
	return adapter.VerifySignature(payload, signature)
}

func (s *stubOrchestrator) ProcessWebhook(_ context.Context, ev *gateway.Event, key string) error {
	s.applied = append(s.applied, ev)
	s.keys = append(s.keys, key)
	return s.applyErr
}

type ingestFixture struct {
	ingestor   *Ingestor
	store      *MemoryStore
	orch       *stubOrchestrator
	alertStore *alerts.MemoryStore
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	registry := gateway.NewRegistry(gateway.NewWalletAdapter(gateway.NewMemoryCreditLedger(), walletSecret))
	orch := &stubOrchestrator{gateways: registry}
	store := NewMemoryStore()
	alertStore := alerts.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := alerts.NewQueue(alertStore, logger, "", "")
	return &ingestFixture{
		ingestor:   NewIngestor(store, registry, orch, queue, logger),
		store:      store,
		orch:       orch,
		alertStore: alertStore,
	}
}

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(walletSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

var capturePayload = []byte(`{
	"eventId": "wev_1",
	"kind": "capture-confirmed",
	"assignmentId": "asg_1",
	"txHash": "wtx_1",
	"amount": 10000
}`)

func TestIngestAppliesOnce(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	res, err := f.ingestor.Ingest(ctx, gateway.ProviderWallet, capturePayload, sign(capturePayload))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Replay || res.Event.Outcome != OutcomeProcessed {
		t.Errorf("unexpected result: %+v", res.Event)
	}
	if len(f.orch.applied) != 1 {
		t.Fatalf("orchestrator invoked %d times, want 1", len(f.orch.applied))
	}
	if f.orch.keys[0] != "wh:wallet:wev_1" {
		t.Errorf("idempotency key = %s", f.orch.keys[0])
	}
	if f.orch.applied[0].Kind != gateway.EventCaptureConfirmed || f.orch.applied[0].AssignmentID != "asg_1" {
		t.Errorf("applied event: %+v", f.orch.applied[0])
	}

	// Redelivery returns the stored outcome without reprocessing.
	res, err = f.ingestor.Ingest(ctx, gateway.ProviderWallet, capturePayload, sign(capturePayload))
	if err != nil {
		t.Fatalf("replay Ingest: %v", err)
	}
	if !res.Replay || res.Event.Outcome != OutcomeProcessed {
		t.Errorf("replay result: replay=%v outcome=%s", res.Replay, res.Event.Outcome)
	}
	if len(f.orch.applied) != 1 {
		t.Errorf("replay reprocessed the event: %d calls", len(f.orch.applied))
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.ingestor.Ingest(context.Background(), gateway.ProviderWallet, capturePayload, "forged")
	if !errors.Is(err, gateway.ErrSignatureVerification) {
		t.Fatalf("got %v, want ErrSignatureVerification", err)
	}
	if len(f.orch.applied) != 0 {
		t.Error("unverified payload reached the orchestrator")
	}
	if events, _ := f.store.List(context.Background(), "", time.Time{}, 0); len(events) != 0 {
		t.Error("unverified payload was recorded")
	}
}

func TestIngestRecordsRejectedOutcome(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)
	f.orch.applyErr = errors.New("no payment for event")

	_, err := f.ingestor.Ingest(ctx, gateway.ProviderWallet, capturePayload, sign(capturePayload))
	if err == nil {
		t.Fatal("expected the apply error to surface")
	}

	stored, gerr := f.store.Get(ctx, "wallet", "wev_1")
	if gerr != nil {
		t.Fatalf("Get: %v", gerr)
	}
	if stored.Outcome != OutcomeRejected || stored.ProcessedAt == nil {
		t.Errorf("stored outcome: %+v", stored)
	}
	raised, _ := f.alertStore.List(ctx, true, 0)
	if len(raised) != 1 || raised[0].Kind != alerts.KindWebhookRejected {
		t.Fatalf("expected one webhook_rejected alert, got %+v", raised)
	}

	// Redelivery of the poisoned event returns the rejection, no retry.
	f.orch.applyErr = nil
	res, rerr := f.ingestor.Ingest(ctx, gateway.ProviderWallet, capturePayload, sign(capturePayload))
	if rerr != nil {
		t.Fatalf("replay Ingest: %v", rerr)
	}
	if !res.Replay || res.Event.Outcome != OutcomeRejected {
		t.Errorf("replay result: replay=%v outcome=%s", res.Replay, res.Event.Outcome)
	}
	if len(f.orch.applied) != 1 {
		t.Errorf("poisoned event reprocessed: %d calls", len(f.orch.applied))
	}
}

func TestIngestIgnoresUnrelatedEvents(t *testing.T) {
	f := newIngestFixture(t)
	payload := []byte(`{"eventId":"wev_2","kind":"account-updated"}`)

	_, err := f.ingestor.Ingest(context.Background(), gateway.ProviderWallet, payload, sign(payload))
	if !errors.Is(err, gateway.ErrUnrecognizedEvent) {
		t.Fatalf("got %v, want ErrUnrecognizedEvent", err)
	}
	if events, _ := f.store.List(context.Background(), "", time.Time{}, 0); len(events) != 0 {
		t.Error("unrelated event was recorded")
	}
}

func TestReceiveEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newIngestFixture(t)
	handler := NewHandler(f.ingestor, f.store)

	router := gin.New()
	handler.RegisterRoutes(router.Group("/v1"))

	post := func(provider, signature string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/"+provider, bytes.NewReader(body))
		if signature != "" {
			req.Header.Set("X-Paycore-Signature", signature)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := post("wallet", sign(capturePayload), capturePayload); w.Code != http.StatusOK {
		t.Errorf("valid delivery: status %d, body %s", w.Code, w.Body)
	}
	if w := post("wallet", "forged", capturePayload); w.Code != http.StatusUnauthorized {
		t.Errorf("forged signature: status %d, want 401", w.Code)
	}
	if w := post("square", "", capturePayload); w.Code != http.StatusNotFound {
		t.Errorf("unknown provider: status %d, want 404", w.Code)
	}
	// Redelivery still answers 200.
	if w := post("wallet", sign(capturePayload), capturePayload); w.Code != http.StatusOK {
		t.Errorf("replay delivery: status %d", w.Code)
	}
}

func TestListEventsPagination(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)
	handler := NewHandler(f.ingestor, f.store)

	router := gin.New()
	handler.RegisterRoutes(router.Group("/v1"))

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		ev := &Event{
			Provider:    "wallet",
			EventID:     "wev_" + string(rune('a'+i)),
			PayloadHash: "hash",
			ReceivedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := f.store.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	get := func(path string) (int, map[string]any) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
		return w.Code, body
	}

	code, body := get("/v1/webhooks/wallet/events?limit=2")
	if code != http.StatusOK {
		t.Fatalf("first page: status %d", code)
	}
	if n := len(body["events"].([]any)); n != 2 {
		t.Errorf("first page events = %d, want 2", n)
	}
	if body["hasMore"] != true {
		t.Error("hasMore = false on first page")
	}
	cursor, _ := body["nextCursor"].(string)
	if cursor == "" {
		t.Fatal("nextCursor empty on first page")
	}

	code, body = get("/v1/webhooks/wallet/events?limit=2&cursor=" + cursor)
	if code != http.StatusOK {
		t.Fatalf("second page: status %d", code)
	}
	if n := len(body["events"].([]any)); n != 1 {
		t.Errorf("second page events = %d, want 1", n)
	}
	if body["hasMore"] != false {
		t.Error("hasMore = true on final page")
	}

	if code, _ := get("/v1/webhooks/wallet/events?cursor=%25bad"); code != http.StatusBadRequest {
		t.Errorf("bad cursor: status %d, want 400", code)
	}
}

// A dedup row with no recorded outcome means the first attempt died
// between the insert and SetOutcome; redelivery must run the apply path
// instead of reporting an empty replay.
func TestIngestResumesUnprocessedEvent(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	hash := sha256.Sum256(capturePayload)
	if err := f.store.Insert(ctx, &Event{
		Provider:    "wallet",
		EventID:     "wev_1",
		PayloadHash: hex.EncodeToString(hash[:]),
		ReceivedAt:  time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed Insert: %v", err)
	}

	res, err := f.ingestor.Ingest(ctx, gateway.ProviderWallet, capturePayload, sign(capturePayload))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(f.orch.applied) != 1 {
		t.Fatalf("orchestrator invoked %d times for an unprocessed event, want 1", len(f.orch.applied))
	}
	if res.Replay {
		t.Error("redelivery of an unprocessed event reported as replay")
	}
	if res.Event.Outcome != OutcomeProcessed {
		t.Errorf("outcome = %q, want processed", res.Event.Outcome)
	}

	stored, gerr := f.store.Get(ctx, "wallet", "wev_1")
	if gerr != nil {
		t.Fatalf("Get: %v", gerr)
	}
	if stored.Outcome != OutcomeProcessed || stored.ProcessedAt == nil {
		t.Errorf("stored row after resume: %+v", stored)
	}

	// The next redelivery is a genuine replay.
	res, err = f.ingestor.Ingest(ctx, gateway.ProviderWallet, capturePayload, sign(capturePayload))
	if err != nil {
		t.Fatalf("replay Ingest: %v", err)
	}
	if !res.Replay || len(f.orch.applied) != 1 {
		t.Errorf("replay=%v, orchestrator calls=%d", res.Replay, len(f.orch.applied))
	}
}

// A known event ID arriving with a different body is never applied.
func TestIngestRejectsMutatedRedelivery(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	if _, err := f.ingestor.Ingest(ctx, gateway.ProviderWallet, capturePayload, sign(capturePayload)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	mutated := []byte(`{
		"eventId": "wev_1",
		"kind": "capture-confirmed",
		"assignmentId": "asg_1",
		"txHash": "wtx_1",
		"amount": 99999
	}`)
	_, err := f.ingestor.Ingest(ctx, gateway.ProviderWallet, mutated, sign(mutated))
	if !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("got %v, want ErrPayloadMismatch", err)
	}
	if len(f.orch.applied) != 1 {
		t.Errorf("mutated redelivery reached the orchestrator: %d calls", len(f.orch.applied))
	}
	raised, _ := f.alertStore.List(ctx, true, 0)
	if len(raised) != 1 || raised[0].Kind != alerts.KindWebhookRejected {
		t.Fatalf("expected one webhook_rejected alert, got %+v", raised)
	}
}
