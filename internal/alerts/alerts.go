// Package alerts is the operational escalation queue. Conditions the
// system cannot safely retry on its own (a payout that failed after the
// release was committed, a rejected webhook, ledger drift) become
// alerts for an operator to work, optionally pushed to an external
// on-call endpoint.
package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/workbridge/paycore/internal/idgen"
)

var ErrAlertNotFound = errors.New("alerts: not found")

// Kind classifies what went wrong.
type Kind string

const (
	KindPayoutFailed    Kind = "payout_failed"
	KindCaptureOrphaned Kind = "capture_orphaned"
	KindRefundFailed    Kind = "refund_failed"
	KindWebhookRejected Kind = "webhook_rejected"
	KindSignatureFailed Kind = "signature_failed"
	KindLedgerDrift     Kind = "ledger_drift"
	KindEscrowStuck     Kind = "escrow_stuck"
)

// Alert is one escalation awaiting operator action.
type Alert struct {
	ID           string            `json:"id"`
	Kind         Kind              `json:"kind"`
	EscrowID     string            `json:"escrowId,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Message      string            `json:"message"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Acknowledged bool              `json:"acknowledged"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Store persists alerts.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, unackedOnly bool, limit int) ([]*Alert, error)
	Acknowledge(ctx context.Context, id string) error
}

var alertsRaisedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paycore",
	Subsystem: "alerts",
	Name:      "raised_total",
	Help:      "Total operational alerts raised by kind.",
}, []string{"kind"})

func init() {
	prometheus.MustRegister(alertsRaisedTotal)
}

// Queue raises and serves alerts. If a notify URL is configured, each
// raised alert is also pushed there with a hex HMAC-SHA256 signature
// over the JSON body, best effort.
type Queue struct {
	store        Store
	logger       *slog.Logger
	notifyURL    string
	notifySecret string
	client       *http.Client
}

func NewQueue(store Store, logger *slog.Logger, notifyURL, notifySecret string) *Queue {
	return &Queue{
		store:        store,
		logger:       logger,
		notifyURL:    notifyURL,
		notifySecret: notifySecret,
		client:       &http.Client{Timeout: 5 * time.Second},
	}
}

// Raise records an alert. It never returns an error: the queue is the
// fallback path, so failures here are logged and swallowed rather than
// propagated into an already-failing operation.
func (q *Queue) Raise(ctx context.Context, a *Alert) {
	if a.ID == "" {
		a.ID = idgen.WithPrefix("alr_")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	alertsRaisedTotal.WithLabelValues(string(a.Kind)).Inc()

	if err := q.store.Create(ctx, a); err != nil {
		q.logger.Error("failed to persist alert",
			"kind", a.Kind, "escrowId", a.EscrowID, "message", a.Message, "error", err)
		return
	}
	q.logger.Warn("operational alert raised",
		"alertId", a.ID, "kind", a.Kind, "escrowId", a.EscrowID, "message", a.Message)

	if q.notifyURL != "" {
		go q.notify(a)
	}
}

// List returns recent alerts, optionally only unacknowledged ones.
func (q *Queue) List(ctx context.Context, unackedOnly bool, limit int) ([]*Alert, error) {
	return q.store.List(ctx, unackedOnly, limit)
}

// Acknowledge marks an alert as worked.
func (q *Queue) Acknowledge(ctx context.Context, id string) error {
	return q.store.Acknowledge(ctx, id)
}

func (q *Queue) notify(a *Alert) {
	body, err := json.Marshal(a)
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, q.notifyURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if q.notifySecret != "" {
		mac := hmac.New(sha256.New, []byte(q.notifySecret))
		mac.Write(body)
		req.Header.Set("X-Paycore-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := q.client.Do(req)
	if err != nil {
		q.logger.Warn("alert notify failed", "alertId", a.ID, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		q.logger.Warn("alert notify rejected", "alertId", a.ID, "status", resp.StatusCode)
	}
}
