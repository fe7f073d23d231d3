package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/workbridge/paycore/internal/alerts"
	"github.com/workbridge/paycore/internal/gateway"
)

// Orchestrator is the slice of the payment service the ingestor drives.
// Declared here so webhooks stays import-cycle-free with payments.
type Orchestrator interface {
	VerifyWebhookSignature(ctx context.Context, provider gateway.Provider, payload []byte, signature string) error
	ProcessWebhook(ctx context.Context, ev *gateway.Event, idempotencyKey string) error
}

var webhooksReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paycore",
	Subsystem: "webhooks",
	Name:      "received_total",
	Help:      "Total webhook deliveries by provider and result.",
}, []string{"provider", "result"})

func init() {
	prometheus.MustRegister(webhooksReceivedTotal)
}

// Ingestor runs the ingestion pipeline: verify signature, parse, dedup,
// apply, record outcome.
type Ingestor struct {
	store    Store
	gateways *gateway.Registry
	orch     Orchestrator
	alerts   *alerts.Queue
	logger   *slog.Logger
}

func NewIngestor(store Store, gateways *gateway.Registry, orch Orchestrator, alertQueue *alerts.Queue, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:    store,
		gateways: gateways,
		orch:     orch,
		alerts:   alertQueue,
		logger:   logger,
	}
}

// Result tells the HTTP layer what happened, including whether this
// delivery was a replay of an already-recorded event.
type Result struct {
	Event   *Event
	Replay  bool
	Applied *gateway.Event
}

// Ingest processes one delivery. Signature and parse failures return an
// error and record nothing: an unverifiable payload has no trustworthy
// event ID to dedup on. Everything after the dedup insert records an
// outcome, so redelivery of a poisoned event returns "rejected" instead
// of crash-looping the apply path.
func (i *Ingestor) Ingest(ctx context.Context, provider gateway.Provider, payload []byte, signature string) (*Result, error) {
	if err := i.orch.VerifyWebhookSignature(ctx, provider, payload, signature); err != nil {
		webhooksReceivedTotal.WithLabelValues(string(provider), "signature_failed").Inc()
		return nil, err
	}

	adapter, err := i.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	parsed, err := adapter.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, gateway.ErrUnrecognizedEvent) {
			// Unrelated event types are normal provider chatter.
			webhooksReceivedTotal.WithLabelValues(string(provider), "ignored").Inc()
			return nil, err
		}
		webhooksReceivedTotal.WithLabelValues(string(provider), "parse_failed").Inc()
		i.alerts.Raise(ctx, &alerts.Alert{
			Kind:     alerts.KindWebhookRejected,
			Provider: string(provider),
			Message:  fmt.Sprintf("unparseable webhook payload: %v", err),
		})
		return nil, err
	}

	hash := sha256.Sum256(payload)
	record := &Event{
		Provider:    string(provider),
		EventID:     parsed.ID,
		PayloadHash: hex.EncodeToString(hash[:]),
		ReceivedAt:  time.Now(),
	}
	if err := i.store.Insert(ctx, record); err != nil {
		if !errors.Is(err, ErrDuplicateEvent) {
			return nil, fmt.Errorf("record webhook event: %w", err)
		}
		existing, gerr := i.store.Get(ctx, string(provider), parsed.ID)
		if gerr != nil {
			return nil, gerr
		}
		if existing.PayloadHash != record.PayloadHash {
			// Same event ID, different body. Either the provider mutated
			// the payload between deliveries or someone is forging IDs;
			// neither gets applied.
			webhooksReceivedTotal.WithLabelValues(string(provider), "payload_mismatch").Inc()
			i.alerts.Raise(ctx, &alerts.Alert{
				Kind:     alerts.KindWebhookRejected,
				Provider: string(provider),
				Message:  fmt.Sprintf("webhook %s redelivered with a different payload", parsed.ID),
				Metadata: map[string]string{"eventId": parsed.ID},
			})
			return nil, ErrPayloadMismatch
		}
		if existing.ProcessedAt != nil {
			webhooksReceivedTotal.WithLabelValues(string(provider), "replay").Inc()
			i.logger.Debug("webhook replay",
				"provider", provider, "eventId", parsed.ID, "outcome", existing.Outcome)
			return &Result{Event: existing, Replay: true, Applied: parsed}, nil
		}
		// The dedup row exists but no outcome was ever recorded: the first
		// attempt died between the insert and SetOutcome. Run the apply
		// path now; the ledger idempotency key makes a partial first
		// attempt safe to repeat.
		record = existing
	}

	idempotencyKey := fmt.Sprintf("wh:%s:%s", provider, parsed.ID)
	outcome := OutcomeProcessed
	applyErr := i.orch.ProcessWebhook(ctx, parsed, idempotencyKey)
	if applyErr != nil {
		outcome = OutcomeRejected
		i.alerts.Raise(ctx, &alerts.Alert{
			Kind:     alerts.KindWebhookRejected,
			Provider: string(provider),
			Message:  fmt.Sprintf("webhook %s rejected: %v", parsed.ID, applyErr),
			Metadata: map[string]string{"eventId": parsed.ID, "kind": string(parsed.Kind)},
		})
		i.logger.Warn("webhook rejected",
			"provider", provider, "eventId", parsed.ID, "kind", parsed.Kind, "error", applyErr)
	}

	now := time.Now()
	if err := i.store.SetOutcome(ctx, string(provider), parsed.ID, outcome, now); err != nil {
		i.logger.Error("failed to record webhook outcome",
			"provider", provider, "eventId", parsed.ID, "error", err)
	}
	record.Outcome = outcome
	record.ProcessedAt = &now

	webhooksReceivedTotal.WithLabelValues(string(provider), string(outcome)).Inc()
	return &Result{Event: record, Applied: parsed}, applyErr
}
