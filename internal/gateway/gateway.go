// Package gateway normalizes external payment providers behind one
// adapter interface. Each provider has its own capture/payout/refund
// calls, webhook payload shape, and signing scheme; everything past this
// package speaks the normalized types only.
//
// The provider set is a closed enumeration: adding a provider means
// adding an adapter and registering it, never dispatching on free-form
// strings.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrUnknownProvider        = errors.New("gateway: unknown provider")
	ErrSignatureVerification  = errors.New("gateway: webhook signature verification failed")
	ErrUnrecognizedEvent      = errors.New("gateway: unrecognized event type")
	ErrProviderNotConfigured  = errors.New("gateway: provider not configured")
	ErrUnsupportedForProvider = errors.New("gateway: operation not supported by provider")
)

// Provider identifies a payment gateway.
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderAdyen    Provider = "adyen"
	ProviderPayPal   Provider = "paypal"
	ProviderPaystack Provider = "paystack"
	ProviderRazorpay Provider = "razorpay"
	ProviderUSDC     Provider = "usdc"
	ProviderWallet   Provider = "wallet"
)

// Providers is the closed set of known providers.
var Providers = []Provider{
	ProviderStripe, ProviderAdyen, ProviderPayPal, ProviderPaystack,
	ProviderRazorpay, ProviderUSDC, ProviderWallet,
}

// ParseProvider validates a provider name against the closed set.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Error wraps a provider-side failure with enough context for the caller
// to decide between retry and escalation. Retryable is only meaningful
// before any local state is committed; post-commit failures go to the
// operational alert queue regardless.
type Error struct {
	Provider  Provider
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// EventKind is the normalized webhook event vocabulary.
type EventKind string

const (
	EventCaptureConfirmed EventKind = "capture-confirmed"
	EventReleaseConfirmed EventKind = "release-confirmed"
	EventRefundConfirmed  EventKind = "refund-confirmed"
	EventDisputeOpened    EventKind = "dispute-opened"
	EventDisputeResolved  EventKind = "dispute-resolved"
)

// Event is a provider callback normalized into internal vocabulary.
type Event struct {
	Provider     Provider  `json:"provider"`
	ID           string    `json:"id"` // provider-assigned event id
	Kind         EventKind `json:"kind"`
	AssignmentID string    `json:"assignmentId,omitempty"`
	ExternalTxID string    `json:"externalTxId,omitempty"`
	Amount       int64     `json:"amount,omitempty"` // minor units
	Currency     string    `json:"currency,omitempty"`
	// Resolution carries the operator outcome for dispute-resolved
	// events: "release" or "refund".
	Resolution string `json:"resolution,omitempty"`
}

// CaptureRequest charges the payer and places funds into escrow.
type CaptureRequest struct {
	AssignmentID   string
	Amount         int64 // minor units
	Currency       string
	PaymentToken   string // provider payment method token, or tx hash for usdc
	IdempotencyKey string // reused verbatim on provider-side retries
}

// CaptureResult is the provider's definitive answer to a capture.
type CaptureResult struct {
	ExternalTxID string
	Metadata     map[string]string
}

// PayoutRequest pays escrowed funds out to a worker.
type PayoutRequest struct {
	EscrowID       string
	Destination    string // provider-specific worker account reference
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// PayoutResult is the provider's answer to a payout instruction.
type PayoutResult struct {
	ExternalTxID string
	// Confirmed is true when the provider settles synchronously (wallet
	// credit, on-chain receipt). When false, the release-confirmed
	// webhook completes the transition later.
	Confirmed bool
	Metadata  map[string]string
}

// RefundRequest returns funds to the payer.
type RefundRequest struct {
	EscrowID       string
	ExternalTxID   string // the original capture's provider transaction
	Amount         int64
	Currency       string
	Reason         string
	IdempotencyKey string
	// Metadata carries capture-time details some providers need to
	// route the refund, e.g. the wallet account that was debited.
	Metadata map[string]string
}

// RefundResult is the provider's answer to a refund instruction.
type RefundResult struct {
	ExternalTxID string
	Confirmed    bool
	Metadata     map[string]string
}

// Adapter performs provider calls and normalizes webhook payloads.
// Network operations must respect ctx deadlines; VerifySignature must
// fail closed, treating any verification error as invalid.
type Adapter interface {
	Provider() Provider
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	VerifySignature(payload []byte, signature string) error
	ParseEvent(payload []byte) (*Event, error)
}

// DefaultCallTimeout bounds a single provider network call.
const DefaultCallTimeout = 30 * time.Second

var gatewayCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paycore",
	Subsystem: "gateway",
	Name:      "calls_total",
	Help:      "Total gateway calls by provider, operation, and result.",
}, []string{"provider", "op", "result"})

func init() {
	prometheus.MustRegister(gatewayCallsTotal)
}

// ObserveCall records a gateway call outcome.
func ObserveCall(p Provider, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayCallsTotal.WithLabelValues(string(p), op, result).Inc()
}

// Registry maps the closed provider set to configured adapters.
type Registry struct {
	adapters map[Provider]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Get returns the adapter for a provider.
func (r *Registry) Get(p Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, p)
	}
	return a, nil
}

// Configured returns the providers with a registered adapter.
func (r *Registry) Configured() []Provider {
	out := make([]Provider, 0, len(r.adapters))
	for _, p := range Providers { // stable order
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
