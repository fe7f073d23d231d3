package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeAdapter drives card captures through Stripe PaymentIntents and
// payouts through Transfers. Webhook signatures use Stripe's timestamped
// HMAC scheme, verified by the official library.
type StripeAdapter struct {
	api           *client.API
	webhookSecret string
}

// NewStripeAdapter creates a Stripe adapter.
func NewStripeAdapter(apiKey, webhookSecret string) *StripeAdapter {
	return &StripeAdapter{
		api:           client.New(apiKey, nil),
		webhookSecret: webhookSecret,
	}
}

func (a *StripeAdapter) Provider() Provider { return ProviderStripe }

// Capture confirms a PaymentIntent for the booking amount. The
// idempotency key is passed through to Stripe so provider-side retries
// cannot double-charge.
func (a *StripeAdapter) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.PaymentToken),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("assignment_id", req.AssignmentID)

	pi, err := a.api.PaymentIntents.New(params)
	ObserveCall(ProviderStripe, "capture", err)
	if err != nil {
		return nil, &Error{Provider: ProviderStripe, Op: "capture", Retryable: true, Err: err}
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded &&
		pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		return nil, &Error{
			Provider: ProviderStripe, Op: "capture",
			Err: fmt.Errorf("payment intent %s in status %s", pi.ID, pi.Status),
		}
	}

	return &CaptureResult{
		ExternalTxID: pi.ID,
		Metadata:     map[string]string{"stripe_status": string(pi.Status)},
	}, nil
}

// Payout transfers the escrowed amount to the worker's connected account.
// Stripe settles transfers asynchronously; the release-confirmed webhook
// completes the escrow transition.
func (a *StripeAdapter) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("escrow_id", req.EscrowID)

	tr, err := a.api.Transfers.New(params)
	ObserveCall(ProviderStripe, "payout", err)
	if err != nil {
		return nil, &Error{Provider: ProviderStripe, Op: "payout", Err: err}
	}

	return &PayoutResult{ExternalTxID: tr.ID, Confirmed: false}, nil
}

// Refund returns funds against the original PaymentIntent.
func (a *StripeAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ExternalTxID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	ref, err := a.api.Refunds.New(params)
	ObserveCall(ProviderStripe, "refund", err)
	if err != nil {
		return nil, &Error{Provider: ProviderStripe, Op: "refund", Err: err}
	}

	return &RefundResult{ExternalTxID: ref.ID, Confirmed: false}, nil
}

// VerifySignature validates Stripe's Stripe-Signature header. Any error,
// including a malformed header or expired timestamp, is a verification
// failure.
func (a *StripeAdapter) VerifySignature(payload []byte, signature string) error {
	if _, err := webhook.ConstructEvent(payload, signature, a.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	return nil
}

// stripeObject is the subset of the event payload object we read.
type stripeObject struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	PaymentIntent  string            `json:"payment_intent"`
	Metadata       map[string]string `json:"metadata"`
}

// ParseEvent maps Stripe event types onto the normalized vocabulary.
func (a *StripeAdapter) ParseEvent(payload []byte) (*Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("parse stripe event: %w", err)
	}

	var obj stripeObject
	if ev.Data != nil {
		if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
			return nil, fmt.Errorf("parse stripe event object: %w", err)
		}
	}

	out := &Event{
		Provider:     ProviderStripe,
		ID:           ev.ID,
		AssignmentID: obj.Metadata["assignment_id"],
		ExternalTxID: obj.ID,
		Amount:       obj.Amount,
		Currency:     obj.Currency,
	}

	switch ev.Type {
	case "payment_intent.succeeded":
		out.Kind = EventCaptureConfirmed
	case "payout.paid", "transfer.paid":
		out.Kind = EventReleaseConfirmed
	case "charge.refunded":
		out.Kind = EventRefundConfirmed
		out.Amount = obj.AmountRefunded
		out.ExternalTxID = obj.PaymentIntent
	case "charge.dispute.created":
		out.Kind = EventDisputeOpened
		out.ExternalTxID = obj.PaymentIntent
	case "charge.dispute.closed":
		out.Kind = EventDisputeResolved
		out.ExternalTxID = obj.PaymentIntent
		if obj.Status == "won" {
			out.Resolution = "release"
		} else {
			out.Resolution = "refund"
		}
	default:
		return nil, fmt.Errorf("%w: stripe %s", ErrUnrecognizedEvent, ev.Type)
	}

	return out, nil
}
