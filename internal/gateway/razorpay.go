package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// RazorpayAdapter integrates Razorpay for Indian card and UPI payments.
// Webhooks carry a hex HMAC-SHA256 signature in X-Razorpay-Signature.
type RazorpayAdapter struct {
	rest          *restClient
	webhookSecret string
}

// NewRazorpayAdapter creates a Razorpay adapter.
func NewRazorpayAdapter(baseURL, apiKey, webhookSecret string) *RazorpayAdapter {
	return &RazorpayAdapter{
		rest:          newRESTClient(baseURL, apiKey),
		webhookSecret: webhookSecret,
	}
}

func (a *RazorpayAdapter) Provider() Provider { return ProviderRazorpay }

type razorpayEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Capture charges the payer's token.
func (a *RazorpayAdapter) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	body := map[string]any{
		"amount":   req.Amount,
		"currency": req.Currency,
		"token":    req.PaymentToken,
		"notes":    map[string]string{"assignment_id": req.AssignmentID},
	}
	var resp razorpayEntity
	err := a.rest.doJSON(ctx, http.MethodPost, "/v1/payments/create/recurring", req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderRazorpay, "capture", err)
	if err != nil {
		return nil, &Error{Provider: ProviderRazorpay, Op: "capture", Retryable: true, Err: err}
	}
	if resp.Status != "captured" && resp.Status != "authorized" {
		return nil, &Error{
			Provider: ProviderRazorpay, Op: "capture",
			Err: fmt.Errorf("payment %s in status %s", resp.ID, resp.Status),
		}
	}
	return &CaptureResult{ExternalTxID: resp.ID}, nil
}

// Payout sends the escrowed amount to the worker's fund account.
func (a *RazorpayAdapter) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	body := map[string]any{
		"fund_account_id": req.Destination,
		"amount":          req.Amount,
		"currency":        req.Currency,
		"mode":            "IMPS",
		"purpose":         "payout",
		"reference_id":    req.EscrowID,
	}
	var resp razorpayEntity
	err := a.rest.doJSON(ctx, http.MethodPost, "/v1/payouts", req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderRazorpay, "payout", err)
	if err != nil {
		return nil, &Error{Provider: ProviderRazorpay, Op: "payout", Err: err}
	}
	return &PayoutResult{ExternalTxID: resp.ID, Confirmed: false}, nil
}

// Refund refunds a captured payment.
func (a *RazorpayAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := map[string]any{
		"amount": req.Amount,
		"notes":  map[string]string{"reason": req.Reason},
	}
	path := fmt.Sprintf("/v1/payments/%s/refund", req.ExternalTxID)
	var resp razorpayEntity
	err := a.rest.doJSON(ctx, http.MethodPost, path, req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderRazorpay, "refund", err)
	if err != nil {
		return nil, &Error{Provider: ProviderRazorpay, Op: "refund", Err: err}
	}
	return &RefundResult{ExternalTxID: resp.ID, Confirmed: false}, nil
}

// VerifySignature checks the hex HMAC-SHA256 webhook signature.
func (a *RazorpayAdapter) VerifySignature(payload []byte, signature string) error {
	return verifyHMAC(hmacSHA256Hex(a.webhookSecret, payload), signature)
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
				Notes    struct {
					AssignmentID string `json:"assignment_id"`
				} `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Dispute struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Status    string `json:"status"`
			} `json:"entity"`
		} `json:"dispute"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseEvent maps Razorpay webhook events onto the normalized
// vocabulary. Razorpay has no per-event id, so identity is derived from
// the event name and entity id.
func (a *RazorpayAdapter) ParseEvent(payload []byte) (*Event, error) {
	var w razorpayWebhook
	if err := unmarshalEvent(payload, &w); err != nil {
		return nil, err
	}

	pay := w.Payload.Payment.Entity
	out := &Event{
		Provider:     ProviderRazorpay,
		ID:           fmt.Sprintf("%s:%s", w.Event, pay.ID),
		AssignmentID: pay.Notes.AssignmentID,
		ExternalTxID: pay.ID,
		Amount:       pay.Amount,
		Currency:     pay.Currency,
	}

	switch w.Event {
	case "payment.captured":
		out.Kind = EventCaptureConfirmed
	case "payout.processed":
		out.Kind = EventReleaseConfirmed
	case "refund.processed":
		out.Kind = EventRefundConfirmed
	case "payment.dispute.created":
		out.Kind = EventDisputeOpened
		out.ID = fmt.Sprintf("%s:%s", w.Event, w.Payload.Dispute.Entity.ID)
		out.ExternalTxID = w.Payload.Dispute.Entity.PaymentID
	case "payment.dispute.won", "payment.dispute.lost":
		out.Kind = EventDisputeResolved
		out.ID = fmt.Sprintf("%s:%s", w.Event, w.Payload.Dispute.Entity.ID)
		out.ExternalTxID = w.Payload.Dispute.Entity.PaymentID
		if w.Event == "payment.dispute.won" {
			out.Resolution = "release"
		} else {
			out.Resolution = "refund"
		}
	default:
		return nil, fmt.Errorf("%w: razorpay %s", ErrUnrecognizedEvent, w.Event)
	}
	return out, nil
}
