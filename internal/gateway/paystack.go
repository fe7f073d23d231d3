package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// PaystackAdapter integrates Paystack for West-African card and bank
// payments. Webhooks are signed with hex HMAC-SHA512 over the raw body
// in the x-paystack-signature header.
type PaystackAdapter struct {
	rest      *restClient
	secretKey string
}

// NewPaystackAdapter creates a Paystack adapter. Paystack signs webhooks
// with the API secret key itself.
func NewPaystackAdapter(baseURL, secretKey string) *PaystackAdapter {
	return &PaystackAdapter{
		rest:      newRESTClient(baseURL, secretKey),
		secretKey: secretKey,
	}
}

func (a *PaystackAdapter) Provider() Provider { return ProviderPaystack }

type paystackResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Reference    string `json:"reference"`
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	} `json:"data"`
	Message string `json:"message"`
}

// Capture charges the payer's saved authorization.
func (a *PaystackAdapter) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	body := map[string]any{
		"amount":             req.Amount,
		"currency":           req.Currency,
		"authorization_code": req.PaymentToken,
		"reference":          req.IdempotencyKey,
		"metadata":           map[string]string{"assignment_id": req.AssignmentID},
	}
	var resp paystackResponse
	err := a.rest.doJSON(ctx, http.MethodPost, "/transaction/charge_authorization", req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderPaystack, "capture", err)
	if err != nil {
		return nil, &Error{Provider: ProviderPaystack, Op: "capture", Retryable: true, Err: err}
	}
	if !resp.Status || resp.Data.Status != "success" {
		return nil, &Error{
			Provider: ProviderPaystack, Op: "capture",
			Err: fmt.Errorf("charge %s: %s", resp.Data.Status, resp.Message),
		}
	}
	return &CaptureResult{ExternalTxID: resp.Data.Reference}, nil
}

// Payout initiates a transfer to the worker's recipient code.
func (a *PaystackAdapter) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    req.Amount,
		"currency":  req.Currency,
		"recipient": req.Destination,
		"reference": req.IdempotencyKey,
		"reason":    req.EscrowID,
	}
	var resp paystackResponse
	err := a.rest.doJSON(ctx, http.MethodPost, "/transfer", req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderPaystack, "payout", err)
	if err != nil {
		return nil, &Error{Provider: ProviderPaystack, Op: "payout", Err: err}
	}
	return &PayoutResult{ExternalTxID: resp.Data.TransferCode, Confirmed: false}, nil
}

// Refund refunds a charged transaction.
func (a *PaystackAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := map[string]any{
		"transaction":   req.ExternalTxID,
		"amount":        req.Amount,
		"merchant_note": req.Reason,
	}
	var resp paystackResponse
	err := a.rest.doJSON(ctx, http.MethodPost, "/refund", req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderPaystack, "refund", err)
	if err != nil {
		return nil, &Error{Provider: ProviderPaystack, Op: "refund", Err: err}
	}
	return &RefundResult{ExternalTxID: resp.Data.Reference, Confirmed: false}, nil
}

// VerifySignature checks the hex HMAC-SHA512 webhook signature.
func (a *PaystackAdapter) VerifySignature(payload []byte, signature string) error {
	return verifyHMAC(hmacSHA512Hex(a.secretKey, payload), signature)
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
		Metadata  struct {
			AssignmentID string `json:"assignment_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// ParseEvent maps Paystack webhook events onto the normalized
// vocabulary.
func (a *PaystackAdapter) ParseEvent(payload []byte) (*Event, error) {
	var w paystackWebhook
	if err := unmarshalEvent(payload, &w); err != nil {
		return nil, err
	}

	out := &Event{
		Provider:     ProviderPaystack,
		ID:           fmt.Sprintf("%s:%d", w.Event, w.Data.ID),
		AssignmentID: w.Data.Metadata.AssignmentID,
		ExternalTxID: w.Data.Reference,
		Amount:       w.Data.Amount,
		Currency:     w.Data.Currency,
	}

	switch w.Event {
	case "charge.success":
		out.Kind = EventCaptureConfirmed
	case "transfer.success":
		out.Kind = EventReleaseConfirmed
	case "refund.processed":
		out.Kind = EventRefundConfirmed
	case "charge.dispute.create":
		out.Kind = EventDisputeOpened
	case "charge.dispute.resolve":
		out.Kind = EventDisputeResolved
		if w.Data.Status == "resolved" {
			out.Resolution = "release"
		} else {
			out.Resolution = "refund"
		}
	default:
		return nil, fmt.Errorf("%w: paystack %s", ErrUnrecognizedEvent, w.Event)
	}
	return out, nil
}
