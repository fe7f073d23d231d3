package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// PayPalAdapter integrates PayPal wallet payments. Webhook transmissions
// are verified with a shared-secret HMAC-SHA256 over the raw body.
type PayPalAdapter struct {
	rest          *restClient
	webhookSecret string
}

// NewPayPalAdapter creates a PayPal adapter.
func NewPayPalAdapter(baseURL, apiKey, webhookSecret string) *PayPalAdapter {
	return &PayPalAdapter{
		rest:          newRESTClient(baseURL, apiKey),
		webhookSecret: webhookSecret,
	}
}

func (a *PayPalAdapter) Provider() Provider { return ProviderPayPal }

type paypalOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Capture creates and captures an order against the payer's wallet.
func (a *PayPalAdapter) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.AssignmentID,
			"amount": map[string]any{
				"currency_code": req.Currency,
				"value":         formatMinorUnits(req.Amount),
			},
		}},
		"payment_source": map[string]any{"token": map[string]any{"id": req.PaymentToken, "type": "BILLING_AGREEMENT"}},
	}
	var resp paypalOrderResponse
	err := a.rest.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderPayPal, "capture", err)
	if err != nil {
		return nil, &Error{Provider: ProviderPayPal, Op: "capture", Retryable: true, Err: err}
	}
	if resp.Status != "COMPLETED" && resp.Status != "APPROVED" {
		return nil, &Error{
			Provider: ProviderPayPal, Op: "capture",
			Err: fmt.Errorf("order %s in status %s", resp.ID, resp.Status),
		}
	}
	return &CaptureResult{ExternalTxID: resp.ID, Metadata: map[string]string{"paypal_status": resp.Status}}, nil
}

// Payout sends the escrowed amount to the worker's PayPal account.
func (a *PayPalAdapter) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	body := map[string]any{
		"sender_batch_header": map[string]any{"sender_batch_id": req.IdempotencyKey},
		"items": []map[string]any{{
			"recipient_type": "EMAIL",
			"receiver":       req.Destination,
			"note":           req.EscrowID,
			"amount": map[string]any{
				"currency": req.Currency,
				"value":    formatMinorUnits(req.Amount),
			},
		}},
	}
	var resp struct {
		BatchHeader struct {
			PayoutBatchID string `json:"payout_batch_id"`
		} `json:"batch_header"`
	}
	err := a.rest.doJSON(ctx, http.MethodPost, "/v1/payments/payouts", req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderPayPal, "payout", err)
	if err != nil {
		return nil, &Error{Provider: ProviderPayPal, Op: "payout", Err: err}
	}
	return &PayoutResult{ExternalTxID: resp.BatchHeader.PayoutBatchID, Confirmed: false}, nil
}

// Refund refunds a captured order.
func (a *PayPalAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := map[string]any{
		"amount": map[string]any{
			"currency_code": req.Currency,
			"value":         formatMinorUnits(req.Amount),
		},
		"note_to_payer": req.Reason,
	}
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", req.ExternalTxID)
	var resp paypalOrderResponse
	err := a.rest.doJSON(ctx, http.MethodPost, path, req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderPayPal, "refund", err)
	if err != nil {
		return nil, &Error{Provider: ProviderPayPal, Op: "refund", Err: err}
	}
	return &RefundResult{ExternalTxID: resp.ID, Confirmed: false}, nil
}

// VerifySignature checks the hex HMAC-SHA256 transmission signature.
func (a *PayPalAdapter) VerifySignature(payload []byte, signature string) error {
	return verifyHMAC(hmacSHA256Hex(a.webhookSecret, payload), signature)
}

type paypalWebhook struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID       string `json:"id"`
		CustomID string `json:"custom_id"`
		Status   string `json:"status"`
		Amount   struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
		Outcome struct {
			OutcomeCode string `json:"outcome_code"`
		} `json:"outcome"`
	} `json:"resource"`
}

// ParseEvent maps PayPal webhook event types onto the normalized
// vocabulary.
func (a *PayPalAdapter) ParseEvent(payload []byte) (*Event, error) {
	var w paypalWebhook
	if err := unmarshalEvent(payload, &w); err != nil {
		return nil, err
	}

	amount, _ := parseMinorUnits(w.Resource.Amount.Value)
	out := &Event{
		Provider:     ProviderPayPal,
		ID:           w.ID,
		AssignmentID: w.Resource.CustomID,
		ExternalTxID: w.Resource.ID,
		Amount:       amount,
		Currency:     w.Resource.Amount.CurrencyCode,
	}

	switch w.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		out.Kind = EventCaptureConfirmed
	case "PAYMENT.PAYOUTS-ITEM.SUCCEEDED":
		out.Kind = EventReleaseConfirmed
	case "PAYMENT.CAPTURE.REFUNDED":
		out.Kind = EventRefundConfirmed
	case "CUSTOMER.DISPUTE.CREATED":
		out.Kind = EventDisputeOpened
	case "CUSTOMER.DISPUTE.RESOLVED":
		out.Kind = EventDisputeResolved
		if w.Resource.Outcome.OutcomeCode == "RESOLVED_SELLER_FAVOUR" {
			out.Resolution = "release"
		} else {
			out.Resolution = "refund"
		}
	default:
		return nil, fmt.Errorf("%w: paypal %s", ErrUnrecognizedEvent, w.EventType)
	}
	return out, nil
}
