package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// AdyenAdapter integrates Adyen's checkout API. Notifications are
// signed with base64 HMAC-SHA256 over the raw body.
type AdyenAdapter struct {
	rest       *restClient
	hmacSecret string
}

// NewAdyenAdapter creates an Adyen adapter.
func NewAdyenAdapter(baseURL, apiKey, hmacSecret string) *AdyenAdapter {
	return &AdyenAdapter{
		rest:       newRESTClient(baseURL, apiKey),
		hmacSecret: hmacSecret,
	}
}

func (a *AdyenAdapter) Provider() Provider { return ProviderAdyen }

type adyenPaymentResponse struct {
	PSPReference string `json:"pspReference"`
	ResultCode   string `json:"resultCode"`
}

// Capture submits an authorise-and-capture payment.
func (a *AdyenAdapter) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	body := map[string]any{
		"amount":            map[string]any{"value": req.Amount, "currency": req.Currency},
		"reference":         req.AssignmentID,
		"paymentMethod":     map[string]any{"type": "scheme", "storedPaymentMethodId": req.PaymentToken},
		"captureDelayHours": 0,
	}
	var resp adyenPaymentResponse
	err := a.rest.doJSON(ctx, http.MethodPost, "/v71/payments", req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderAdyen, "capture", err)
	if err != nil {
		return nil, &Error{Provider: ProviderAdyen, Op: "capture", Retryable: true, Err: err}
	}
	if resp.ResultCode != "Authorised" {
		return nil, &Error{
			Provider: ProviderAdyen, Op: "capture",
			Err: fmt.Errorf("result code %s for %s", resp.ResultCode, resp.PSPReference),
		}
	}
	return &CaptureResult{
		ExternalTxID: resp.PSPReference,
		Metadata:     map[string]string{"result_code": resp.ResultCode},
	}, nil
}

// Payout submits a payout to the worker's stored bank details. Adyen
// confirms payouts asynchronously.
func (a *AdyenAdapter) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	body := map[string]any{
		"amount":                           map[string]any{"value": req.Amount, "currency": req.Currency},
		"reference":                        req.EscrowID,
		"selectedRecurringDetailReference": req.Destination,
	}
	var resp adyenPaymentResponse
	err := a.rest.doJSON(ctx, http.MethodPost, "/v68/payout", req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderAdyen, "payout", err)
	if err != nil {
		return nil, &Error{Provider: ProviderAdyen, Op: "payout", Err: err}
	}
	return &PayoutResult{ExternalTxID: resp.PSPReference, Confirmed: false}, nil
}

// Refund submits a refund against the original payment.
func (a *AdyenAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := map[string]any{
		"amount":    map[string]any{"value": req.Amount, "currency": req.Currency},
		"reference": req.EscrowID,
	}
	path := fmt.Sprintf("/v71/payments/%s/refunds", req.ExternalTxID)
	var resp adyenPaymentResponse
	err := a.rest.doJSON(ctx, http.MethodPost, path, req.IdempotencyKey, body, &resp)
	ObserveCall(ProviderAdyen, "refund", err)
	if err != nil {
		return nil, &Error{Provider: ProviderAdyen, Op: "refund", Err: err}
	}
	return &RefundResult{ExternalTxID: resp.PSPReference, Confirmed: false}, nil
}

// VerifySignature checks the base64 HMAC-SHA256 notification signature.
func (a *AdyenAdapter) VerifySignature(payload []byte, signature string) error {
	return verifyHMAC(hmacSHA256Base64(a.hmacSecret, payload), signature)
}

type adyenNotification struct {
	EventCode         string `json:"eventCode"`
	PSPReference      string `json:"pspReference"`
	MerchantReference string `json:"merchantReference"`
	Success           string `json:"success"`
	Reason            string `json:"reason"`
	Amount            struct {
		Value    int64  `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// ParseEvent maps Adyen notification event codes onto the normalized
// vocabulary. Unsuccessful notifications are unrecognized: failure
// handling happens on the synchronous call path.
func (a *AdyenAdapter) ParseEvent(payload []byte) (*Event, error) {
	var n adyenNotification
	if err := unmarshalEvent(payload, &n); err != nil {
		return nil, err
	}
	if n.Success != "true" {
		return nil, fmt.Errorf("%w: adyen %s success=%s", ErrUnrecognizedEvent, n.EventCode, n.Success)
	}

	out := &Event{
		Provider:     ProviderAdyen,
		ID:           n.PSPReference + ":" + n.EventCode,
		AssignmentID: n.MerchantReference,
		ExternalTxID: n.PSPReference,
		Amount:       n.Amount.Value,
		Currency:     n.Amount.Currency,
	}

	switch n.EventCode {
	case "AUTHORISATION", "CAPTURE":
		out.Kind = EventCaptureConfirmed
	case "PAYOUT_THIRDPARTY":
		out.Kind = EventReleaseConfirmed
	case "REFUND":
		out.Kind = EventRefundConfirmed
	case "CHARGEBACK", "NOTIFICATION_OF_CHARGEBACK":
		out.Kind = EventDisputeOpened
	case "CHARGEBACK_REVERSED":
		out.Kind = EventDisputeResolved
		out.Resolution = "release"
	default:
		return nil, fmt.Errorf("%w: adyen %s", ErrUnrecognizedEvent, n.EventCode)
	}
	return out, nil
}
