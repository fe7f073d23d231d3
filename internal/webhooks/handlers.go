package webhooks

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/workbridge/paycore/internal/gateway"
	"github.com/workbridge/paycore/internal/pagination"
)

const maxWebhookBody = 1 << 20 // 1MB

// signatureHeaders maps each provider to the header its deliveries sign.
var signatureHeaders = map[gateway.Provider]string{
	gateway.ProviderStripe:   "Stripe-Signature",
	gateway.ProviderAdyen:    "X-Adyen-HmacSignature",
	gateway.ProviderPayPal:   "Paypal-Transmission-Sig",
	gateway.ProviderPaystack: "X-Paystack-Signature",
	gateway.ProviderRazorpay: "X-Razorpay-Signature",
	gateway.ProviderUSDC:     "X-Paycore-Signature",
	gateway.ProviderWallet:   "X-Paycore-Signature",
}

// Handler receives provider callbacks.
type Handler struct {
	ingestor *Ingestor
	store    Store
}

// NewHandler creates a new webhooks handler.
func NewHandler(ingestor *Ingestor, store Store) *Handler {
	return &Handler{ingestor: ingestor, store: store}
}

// RegisterRoutes sets up webhook routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/:provider", h.Receive)
	r.GET("/webhooks/:provider/events", h.ListEvents)
}

// Receive handles POST /v1/webhooks/:provider.
//
// Once an outcome is recorded the response is 200 even for rejected
// events; a non-2xx would only make the provider redeliver a payload we
// have already decided about.
func (h *Handler) Receive(c *gin.Context) {
	provider, err := gateway.ParseProvider(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unknown_provider",
			"message": "No such payment provider",
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Failed to read request body",
		})
		return
	}
	signature := c.GetHeader(signatureHeaders[provider])

	result, err := h.ingestor.Ingest(c.Request.Context(), provider, payload, signature)
	switch {
	case errors.Is(err, gateway.ErrSignatureVerification):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "signature_verification_failed",
			"message": "Webhook signature is missing or invalid",
		})
		return
	case errors.Is(err, gateway.ErrProviderNotConfigured):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "provider_not_configured",
			"message": "Provider has no configured adapter",
		})
		return
	case errors.Is(err, gateway.ErrUnrecognizedEvent):
		// Provider chatter outside the payment lifecycle.
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case errors.Is(err, ErrPayloadMismatch):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "payload_mismatch",
			"message": "Event was already recorded with a different payload",
		})
		return
	case result == nil:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Failed to parse webhook payload",
		})
		return
	}

	status := "processed"
	if result.Event.Outcome == OutcomeRejected {
		status = "rejected"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"eventId": result.Event.EventID,
		"replay":  result.Replay,
	})
}

// ListEvents handles GET /v1/webhooks/:provider/events for support
// tooling. Pages are keyed by an opaque cursor on received_at.
func (h *Handler) ListEvents(c *gin.Context) {
	provider := c.Param("provider")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is not valid",
		})
		return
	}
	var before time.Time
	if cursor != nil {
		before = cursor.Timestamp
	}

	// Fetch one extra row to learn whether another page exists.
	events, err := h.store.List(c.Request.Context(), provider, before, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "webhook_query_failed",
			"message": "Failed to query webhook events",
		})
		return
	}

	events, next, hasMore := pagination.ComputePage(events, limit, func(ev *Event) (time.Time, string) {
		return ev.ReceivedAt, ev.EventID
	})
	if events == nil {
		events = []*Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events":     events,
		"count":      len(events),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}
