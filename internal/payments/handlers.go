package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/workbridge/paycore/internal/escrow"
)

// Handler exposes the payment orchestration API.
type Handler struct {
	service PaymentService
	escrows *escrow.Service
}

// NewHandler creates a new payments handler.
func NewHandler(service PaymentService, escrows *escrow.Service) *Handler {
	return &Handler{service: service, escrows: escrows}
}

// RegisterRoutes sets up payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.ProcessPayment)
	r.GET("/payments/:id", h.GetPayment)
	r.GET("/escrows/:id", h.GetEscrow)
	r.POST("/escrows/:id/release", h.Release)
	r.POST("/escrows/:id/refund", h.Refund)
	r.POST("/escrows/:id/dispute", h.Dispute)
}

// RegisterAdminRoutes sets up routes that require operator privileges.
// Dispute resolution moves money on someone's say-so, so it never sits
// on the public surface.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrows/:id/resolve", h.Resolve)
}

// ProcessPayment handles POST /v1/payments
func (h *Handler) ProcessPayment(c *gin.Context) {
	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}
	if req.AssignmentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "assignmentId is required",
		})
		return
	}

	payment, err := h.service.ProcessPayment(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// GetPayment handles GET /v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	payment, err := h.service.GetPaymentStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	rec, err := h.escrows.GetEscrowState(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Release handles POST /v1/escrows/:id/release
func (h *Handler) Release(c *gin.Context) {
	payment, err := h.service.ReleaseEscrow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type refundRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

// Refund handles POST /v1/escrows/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	payment, err := h.service.ProcessRefund(c.Request.Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

// Dispute handles POST /v1/escrows/:id/dispute
func (h *Handler) Dispute(c *gin.Context) {
	var req disputeRequest
	_ = c.ShouldBindJSON(&req)

	payment, err := h.service.ProcessDispute(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type resolveRequest struct {
	Outcome string `json:"outcome" binding:"required"`
	Reason  string `json:"reason"`
}

// Resolve handles POST /v1/escrows/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome is required (release or refund)",
		})
		return
	}

	payment, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), req.Outcome, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, escrow.ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_funds",
			"message": err.Error(),
		})
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrAssignmentNotFound),
		errors.Is(err, escrow.ErrEscrowNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, escrow.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": err.Error(),
		})
	case errors.Is(err, escrow.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "version_conflict",
			"message": "Concurrent update detected, retry with fresh state",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "payment_failed",
			"message": err.Error(),
		})
	}
}
