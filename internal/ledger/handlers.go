package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes the read-only ledger query surface used by audit and
// support tooling. There are deliberately no write endpoints: entries are
// created only by the escrow state machine.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up ledger query routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ledger/:escrowId", h.ListEntries)
	r.GET("/ledger/:escrowId/balance", h.GetBalance)
}

// ListEntries handles GET /v1/ledger/:escrowId
func (h *Handler) ListEntries(c *gin.Context) {
	escrowID := c.Param("escrowId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.ledger.Entries(c.Request.Context(), escrowID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_query_failed",
			"message": "Failed to query ledger entries",
		})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"escrowId": escrowID,
		"entries":  entries,
		"count":    len(entries),
	})
}

// GetBalance handles GET /v1/ledger/:escrowId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	escrowID := c.Param("escrowId")

	balance, err := h.ledger.Balance(c.Request.Context(), escrowID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_query_failed",
			"message": "Failed to compute balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"escrowId": escrowID,
		"balance":  balance,
	})
}
