package alerts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes the operator-facing alert queue.
type Handler struct {
	queue *Queue
}

// NewHandler creates a new alerts handler.
func NewHandler(queue *Queue) *Handler {
	return &Handler{queue: queue}
}

// RegisterRoutes sets up alert routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/alerts", h.ListAlerts)
	r.POST("/alerts/:id/ack", h.AcknowledgeAlert)
}

// ListAlerts handles GET /v1/alerts?unacked=true&limit=50
func (h *Handler) ListAlerts(c *gin.Context) {
	unacked := c.Query("unacked") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	out, err := h.queue.List(c.Request.Context(), unacked, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "alerts_query_failed",
			"message": "Failed to query alerts",
		})
		return
	}
	if out == nil {
		out = []*Alert{}
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": out,
		"count":  len(out),
	})
}

// AcknowledgeAlert handles POST /v1/alerts/:id/ack
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.Acknowledge(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "alert_not_found",
				"message": "No alert with that ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "alert_ack_failed",
			"message": "Failed to acknowledge alert",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "acknowledged": true})
}
