package handlers

import (
	"net/http"
	"strconv"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PermissionHandler surfaces pending permission requests to the approver UI
// and records decisions.
type PermissionHandler struct {
	broker *domaintool.PermissionBroker
	logger *zap.Logger
}

// NewPermissionHandler creates the permission handler.
func NewPermissionHandler(broker *domaintool.PermissionBroker, logger *zap.Logger) *PermissionHandler {
	return &PermissionHandler{broker: broker, logger: logger}
}

// List returns pending requests, optionally scoped to a session.
// GET /api/v1/permissions
func (h *PermissionHandler) List(c *gin.Context) {
	requests, err := h.broker.ListPending(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// DecideRequest is a permission decision body.
type DecideRequest struct {
	Status string `json:"status" binding:"required"`
}

// Decide transitions a pending request. The waiting tool observes the new
// status within one polling interval.
// POST /api/v1/permissions/:request_id
func (h *PermissionHandler) Decide(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("request_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status != entity.PermissionApproved && req.Status != entity.PermissionDenied {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be approved or denied"})
		return
	}
	if err := h.broker.Update(c.Request.Context(), id, req.Status); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}
