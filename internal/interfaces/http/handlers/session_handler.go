package handlers

import (
	"net/http"
	"strconv"

	"github.com/atelier-ai/atelier/internal/domain/repository"
	"github.com/atelier-ai/atelier/internal/infrastructure/pty"
	domainErrors "github.com/atelier-ai/atelier/pkg/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionHandler serves session listing and deletion.
type SessionHandler struct {
	sessions repository.SessionRepository
	messages repository.MessageRepository
	ptys     *pty.Manager
	logger   *zap.Logger
}

// NewSessionHandler creates the session handler.
func NewSessionHandler(sessions repository.SessionRepository, messages repository.MessageRepository, ptys *pty.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, messages: messages, ptys: ptys, logger: logger}
}

// List returns all sessions, most recently updated first.
// GET /api/v1/sessions
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// Messages returns a session's dialogue.
// GET /api/v1/sessions/:session_id/messages
func (h *SessionHandler) Messages(c *gin.Context) {
	sessionID := c.Param("session_id")
	afterID, _ := strconv.ParseInt(c.Query("after_id"), 10, 64)

	msgs, err := h.messages.ListAfter(c.Request.Context(), sessionID, afterID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   msgs,
		"count":      len(msgs),
	})
}

// Delete removes a session and everything under it.
// DELETE /api/v1/sessions/:session_id
func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID := c.Param("session_id")

	h.ptys.CloseSession(sessionID)
	if err := h.sessions.Delete(c.Request.Context(), sessionID); err != nil {
		if domainErrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": sessionID})
}
