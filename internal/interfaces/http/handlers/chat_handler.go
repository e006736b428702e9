package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/atelier-ai/atelier/internal/application/usecase"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChatHandler serves the agent endpoints.
type ChatHandler struct {
	runtime  *usecase.SessionRuntime
	rollback *usecase.RollbackUseCase
	logger   *zap.Logger
}

// NewChatHandler creates the chat handler.
func NewChatHandler(runtime *usecase.SessionRuntime, rollback *usecase.RollbackUseCase, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{runtime: runtime, rollback: rollback, logger: logger}
}

// ChatRequest is the agent turn request body.
type ChatRequest struct {
	Message           string            `json:"message" binding:"required"`
	SessionID         string            `json:"session_id"`
	ConfigID          string            `json:"config_id"`
	WorkPath          string            `json:"work_path"`
	AgentMode         string            `json:"agent_mode"`
	ShellUnrestricted bool              `json:"shell_unrestricted"`
	Attachments       []AttachmentInput `json:"attachments"`
}

func (r *ChatRequest) toTurnRequest() (usecase.TurnRequest, error) {
	attachments, err := decodeAttachments(r.Attachments)
	if err != nil {
		return usecase.TurnRequest{}, err
	}
	return usecase.TurnRequest{
		SessionID:         r.SessionID,
		ConfigID:          r.ConfigID,
		Message:           r.Message,
		WorkPath:          r.WorkPath,
		AgentMode:         r.AgentMode,
		ShellUnrestricted: r.ShellUnrestricted,
		Attachments:       attachments,
	}, nil
}

// ChatStream runs a turn and streams events as SSE.
// POST /api/v1/chat/stream
func (h *ChatHandler) ChatStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	turnReq, err := req.toTurnRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	emit := func(ev usecase.TurnEvent) {
		payload := eventPayload(ev)
		if payload == nil {
			return
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		_, _ = c.Writer.WriteString("data: " + string(data) + "\n\n")
		c.Writer.Flush()
	}

	if _, err := h.runtime.RunTurn(c.Request.Context(), turnReq, emit); err != nil {
		h.logger.Error("Turn failed before streaming", zap.Error(err))
		emit(usecase.TurnEvent{Err: err.Error()})
	}
}

// eventPayload maps a turn event to its wire shape.
func eventPayload(ev usecase.TurnEvent) interface{} {
	switch {
	case ev.Meta != nil:
		return ev.Meta
	case ev.Step != nil:
		return gin.H{
			"step_type": ev.Step.Type,
			"content":   ev.Step.Content,
			"metadata":  ev.Step.Metadata,
		}
	case ev.Done:
		return gin.H{"done": true, "session_id": ev.SessionID}
	case ev.Err != "":
		return gin.H{"error": ev.Err}
	}
	return nil
}

// Chat runs a turn and returns the final reply as JSON.
// POST /api/v1/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	turnReq, err := req.toTurnRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var turnErr string
	result, err := h.runtime.RunTurn(c.Request.Context(), turnReq, func(ev usecase.TurnEvent) {
		if ev.Err != "" {
			turnErr = ev.Err
		}
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": turnErr})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reply":      result.Reply,
		"session_id": result.SessionID,
		"message_id": result.AssistantMessageID,
	})
}

// StopRequest targets the assistant message of a running turn.
type StopRequest struct {
	MessageID int64 `json:"message_id" binding:"required"`
}

// Stop sets the stop signal for a running turn.
// POST /api/v1/chat/stop
func (h *ChatHandler) Stop(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stopped := h.runtime.Stops().Stop(req.MessageID)
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

// RollbackRequest targets a message to roll back to.
type RollbackRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	MessageID int64  `json:"message_id" binding:"required"`
}

// Rollback restores the workspace snapshot and truncates the dialogue.
// POST /api/v1/chat/rollback
func (h *ChatHandler) Rollback(c *gin.Context) {
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.rollback.Execute(c.Request.Context(), req.SessionID, req.MessageID)
	if err != nil {
		h.logger.Error("Rollback failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
