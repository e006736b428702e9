package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/atelier-ai/atelier/internal/infrastructure/pty"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PtyHandler manages interactive terminal processes over HTTP, plus a
// websocket attach for live streaming.
type PtyHandler struct {
	manager  *pty.Manager
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewPtyHandler creates the PTY handler.
func NewPtyHandler(manager *pty.Manager, logger *zap.Logger) *PtyHandler {
	return &PtyHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// CreatePtyRequest starts a new process.
type CreatePtyRequest struct {
	Command       string `json:"command" binding:"required"`
	Cwd           string `json:"cwd"`
	BufferSize    int    `json:"buffer_size"`
	IdleTimeoutMs int    `json:"idle_timeout_ms"`
}

// Create spawns a process under a pseudo-terminal.
// POST /api/v1/sessions/:session_id/pty
func (h *PtyHandler) Create(c *gin.Context) {
	sessionID := c.Param("session_id")
	var req CreatePtyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proc, err := h.manager.Spawn(sessionID, req.Command, pty.SpawnOptions{
		WorkDir:     req.Cwd,
		BufferSize:  req.BufferSize,
		IdleTimeout: time.Duration(req.IdleTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		h.logger.Error("Failed to spawn PTY", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"pty_id":  proc.ID,
		"status":  proc.Status(),
		"command": proc.Command,
	})
}

// Read returns output from a cursor.
// GET /api/v1/sessions/:session_id/pty/:pty_id?cursor=N&max_output=M
func (h *PtyHandler) Read(c *gin.Context) {
	proc := h.manager.Get(c.Param("session_id"), c.Param("pty_id"))
	if proc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pty not found"})
		return
	}

	var cursor *int64
	if raw := c.Query("cursor"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cursor = &v
		}
	}
	maxOutput := 65536
	if raw := c.Query("max_output"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			maxOutput = v
		}
	}

	text, newCursor, reset := proc.Read(cursor, maxOutput)
	c.JSON(http.StatusOK, gin.H{
		"text":      text,
		"cursor":    newCursor,
		"reset":     reset,
		"status":    proc.Status(),
		"exit_code": proc.ExitCode(),
	})
}

// WriteRequest sends input to the process.
type WriteRequest struct {
	Data string `json:"data" binding:"required"`
}

// Write sends bytes to the process's stdin.
// POST /api/v1/sessions/:session_id/pty/:pty_id/input
func (h *PtyHandler) Write(c *gin.Context) {
	proc := h.manager.Get(c.Param("session_id"), c.Param("pty_id"))
	if proc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pty not found"})
		return
	}
	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := proc.Write([]byte(req.Data))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bytes_written": n})
}

// Close terminates a process.
// DELETE /api/v1/sessions/:session_id/pty/:pty_id
func (h *PtyHandler) Close(c *gin.Context) {
	if !h.manager.Close(c.Param("session_id"), c.Param("pty_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "pty not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

// Attach upgrades to a websocket that streams output and accepts input.
// GET /api/v1/sessions/:session_id/pty/:pty_id/attach
func (h *PtyHandler) Attach(c *gin.Context) {
	proc := h.manager.Get(c.Param("session_id"), c.Param("pty_id"))
	if proc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pty not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Input pump: websocket messages go to the process stdin.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if _, err := proc.Write(data); err != nil {
				return
			}
		}
	}()

	// Output pump: poll the ring buffer and push chunks.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	var cursor *int64

	for {
		select {
		case <-proc.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "pty closed"))
			return
		case <-ticker.C:
			text, newCursor, reset := proc.Read(cursor, 65536)
			cursor = &newCursor
			if reset {
				_ = conn.WriteJSON(gin.H{"reset": true})
			}
			if text == "" {
				if proc.Status() == pty.StatusExited {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "process exited"))
					return
				}
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				return
			}
		}
	}
}
