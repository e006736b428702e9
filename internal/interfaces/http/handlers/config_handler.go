package handlers

import (
	"net/http"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"github.com/atelier-ai/atelier/internal/infrastructure/config"
	domainErrors "github.com/atelier-ai/atelier/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConfigHandler serves model config CRUD and the tools config.
type ConfigHandler struct {
	configs   repository.ConfigRepository
	toolStore *config.ToolStore
	logger    *zap.Logger
}

// NewConfigHandler creates the config handler.
func NewConfigHandler(configs repository.ConfigRepository, toolStore *config.ToolStore, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{configs: configs, toolStore: toolStore, logger: logger}
}

// ModelConfigRequest is the create/update body.
type ModelConfigRequest struct {
	Name             string  `json:"name" binding:"required"`
	APIType          string  `json:"api_type"`
	APIKey           string  `json:"api_key"`
	BaseURL          string  `json:"base_url"`
	Model            string  `json:"model" binding:"required"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	MaxContextTokens int     `json:"max_context_tokens"`
	IsDefault        bool    `json:"is_default"`
}

// List returns all model configs.
// GET /api/v1/configs
func (h *ConfigHandler) List(c *gin.Context) {
	configs, err := h.configs.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// API keys stay server-side.
	for _, cfg := range configs {
		cfg.APIKey = ""
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs, "count": len(configs)})
}

// Create adds a model config.
// POST /api/v1/configs
func (h *ConfigHandler) Create(c *gin.Context) {
	var req ModelConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := &entity.ModelConfig{
		ID:               uuid.NewString(),
		Name:             req.Name,
		APIType:          req.APIType,
		APIKey:           req.APIKey,
		BaseURL:          req.BaseURL,
		Model:            req.Model,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		MaxContextTokens: req.MaxContextTokens,
		IsDefault:        req.IsDefault,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.configs.Create(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": cfg.ID})
}

// Update replaces a model config.
// PUT /api/v1/configs/:config_id
func (h *ConfigHandler) Update(c *gin.Context) {
	id := c.Param("config_id")
	existing, err := h.configs.Get(c.Request.Context(), id)
	if err != nil {
		if domainErrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req ModelConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	existing.Name = req.Name
	existing.APIType = req.APIType
	if req.APIKey != "" {
		existing.APIKey = req.APIKey
	}
	existing.BaseURL = req.BaseURL
	existing.Model = req.Model
	existing.Temperature = req.Temperature
	existing.MaxTokens = req.MaxTokens
	existing.MaxContextTokens = req.MaxContextTokens
	existing.IsDefault = req.IsDefault

	if err := h.configs.Update(c.Request.Context(), existing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// Delete removes a model config.
// DELETE /api/v1/configs/:config_id
func (h *ConfigHandler) Delete(c *gin.Context) {
	if err := h.configs.Delete(c.Request.Context(), c.Param("config_id")); err != nil {
		if domainErrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// GetToolsConfig returns the live tools config.
// GET /api/v1/tools/config
func (h *ConfigHandler) GetToolsConfig(c *gin.Context) {
	cfg := h.toolStore.Snapshot()
	cfg.Search.APIKey = ""
	c.JSON(http.StatusOK, cfg)
}

// PatchToolsConfig deep-merges a JSON object into the tools config.
// PATCH /api/v1/tools/config
func (h *ConfigHandler) PatchToolsConfig(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := h.toolStore.Patch(patch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cfg.Search.APIKey = ""
	c.JSON(http.StatusOK, cfg)
}

// ToolsHandler lists the registered tool definitions.
type ToolsHandler struct {
	dispatcher *domaintool.Dispatcher
}

// NewToolsHandler creates the tools listing handler.
func NewToolsHandler(dispatcher *domaintool.Dispatcher) *ToolsHandler {
	return &ToolsHandler{dispatcher: dispatcher}
}

// List returns the JSON-schema tool definitions supplied to the model.
// GET /api/v1/tools
func (h *ToolsHandler) List(c *gin.Context) {
	defs := h.dispatcher.Definitions()
	c.JSON(http.StatusOK, gin.H{"tools": defs, "count": len(defs)})
}
