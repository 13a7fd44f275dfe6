package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/usecases"
)

func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.dashboard.GetAgent(c.Request.Context(), orgID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handler) SaveAgent(c *gin.Context) {
	var req struct {
		Name         string `json:"name" binding:"required"`
		SystemPrompt string `json:"system_prompt" binding:"required"`
		Model        string `json:"model"`
		Enabled      bool   `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidateLength(req.SystemPrompt, 1, MaxSettingValLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "System prompt too long"})
		return
	}
	agent := &entities.Agent{
		Name:         SanitizeString(req.Name),
		SystemPrompt: SanitizeString(req.SystemPrompt),
		Model:        req.Model,
		Enabled:      req.Enabled,
	}
	if err := h.dashboard.SaveAgent(c.Request.Context(), orgID(c), agent); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// ListSettings reports which keys are set. Values never leave the server.
func (h *Handler) ListSettings(c *gin.Context) {
	keys, err := h.dashboard.ListSettingKeys(c.Request.Context(), orgID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

func (h *Handler) SetSetting(c *gin.Context) {
	key := c.Param("key")
	if !ValidSettingKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid setting key"})
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(req.Value) > MaxSettingValLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Value too long"})
		return
	}
	if err := h.dashboard.SetSetting(c.Request.Context(), orgID(c), key, SanitizeString(req.Value)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "key": key})
}

func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.dashboard.ListProducts(c.Request.Context(), orgID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// ImportProducts accepts a CSV upload in the "file" form field.
func (h *Handler) ImportProducts(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad request: missing file"})
		return
	}
	defer file.Close()

	n, err := h.dashboard.ImportProducts(c.Request.Context(), orgID(c), file)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "imported", "count": n})
}

func (h *Handler) IngestKnowledge(c *gin.Context) {
	var req usecases.KnowledgeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidateLength(req.Content, 1, MaxKnowledgeBodyLen) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content too long"})
		return
	}
	req.Content = SanitizeString(req.Content)
	req.Title = SanitizeString(req.Title)

	chunk, err := h.dashboard.IngestKnowledge(c.Request.Context(), orgID(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, chunk)
}

func (h *Handler) GetUsage(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 || days > 365 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
		return
	}
	history, err := h.dashboard.UsageHistory(c.Request.Context(), orgID(c), days)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, history)
}
