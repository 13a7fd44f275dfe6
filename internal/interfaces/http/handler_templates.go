package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"whatsapp_ai_backend/internal/entities"
)

func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.templates.List(c.Request.Context(), orgID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

func (h *Handler) CreateTemplate(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Language string `json:"language"`
		Category string `json:"category"`
		Body     string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidTemplateName(req.Name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Template name must be lowercase letters, digits and underscores"})
		return
	}
	if !ValidateLength(req.Body, 1, MaxTemplateBodyLen) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Template body too long"})
		return
	}

	t := &entities.Template{
		OrganizationID: orgID(c),
		Name:           req.Name,
		Language:       req.Language,
		Category:       strings.ToUpper(req.Category),
		Body:           SanitizeString(req.Body),
	}
	if err := h.templates.CreateDraft(c.Request.Context(), t); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) SubmitTemplate(c *gin.Context) {
	t, err := h.templates.Submit(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// SendTemplate starts a conversation outside the 24h window with an approved template.
func (h *Handler) SendTemplate(c *gin.Context) {
	var req struct {
		Phone  string   `json:"phone" binding:"required"`
		Params []string `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidPhone(req.Phone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid phone number"})
		return
	}
	if len(req.Params) > MaxTemplateParamsLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many parameters"})
		return
	}

	id, err := h.templates.Send(c.Request.Context(), orgID(c), c.Param("id"), strings.TrimPrefix(req.Phone, "+"), req.Params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "provider_message_id": id})
}
