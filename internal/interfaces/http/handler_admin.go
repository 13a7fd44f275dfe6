package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type AdminHandler struct {
	auth   Auth
	logger zerolog.Logger
}

func NewAdminHandler(auth Auth, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{auth: auth, logger: logger}
}

// CreateUser adds a dashboard user to the admin's own organization.
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidateLength(req.Username, 3, 64) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username must be 3-64 characters"})
		return
	}
	if err := h.auth.Register(c.Request.Context(), orgID(c), SanitizeString(req.Username), req.Password); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created", "username": req.Username})
}
