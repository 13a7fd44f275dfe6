package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/infrastructure"
	"whatsapp_ai_backend/internal/usecases"
)

type Inbound interface {
	Receive(ctx context.Context, in entities.InboundMessage) error
	UpdateDeliveryStatus(ctx context.Context, providerMessageID, status string) error
}

type Auth interface {
	TokenParser
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, orgID, username, password string) error
}

type Templates interface {
	CreateDraft(ctx context.Context, t *entities.Template) error
	List(ctx context.Context, orgID string) ([]entities.Template, error)
	Submit(ctx context.Context, orgID, id string) (*entities.Template, error)
	Send(ctx context.Context, orgID, templateID, phone string, params []string) (string, error)
}

type Dashboard interface {
	GetAgent(ctx context.Context, orgID string) (*entities.Agent, error)
	SaveAgent(ctx context.Context, orgID string, agent *entities.Agent) error
	SetSetting(ctx context.Context, orgID, key, value string) error
	ListSettingKeys(ctx context.Context, orgID string) (map[string]bool, error)
	ListProducts(ctx context.Context, orgID string) ([]entities.Product, error)
	ImportProducts(ctx context.Context, orgID string, data io.Reader) (int, error)
	IngestKnowledge(ctx context.Context, orgID string, in usecases.KnowledgeInput) (*entities.KnowledgeChunk, error)
	UsageHistory(ctx context.Context, orgID string, days int) ([]entities.DailyUsage, error)
}

// Deps groups what the routes need. WhatsApp may be nil when linked devices are disabled.
type Deps struct {
	Inbound     Inbound
	Auth        Auth
	Templates   Templates
	Dashboard   Dashboard
	WhatsApp    *infrastructure.WhatsAppManager
	VerifyToken string
	Logger      zerolog.Logger
}

type Handler struct {
	inbound     Inbound
	auth        Auth
	templates   Templates
	dashboard   Dashboard
	waManager   *infrastructure.WhatsAppManager
	verifyToken string
	logger      zerolog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		inbound:     deps.Inbound,
		auth:        deps.Auth,
		templates:   deps.Templates,
		dashboard:   deps.Dashboard,
		waManager:   deps.WhatsApp,
		verifyToken: deps.VerifyToken,
		logger:      deps.Logger,
	}
}

func SetupRoutes(r *gin.Engine, deps Deps, middleware *Middleware) {
	h := NewHandler(deps)
	adminHandler := NewAdminHandler(deps.Auth, deps.Logger)

	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(10 << 20)) // 10MB max request size
	r.Use(middleware.CORSMiddleware())
	r.Use(RequestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Cloud API webhook, one subscription URL per organization
	r.GET("/webhook/whatsapp/:organization_id", h.VerifyWebhook)
	r.POST("/webhook/whatsapp/:organization_id", h.ReceiveWebhook)

	r.POST("/api/auth/login", h.Login)

	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerOrg(5, 10))
	{
		api.GET("/agent", h.GetAgent)
		api.PUT("/agent", h.SaveAgent)

		api.GET("/settings", h.ListSettings)
		api.PUT("/settings/:key", h.SetSetting)

		api.GET("/products", h.ListProducts)
		api.POST("/products/import", h.ImportProducts)

		api.POST("/knowledge", h.IngestKnowledge)

		api.GET("/usage", h.GetUsage)

		api.GET("/templates", h.ListTemplates)
		api.POST("/templates", h.CreateTemplate)
		api.POST("/templates/:id/submit", h.SubmitTemplate)
		api.POST("/templates/:id/send", h.SendTemplate)

		api.POST("/whatsapp/connect", h.ConnectWhatsApp)
		api.GET("/whatsapp/qr", h.GetQRCode)
		api.GET("/whatsapp/status", h.GetWhatsAppStatus)
		api.POST("/whatsapp/logout", h.LogoutWhatsApp)
	}

	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthRequired())
	admin.Use(middleware.AdminRequired())
	{
		admin.POST("/users", adminHandler.CreateUser)
	}
}

func orgID(c *gin.Context) string {
	return c.GetString(ctxOrganizationID)
}

// respondError maps domain errors onto status codes and hides internals.
func respondError(c *gin.Context, logger zerolog.Logger, err error) {
	var status int
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrTenantMismatch):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrTemplateNotReady):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrChannelUnavailable), errors.Is(err, apperr.ErrMissingCredentials):
		status = http.StatusServiceUnavailable
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
