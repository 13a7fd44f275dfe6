package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConnectWhatsApp starts pairing of the organization's linked device.
func (h *Handler) ConnectWhatsApp(c *gin.Context) {
	if h.waManager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WhatsApp not configured"})
		return
	}

	client, err := h.waManager.ConnectClient(c.Request.Context(), orgID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	phone, name := client.Account()
	c.JSON(http.StatusOK, gin.H{
		"status":    "connecting",
		"connected": client.IsLoggedIn(),
		"phone":     phone,
		"name":      name,
	})
}

// GetQRCode returns the pairing QR as PNG
func (h *Handler) GetQRCode(c *gin.Context) {
	if h.waManager == nil {
		c.String(http.StatusServiceUnavailable, "WhatsApp not configured")
		return
	}

	client := h.waManager.GetClient(orgID(c))
	if client == nil {
		c.String(http.StatusNotFound, "Call /api/whatsapp/connect first")
		return
	}

	png, ok, err := client.QRPNG(256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	if !ok {
		if client.IsLoggedIn() {
			c.String(http.StatusOK, "Already logged in")
			return
		}
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) GetWhatsAppStatus(c *gin.Context) {
	if h.waManager == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": "WhatsApp not configured"})
		return
	}

	client := h.waManager.GetClient(orgID(c))
	if client == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "initialized": false})
		return
	}

	phone, name := client.Account()
	c.JSON(http.StatusOK, gin.H{
		"connected":   client.IsConnected(),
		"initialized": true,
		"phone":       phone,
		"name":        name,
		"hasQR":       client.QR() != "",
	})
}

func (h *Handler) LogoutWhatsApp(c *gin.Context) {
	if h.waManager == nil {
		c.JSON(http.StatusOK, gin.H{"status": "logged_out", "message": "WhatsApp not configured"})
		return
	}

	if err := h.waManager.LogoutClient(c.Request.Context(), orgID(c)); err != nil {
		h.logger.Warn().Err(err).Str("organization_id", orgID(c)).Msg("whatsapp logout")
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
