package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp_ai_backend/internal/entities"
)

type cloudWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string     `json:"field"`
			Value cloudValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudValue struct {
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []cloudMessage `json:"messages"`
	Statuses []struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Recipient string `json:"recipient_id"`
	} `json:"statuses"`
}

type cloudMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type cloudMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
	Image    *cloudMedia `json:"image"`
	Document *cloudMedia `json:"document"`
	Audio    *cloudMedia `json:"audio"`
	Video    *cloudMedia `json:"video"`
}

// StatusUpdate is a delivery receipt for a message we sent.
type StatusUpdate struct {
	ProviderMessageID string
	Status            string
}

// parseCloudWebhook flattens a webhook delivery into inbound messages and receipts.
func parseCloudWebhook(orgID string, payload cloudWebhook) ([]entities.InboundMessage, []StatusUpdate) {
	var inbound []entities.InboundMessage
	var statuses []StatusUpdate

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, ct := range change.Value.Contacts {
				names[ct.WaID] = ct.Profile.Name
			}
			for _, m := range change.Value.Messages {
				in := entities.InboundMessage{
					OrganizationID:    orgID,
					Channel:           entities.ChannelWhatsAppCloud,
					ExternalID:        m.From,
					DisplayName:       names[m.From],
					ProviderMessageID: m.ID,
				}
				in.Content, in.MediaURLs = cloudContent(m)
				inbound = append(inbound, in)
			}
			for _, st := range change.Value.Statuses {
				statuses = append(statuses, StatusUpdate{ProviderMessageID: st.ID, Status: st.Status})
			}
		}
	}
	return inbound, statuses
}

func cloudContent(m cloudMessage) (string, []string) {
	switch {
	case m.Text != nil:
		return m.Text.Body, nil
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title, nil
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title, nil
	case m.Button != nil:
		return m.Button.Text, nil
	}

	media := map[string]*cloudMedia{"image": m.Image, "document": m.Document, "audio": m.Audio, "video": m.Video}
	if md := media[m.Type]; md != nil {
		return md.Caption, []string{m.Type + ":" + md.ID}
	}
	return "", nil
}

// VerifyWebhook answers the subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	if h.verifyToken == "" ||
		c.Query("hub.mode") != "subscribe" ||
		c.Query("hub.verify_token") != h.verifyToken {
		c.String(http.StatusForbidden, "forbidden")
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// ReceiveWebhook always acknowledges with 200 once the body parses; failures are
// logged so the provider does not redeliver the whole batch.
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	org := c.Param("organization_id")
	if !ValidateLength(org, 1, 64) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organization"})
		return
	}

	var payload cloudWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	inbound, statuses := parseCloudWebhook(org, payload)
	ctx := c.Request.Context()
	for _, in := range inbound {
		if err := h.inbound.Receive(ctx, in); err != nil {
			h.logger.Error().Err(err).
				Str("organization_id", org).
				Str("provider_message_id", in.ProviderMessageID).
				Msg("receive cloud message")
		}
	}
	for _, st := range statuses {
		if err := h.inbound.UpdateDeliveryStatus(ctx, st.ProviderMessageID, st.Status); err != nil {
			h.logger.Warn().Err(err).Str("provider_message_id", st.ProviderMessageID).Msg("update delivery status")
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "received", "messages": len(inbound), "statuses": len(statuses)})
}
