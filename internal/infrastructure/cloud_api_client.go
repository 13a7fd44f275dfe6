package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

const (
	SettingCloudAPIToken          = "cloud_api_token"
	SettingCloudPhoneNumberID     = "cloud_phone_number_id"
	SettingCloudBusinessAccountID = "cloud_business_account_id"

	maxReplyButtons     = 3
	maxReplyButtonTitle = 20
	maxListRowTitle     = 24
)

var placeholderPattern = regexp.MustCompile(`\{\{\d+\}\}`)

type cloudCredentials struct {
	token             string
	phoneNumberID     string
	businessAccountID string
}

// CloudAPIClient talks to the WhatsApp Business Graph API with per-organization
// credentials stored in settings.
type CloudAPIClient struct {
	baseURL    string
	settings   interfaces.SettingsStore
	httpClient *http.Client
	cache      *TemplateIDCache
	logger     zerolog.Logger
}

var _ interfaces.TemplateProvider = (*CloudAPIClient)(nil)

func NewCloudAPIClient(baseURL string, settings interfaces.SettingsStore, cache *TemplateIDCache, logger zerolog.Logger) *CloudAPIClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://graph.facebook.com/v18.0"
	}
	if cache == nil {
		cache = NewTemplateIDCache(time.Hour, 1000)
	}
	return &CloudAPIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		settings:   settings,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		cache:      cache,
		logger:     logger.With().Str("component", "cloud_api").Logger(),
	}
}

func (c *CloudAPIClient) credentials(ctx context.Context, orgID string) (cloudCredentials, error) {
	get := func(key string) (string, error) {
		v, err := c.settings.GetSetting(ctx, orgID, key)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return "", fmt.Errorf("load %s: %w", key, err)
		}
		return strings.TrimSpace(v), nil
	}
	var creds cloudCredentials
	var err error
	if creds.token, err = get(SettingCloudAPIToken); err != nil {
		return creds, err
	}
	if creds.phoneNumberID, err = get(SettingCloudPhoneNumberID); err != nil {
		return creds, err
	}
	if creds.businessAccountID, err = get(SettingCloudBusinessAccountID); err != nil {
		return creds, err
	}
	if creds.token == "" || creds.phoneNumberID == "" {
		return creds, fmt.Errorf("cloud api for organization %s: %w", orgID, apperr.ErrChannelUnavailable)
	}
	return creds, nil
}

// Messenger binds the client to orgID's phone number.
func (c *CloudAPIClient) Messenger(ctx context.Context, orgID string) (interfaces.Messenger, error) {
	creds, err := c.credentials(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &cloudMessenger{client: c, creds: creds}, nil
}

type cloudMessenger struct {
	client *CloudAPIClient
	creds  cloudCredentials
}

func (m *cloudMessenger) SendMessage(ctx context.Context, to string, msg entities.OutboundMessage) (string, error) {
	return m.client.sendMessage(ctx, m.creds, BuildCloudMessage(to, msg))
}

// SendPresence is a no-op: the Cloud API has no typing indicator for business numbers.
func (m *cloudMessenger) SendPresence(ctx context.Context, to string, typing bool) error {
	return nil
}

// BuildCloudMessage picks reply buttons when the options fit, an interactive list
// otherwise, and plain text when there are no options.
func BuildCloudMessage(to string, msg entities.OutboundMessage) map[string]any {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
	}
	if len(msg.Options) == 0 {
		payload["type"] = "text"
		payload["text"] = map[string]any{"body": msg.Text}
		return payload
	}

	payload["type"] = "interactive"
	if fitsReplyButtons(msg.Options) {
		buttons := make([]map[string]any, len(msg.Options))
		for i, opt := range msg.Options {
			buttons[i] = map[string]any{"type": "reply", "reply": map[string]string{"id": opt.ID, "title": opt.Title}}
		}
		payload["interactive"] = map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": msg.Text},
			"action": map[string]any{"buttons": buttons},
		}
		return payload
	}

	rows := make([]map[string]string, len(msg.Options))
	for i, opt := range msg.Options {
		rows[i] = map[string]string{"id": opt.ID, "title": truncateRunes(opt.Title, maxListRowTitle)}
	}
	payload["interactive"] = map[string]any{
		"type": "list",
		"body": map[string]string{"text": msg.Text},
		"action": map[string]any{
			"button":   "Opções",
			"sections": []map[string]any{{"title": "Opções", "rows": rows}},
		},
	}
	return payload
}

func fitsReplyButtons(options []entities.ButtonOption) bool {
	if len(options) > maxReplyButtons {
		return false
	}
	for _, opt := range options {
		if utf8.RuneCountInString(opt.Title) > maxReplyButtonTitle {
			return false
		}
	}
	return true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// do performs a Graph API call. 4xx responses other than 429 are permanent.
func (c *CloudAPIClient) do(ctx context.Context, token, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal graph request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer res.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(res.Body, 2<<20))
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var gerr graphError
		_ = json.Unmarshal(respBody, &gerr)
		c.logger.Warn().Int("status", res.StatusCode).Int("code", gerr.Error.Code).Str("error", gerr.Error.Message).Msg("graph request failed")
		err := fmt.Errorf("graph api status %d: %s", res.StatusCode, gerr.Error.Message)
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return apperr.Permanent(err)
		}
		return err
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode graph response: %w", err)
		}
	}
	return nil
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (c *CloudAPIClient) sendMessage(ctx context.Context, creds cloudCredentials, payload map[string]any) (string, error) {
	var resp sendResponse
	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, creds.phoneNumberID)
	if err := c.do(ctx, creds.token, http.MethodPost, endpoint, payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "", errors.New("graph send returned no message id")
	}
	return resp.Messages[0].ID, nil
}

// Templates

func (c *CloudAPIClient) SubmitTemplate(ctx context.Context, t *entities.Template) (string, entities.TemplateStatus, error) {
	creds, err := c.credentials(ctx, t.OrganizationID)
	if err != nil {
		return "", "", err
	}
	if creds.businessAccountID == "" {
		return "", "", fmt.Errorf("%s not configured: %w", SettingCloudBusinessAccountID, apperr.ErrChannelUnavailable)
	}

	body := map[string]any{"type": "BODY", "text": t.Body}
	if n := len(placeholderPattern.FindAllString(t.Body, -1)); n > 0 {
		examples := make([]string, n)
		for i := range examples {
			examples[i] = fmt.Sprintf("exemplo %d", i+1)
		}
		body["example"] = map[string]any{"body_text": [][]string{examples}}
	}
	payload := map[string]any{
		"name":       t.Name,
		"language":   t.Language,
		"category":   t.Category,
		"components": []map[string]any{body},
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	endpoint := fmt.Sprintf("%s/%s/message_templates", c.baseURL, creds.businessAccountID)
	if err := c.do(ctx, creds.token, http.MethodPost, endpoint, payload, &resp); err != nil {
		return "", "", err
	}
	c.cache.Set(t.OrganizationID, t.Name, t.Language, resp.ID)
	status, _ := MapTemplateStatus(resp.Status, "")
	return resp.ID, status, nil
}

func (c *CloudAPIClient) FetchTemplateStatus(ctx context.Context, t *entities.Template) (entities.TemplateStatus, string, error) {
	creds, err := c.credentials(ctx, t.OrganizationID)
	if err != nil {
		return "", "", err
	}
	id, err := c.templateID(ctx, creds, t)
	if err != nil {
		return "", "", err
	}

	var resp struct {
		Status         string `json:"status"`
		RejectedReason string `json:"rejected_reason"`
	}
	endpoint := fmt.Sprintf("%s/%s?fields=status,rejected_reason", c.baseURL, url.PathEscape(id))
	if err := c.do(ctx, creds.token, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", "", err
	}
	status, reason := MapTemplateStatus(resp.Status, resp.RejectedReason)
	return status, reason, nil
}

// templateID resolves the provider id, looking it up by name when it was never stored.
func (c *CloudAPIClient) templateID(ctx context.Context, creds cloudCredentials, t *entities.Template) (string, error) {
	if t.ProviderTemplateID != "" {
		return t.ProviderTemplateID, nil
	}
	if id, ok := c.cache.Get(t.OrganizationID, t.Name, t.Language); ok {
		return id, nil
	}
	if creds.businessAccountID == "" {
		return "", fmt.Errorf("%s not configured: %w", SettingCloudBusinessAccountID, apperr.ErrChannelUnavailable)
	}

	var resp struct {
		Data []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Language string `json:"language"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/%s/message_templates?name=%s", c.baseURL, creds.businessAccountID, url.QueryEscape(t.Name))
	if err := c.do(ctx, creds.token, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	for _, d := range resp.Data {
		if d.Name == t.Name && d.Language == t.Language {
			c.cache.Set(t.OrganizationID, t.Name, t.Language, d.ID)
			return d.ID, nil
		}
	}
	return "", fmt.Errorf("template %s (%s): %w", t.Name, t.Language, apperr.ErrNotFound)
}

func (c *CloudAPIClient) SendTemplate(ctx context.Context, t *entities.Template, to string, params []string) (string, error) {
	creds, err := c.credentials(ctx, t.OrganizationID)
	if err != nil {
		return "", err
	}
	tmpl := map[string]any{
		"name":     t.Name,
		"language": map[string]string{"code": t.Language},
	}
	if len(params) > 0 {
		parameters := make([]map[string]string, len(params))
		for i, p := range params {
			parameters[i] = map[string]string{"type": "text", "text": p}
		}
		tmpl["components"] = []map[string]any{{"type": "body", "parameters": parameters}}
	}
	return c.sendMessage(ctx, creds, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template":          tmpl,
	})
}

// MapTemplateStatus converts Graph API template states to ours.
func MapTemplateStatus(status, reason string) (entities.TemplateStatus, string) {
	if reason == "NONE" {
		reason = ""
	}
	switch strings.ToUpper(status) {
	case "APPROVED":
		return entities.TemplateApproved, ""
	case "REJECTED":
		return entities.TemplateRejected, reason
	case "DISABLED", "PAUSED":
		if reason == "" {
			reason = strings.ToLower(status)
		}
		return entities.TemplateRejected, reason
	default:
		return entities.TemplatePending, ""
	}
}
