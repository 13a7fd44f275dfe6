package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/usecases"
)

type fakeAuth struct {
	registered []string
}

func (f *fakeAuth) ParseToken(token string) (*usecases.Claims, error) {
	switch token {
	case "user-token":
		return &usecases.Claims{UserID: 2, OrganizationID: "org-1", Role: "user"}, nil
	case "admin-token":
		return &usecases.Claims{UserID: 1, OrganizationID: "org-1", Role: "admin"}, nil
	}
	return nil, apperr.ErrInvalidCredentials
}

func (f *fakeAuth) Login(_ context.Context, username, password string) (string, error) {
	if username == "admin" && password == "secret123" {
		return "admin-token", nil
	}
	return "", apperr.ErrInvalidCredentials
}

func (f *fakeAuth) Register(_ context.Context, orgID, username, _ string) error {
	f.registered = append(f.registered, orgID+"/"+username)
	return nil
}

type fakeInbound struct {
	received []entities.InboundMessage
	statuses []StatusUpdate
}

func (f *fakeInbound) Receive(_ context.Context, in entities.InboundMessage) error {
	f.received = append(f.received, in)
	return nil
}

func (f *fakeInbound) UpdateDeliveryStatus(_ context.Context, id, status string) error {
	f.statuses = append(f.statuses, StatusUpdate{ProviderMessageID: id, Status: status})
	return nil
}

type fakeDashboard struct {
	settings map[string]string
	agent    *entities.Agent
}

func (f *fakeDashboard) GetAgent(_ context.Context, orgID string) (*entities.Agent, error) {
	if f.agent == nil {
		return nil, apperr.ErrNotFound
	}
	return f.agent, nil
}

func (f *fakeDashboard) SaveAgent(_ context.Context, orgID string, a *entities.Agent) error {
	a.OrganizationID = orgID
	f.agent = a
	return nil
}

func (f *fakeDashboard) SetSetting(_ context.Context, orgID, key, value string) error {
	f.settings[orgID+"/"+key] = value
	return nil
}

func (f *fakeDashboard) ListSettingKeys(_ context.Context, orgID string) (map[string]bool, error) {
	out := map[string]bool{}
	for k, v := range f.settings {
		if strings.HasPrefix(k, orgID+"/") {
			out[strings.TrimPrefix(k, orgID+"/")] = v != ""
		}
	}
	return out, nil
}

func (f *fakeDashboard) ListProducts(context.Context, string) ([]entities.Product, error) {
	return nil, nil
}

func (f *fakeDashboard) ImportProducts(_ context.Context, _ string, r io.Reader) (int, error) {
	b, _ := io.ReadAll(r)
	return strings.Count(strings.TrimSpace(string(b)), "\n"), nil
}

func (f *fakeDashboard) IngestKnowledge(_ context.Context, orgID string, in usecases.KnowledgeInput) (*entities.KnowledgeChunk, error) {
	return &entities.KnowledgeChunk{ID: "k1", OrganizationID: orgID, Content: in.Content}, nil
}

func (f *fakeDashboard) UsageHistory(context.Context, string, int) ([]entities.DailyUsage, error) {
	return nil, fmt.Errorf("db down")
}

type fakeTemplates struct {
	sent []string
}

func (f *fakeTemplates) CreateDraft(_ context.Context, t *entities.Template) error {
	t.ID = "t1"
	t.Status = entities.TemplateDraft
	return nil
}

func (f *fakeTemplates) List(context.Context, string) ([]entities.Template, error) {
	return nil, nil
}

func (f *fakeTemplates) Submit(_ context.Context, _, id string) (*entities.Template, error) {
	return nil, apperr.ErrNotFound
}

func (f *fakeTemplates) Send(_ context.Context, orgID, id, phone string, params []string) (string, error) {
	if id == "draft" {
		return "", apperr.ErrTemplateNotReady
	}
	f.sent = append(f.sent, orgID+"/"+id+"/"+phone)
	return "wamid.1", nil
}

type testServer struct {
	router    *gin.Engine
	auth      *fakeAuth
	inbound   *fakeInbound
	dashboard *fakeDashboard
	templates *fakeTemplates
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		router:    gin.New(),
		auth:      &fakeAuth{},
		inbound:   &fakeInbound{},
		dashboard: &fakeDashboard{settings: map[string]string{}},
		templates: &fakeTemplates{},
	}
	SetupRoutes(ts.router, Deps{
		Inbound:     ts.inbound,
		Auth:        ts.auth,
		Templates:   ts.templates,
		Dashboard:   ts.dashboard,
		VerifyToken: "verify-me",
		Logger:      zerolog.Nop(),
	}, NewMiddleware(ts.auth))
	return ts
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestVerifyWebhook(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodGet, "/webhook/whatsapp/org-1?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "42" {
		t.Fatalf("expected challenge echo, got %d %q", w.Code, w.Body.String())
	}

	w = ts.do(http.MethodGet, "/webhook/whatsapp/org-1?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad token, got %d", w.Code)
	}
}

const cloudPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "contacts": [{"wa_id": "5511999990000", "profile": {"name": "Maria"}}],
        "messages": [
          {"from": "5511999990000", "id": "wamid.A", "type": "text", "text": {"body": "oi"}},
          {"from": "5511999990000", "id": "wamid.B", "type": "interactive",
           "interactive": {"type": "button_reply", "button_reply": {"id": "opt_2", "title": "Planos"}}},
          {"from": "5511999990000", "id": "wamid.C", "type": "image",
           "image": {"id": "MEDIA1", "mime_type": "image/jpeg", "caption": "olha"}}
        ],
        "statuses": [{"id": "wamid.OUT", "status": "read", "recipient_id": "5511999990000"}]
      }
    }]
  }]
}`

func TestReceiveWebhook(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/org-1", strings.NewReader(cloudPayload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := ts.inbound.received
	if len(got) != 3 {
		t.Fatalf("expected 3 inbound messages, got %d", len(got))
	}
	if got[0].Content != "oi" || got[0].DisplayName != "Maria" || got[0].Channel != entities.ChannelWhatsAppCloud {
		t.Errorf("unexpected text message: %+v", got[0])
	}
	if got[0].OrganizationID != "org-1" || got[0].ProviderMessageID != "wamid.A" {
		t.Errorf("unexpected routing fields: %+v", got[0])
	}
	if got[1].Content != "Planos" {
		t.Errorf("expected button title as content, got %q", got[1].Content)
	}
	if got[2].Content != "olha" || len(got[2].MediaURLs) != 1 || got[2].MediaURLs[0] != "image:MEDIA1" {
		t.Errorf("unexpected media message: %+v", got[2])
	}
	if len(ts.inbound.statuses) != 1 || ts.inbound.statuses[0].Status != "read" {
		t.Errorf("unexpected statuses: %+v", ts.inbound.statuses)
	}
}

func TestReceiveWebhookRejectsMalformedBody(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/org-1", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(ts.inbound.received) != 0 {
		t.Fatal("nothing should be received")
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "secret123"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "admin-token") {
		t.Fatalf("expected token, got %d %s", w.Code, w.Body.String())
	}

	w = ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer()

	if w := ts.do(http.MethodGet, "/api/settings", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/settings", "forged", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", w.Code)
	}
}

func TestSettingsAreScopedToTokenOrganization(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPut, "/api/settings/anthropic_api_key", "user-token", map[string]string{"value": "sk-test"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if ts.dashboard.settings["org-1/anthropic_api_key"] != "sk-test" {
		t.Fatalf("setting not stored under token org: %+v", ts.dashboard.settings)
	}

	w = ts.do(http.MethodGet, "/api/settings", "user-token", nil)
	if strings.Contains(w.Body.String(), "sk-test") {
		t.Fatal("setting values must not be returned")
	}
	if !strings.Contains(w.Body.String(), `"anthropic_api_key":true`) {
		t.Fatalf("expected key presence, got %s", w.Body.String())
	}

	if w := ts.do(http.MethodPut, "/api/settings/Bad-Key", "user-token", map[string]string{"value": "x"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid key, got %d", w.Code)
	}
}

func TestAgentNotFoundMapsTo404(t *testing.T) {
	ts := newTestServer()

	if w := ts.do(http.MethodGet, "/api/agent", "user-token", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w := ts.do(http.MethodPut, "/api/agent", "user-token", map[string]any{
		"name": "Ana", "system_prompt": "Você é a Ana.", "enabled": true,
	})
	if w.Code != http.StatusOK || ts.dashboard.agent.OrganizationID != "org-1" {
		t.Fatalf("expected agent saved for org-1, got %d", w.Code)
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodGet, "/api/usage?days=7", "user-token", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Fatal("internal error text leaked")
	}
	if w := ts.do(http.MethodGet, "/api/usage?days=0", "user-token", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for days=0, got %d", w.Code)
	}
}

func TestTemplateRoutes(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPost, "/api/templates", "user-token", map[string]string{
		"name": "Boas Vindas", "body": "Olá {{1}}",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid name, got %d", w.Code)
	}
	w = ts.do(http.MethodPost, "/api/templates", "user-token", map[string]string{
		"name": "boas_vindas", "body": "Olá {{1}}", "category": "utility",
	})
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"category":"UTILITY"`) {
		t.Fatalf("expected created draft, got %d %s", w.Code, w.Body.String())
	}

	w = ts.do(http.MethodPost, "/api/templates/t1/send", "user-token", map[string]any{"phone": "+5511999990000", "params": []string{"Maria"}})
	if w.Code != http.StatusOK || len(ts.templates.sent) != 1 || ts.templates.sent[0] != "org-1/t1/5511999990000" {
		t.Fatalf("unexpected send: %d %v", w.Code, ts.templates.sent)
	}
	w = ts.do(http.MethodPost, "/api/templates/draft/send", "user-token", map[string]any{"phone": "5511999990000"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unapproved template, got %d", w.Code)
	}
	if w := ts.do(http.MethodPost, "/api/templates/missing/submit", "user-token", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAdminCreatesUserInOwnOrganization(t *testing.T) {
	ts := newTestServer()

	body := map[string]string{"username": "operator", "password": "password1"}
	if w := ts.do(http.MethodPost, "/api/admin/users", "user-token", body); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", w.Code)
	}
	if w := ts.do(http.MethodPost, "/api/admin/users", "admin-token", body); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if len(ts.auth.registered) != 1 || ts.auth.registered[0] != "org-1/operator" {
		t.Fatalf("unexpected registrations: %v", ts.auth.registered)
	}
}

func TestWhatsAppRoutesWithoutManager(t *testing.T) {
	ts := newTestServer()

	if w := ts.do(http.MethodPost, "/api/whatsapp/connect", "user-token", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	w := ts.do(http.MethodGet, "/api/whatsapp/status", "user-token", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"connected":false`) {
		t.Fatalf("unexpected status response: %d %s", w.Code, w.Body.String())
	}
}

func TestValidators(t *testing.T) {
	if !ValidSettingKey("cloud_api_token") || ValidSettingKey("Cloud-Token") || ValidSettingKey("") {
		t.Error("ValidSettingKey")
	}
	if !ValidPhone("+5511999990000") || ValidPhone("12ab") {
		t.Error("ValidPhone")
	}
	if SanitizeString("a\x00b") != "ab" {
		t.Error("SanitizeString")
	}
	if !ValidateLength("ção", 3, 3) {
		t.Error("ValidateLength should count runes")
	}
}
