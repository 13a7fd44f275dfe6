package usecases

import (
	"context"
	"errors"
	"testing"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
)

type memoryTemplates struct {
	items map[string]*entities.Template
}

func (m *memoryTemplates) CreateTemplate(ctx context.Context, t *entities.Template) error {
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *memoryTemplates) GetTemplate(ctx context.Context, orgID, id string) (*entities.Template, error) {
	t, ok := m.items[id]
	if !ok || t.OrganizationID != orgID {
		return nil, apperr.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memoryTemplates) ListTemplates(ctx context.Context, orgID string) ([]entities.Template, error) {
	var out []entities.Template
	for _, t := range m.items {
		if t.OrganizationID == orgID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memoryTemplates) ListPendingTemplates(ctx context.Context) ([]entities.Template, error) {
	var out []entities.Template
	for _, t := range m.items {
		if t.Status == entities.TemplatePending {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memoryTemplates) UpdateTemplateStatus(ctx context.Context, t *entities.Template) error {
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

type fakeTemplateProvider struct {
	statuses map[string]entities.TemplateStatus
	sent     []string
	fetchErr error
}

func (p *fakeTemplateProvider) SubmitTemplate(ctx context.Context, t *entities.Template) (string, entities.TemplateStatus, error) {
	return "tpl-" + t.Name, entities.TemplatePending, nil
}

func (p *fakeTemplateProvider) FetchTemplateStatus(ctx context.Context, t *entities.Template) (entities.TemplateStatus, string, error) {
	if p.fetchErr != nil {
		return "", "", p.fetchErr
	}
	status, ok := p.statuses[t.ProviderTemplateID]
	if !ok {
		return t.Status, "", nil
	}
	if status == entities.TemplateRejected {
		return status, "INVALID_FORMAT", nil
	}
	return status, "", nil
}

func (p *fakeTemplateProvider) SendTemplate(ctx context.Context, t *entities.Template, to string, params []string) (string, error) {
	p.sent = append(p.sent, to)
	return "wamid.tpl", nil
}

func newTemplateFixture() (*TemplateService, *memoryTemplates, *fakeTemplateProvider, *memoryStore) {
	store := newMemoryStore()
	templates := &memoryTemplates{items: map[string]*entities.Template{}}
	provider := &fakeTemplateProvider{statuses: map[string]entities.TemplateStatus{}}
	return NewTemplateService(templates, provider, store, store, store, testLogger), templates, provider, store
}

func TestTemplateLifecycle(t *testing.T) {
	svc, templates, provider, store := newTemplateFixture()
	ctx := context.Background()

	tpl := &entities.Template{OrganizationID: "org-1", Name: "Order_Update", Body: "Olá {{1}}, seu pedido {{2}} saiu."}
	if err := svc.CreateDraft(ctx, tpl); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tpl.Name != "order_update" || tpl.Status != entities.TemplateDraft {
		t.Fatalf("unexpected draft %+v", tpl)
	}

	if _, err := svc.Send(ctx, "org-1", tpl.ID, "5511999", nil); !errors.Is(err, apperr.ErrTemplateNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}

	submitted, err := svc.Submit(ctx, "org-1", tpl.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != entities.TemplatePending || submitted.ProviderTemplateID != "tpl-order_update" {
		t.Fatalf("unexpected submitted template %+v", submitted)
	}
	if _, err := svc.Submit(ctx, "org-1", tpl.ID); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected resubmitting a pending template to fail, got %v", err)
	}

	provider.statuses["tpl-order_update"] = entities.TemplateApproved
	changed, err := svc.SyncStatuses(ctx)
	if err != nil || changed != 1 {
		t.Fatalf("expected one change, got %d (%v)", changed, err)
	}
	if templates.items[tpl.ID].Status != entities.TemplateApproved {
		t.Fatalf("expected approved, got %s", templates.items[tpl.ID].Status)
	}

	id, err := svc.Send(ctx, "org-1", tpl.ID, "5511999", []string{"Ana", "#42"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.tpl" || len(provider.sent) != 1 {
		t.Fatalf("unexpected send result %s %v", id, provider.sent)
	}
	out := store.outbound()
	if len(out) != 1 || out[0].Content != "Olá Ana, seu pedido #42 saiu." || out[0].Status != entities.MessageStatusSent {
		t.Fatalf("unexpected stored message %+v", out)
	}
}

func TestTemplateSyncRecordsRejection(t *testing.T) {
	svc, templates, provider, _ := newTemplateFixture()
	ctx := context.Background()
	tpl := &entities.Template{OrganizationID: "org-1", Name: "promo", Body: "Promo!"}
	_ = svc.CreateDraft(ctx, tpl)
	_, _ = svc.Submit(ctx, "org-1", tpl.ID)

	provider.statuses["tpl-promo"] = entities.TemplateRejected
	if _, err := svc.SyncStatuses(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got := templates.items[tpl.ID]
	if got.Status != entities.TemplateRejected || got.RejectionReason != "INVALID_FORMAT" {
		t.Fatalf("unexpected template %+v", got)
	}
}

func TestTemplateSyncSkipsProviderErrors(t *testing.T) {
	svc, _, provider, _ := newTemplateFixture()
	ctx := context.Background()
	tpl := &entities.Template{OrganizationID: "org-1", Name: "promo", Body: "Promo!"}
	_ = svc.CreateDraft(ctx, tpl)
	_, _ = svc.Submit(ctx, "org-1", tpl.ID)

	provider.fetchErr = errors.New("graph api down")
	changed, err := svc.SyncStatuses(ctx)
	if err != nil || changed != 0 {
		t.Fatalf("expected no changes and no error, got %d %v", changed, err)
	}
}

func TestCreateDraftValidatesName(t *testing.T) {
	svc, _, _, _ := newTemplateFixture()
	err := svc.CreateDraft(context.Background(), &entities.Template{OrganizationID: "org-1", Name: "has spaces", Body: "x"})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestStartSyncRejectsBadSpec(t *testing.T) {
	svc, _, _, _ := newTemplateFixture()
	if _, err := svc.StartSync(context.Background(), "not a cron spec"); err == nil {
		t.Fatal("expected bad spec to fail")
	}
	c, err := svc.StartSync(context.Background(), "@every 10m")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Stop()
}
