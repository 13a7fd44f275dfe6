package usecases

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

var templateNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,512}$`)

var templateCronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type TemplateService struct {
	templates interfaces.TemplateStore
	provider  interfaces.TemplateProvider
	contacts  interfaces.ContactStore
	threads   interfaces.ThreadStore
	messages  interfaces.MessageStore
	logger    zerolog.Logger
}

func NewTemplateService(
	templates interfaces.TemplateStore,
	provider interfaces.TemplateProvider,
	contacts interfaces.ContactStore,
	threads interfaces.ThreadStore,
	messages interfaces.MessageStore,
	logger zerolog.Logger,
) *TemplateService {
	return &TemplateService{
		templates: templates,
		provider:  provider,
		contacts:  contacts,
		threads:   threads,
		messages:  messages,
		logger:    logger.With().Str("component", "templates").Logger(),
	}
}

// CreateDraft stores a new template that has not been submitted yet.
func (s *TemplateService) CreateDraft(ctx context.Context, t *entities.Template) error {
	t.Name = strings.ToLower(strings.TrimSpace(t.Name))
	if !templateNamePattern.MatchString(t.Name) || strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: template needs a lowercase name and a body", apperr.ErrInvalidInput)
	}
	if t.Language == "" {
		t.Language = "pt_BR"
	}
	if t.Category == "" {
		t.Category = "UTILITY"
	}
	t.ID = uuid.NewString()
	t.Status = entities.TemplateDraft
	t.ProviderTemplateID = ""
	t.RejectionReason = ""
	if err := s.templates.CreateTemplate(ctx, t); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (s *TemplateService) List(ctx context.Context, orgID string) ([]entities.Template, error) {
	return s.templates.ListTemplates(ctx, orgID)
}

// Submit sends a draft or rejected template to the provider for approval.
func (s *TemplateService) Submit(ctx context.Context, orgID, id string) (*entities.Template, error) {
	t, err := s.templates.GetTemplate(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if t.Status != entities.TemplateDraft && t.Status != entities.TemplateRejected {
		return nil, fmt.Errorf("%w: template is %s", apperr.ErrInvalidInput, t.Status)
	}
	providerID, status, err := s.provider.SubmitTemplate(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("submit template: %w", err)
	}
	t.ProviderTemplateID = providerID
	t.Status = status
	t.RejectionReason = ""
	if err := s.templates.UpdateTemplateStatus(ctx, t); err != nil {
		return nil, fmt.Errorf("save template status: %w", err)
	}
	s.logger.Info().Str("organization_id", orgID).Str("template", t.Name).Str("status", string(t.Status)).Msg("template submitted")
	return t, nil
}

// SyncStatuses polls the provider for every pending template and stores status changes.
func (s *TemplateService) SyncStatuses(ctx context.Context) (int, error) {
	pending, err := s.templates.ListPendingTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending templates: %w", err)
	}
	changed := 0
	for i := range pending {
		t := &pending[i]
		status, reason, err := s.provider.FetchTemplateStatus(ctx, t)
		if err != nil {
			s.logger.Warn().Err(err).Str("organization_id", t.OrganizationID).Str("template", t.Name).Msg("fetch template status")
			continue
		}
		if status == t.Status {
			continue
		}
		t.Status = status
		t.RejectionReason = reason
		if err := s.templates.UpdateTemplateStatus(ctx, t); err != nil {
			s.logger.Error().Err(err).Str("template_id", t.ID).Msg("save template status")
			continue
		}
		changed++
		s.logger.Info().Str("organization_id", t.OrganizationID).Str("template", t.Name).Str("status", string(status)).Msg("template status changed")
	}
	return changed, nil
}

// StartSync schedules SyncStatuses on spec. The caller stops the returned scheduler.
func (s *TemplateService) StartSync(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(templateCronParser))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.SyncStatuses(ctx); err != nil {
			s.logger.Error().Err(err).Msg("template sync failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule template sync: %w", err)
	}
	c.Start()
	return c, nil
}

// Send delivers an approved template to a phone number on the Cloud API channel and records it.
func (s *TemplateService) Send(ctx context.Context, orgID, templateID, phone string, params []string) (string, error) {
	t, err := s.templates.GetTemplate(ctx, orgID, templateID)
	if err != nil {
		return "", err
	}
	if t.Status != entities.TemplateApproved {
		return "", fmt.Errorf("%s: %w", t.Name, apperr.ErrTemplateNotReady)
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", fmt.Errorf("%w: phone is required", apperr.ErrInvalidInput)
	}

	contact, err := s.contacts.FindOrCreateContact(ctx, orgID, entities.ChannelWhatsAppCloud, phone, "")
	if err != nil {
		return "", fmt.Errorf("find contact: %w", err)
	}
	thread, err := s.threads.FindOrCreateThread(ctx, orgID, contact.ID, entities.ChannelWhatsAppCloud)
	if err != nil {
		return "", fmt.Errorf("find thread: %w", err)
	}
	out := &entities.Message{
		ThreadID:       thread.ID,
		OrganizationID: orgID,
		Direction:      entities.DirectionOutbound,
		Content:        renderTemplate(t.Body, params),
		Status:         entities.MessageStatusSending,
		DedupeKey:      "template:" + uuid.NewString(),
	}
	if _, err := s.messages.ClaimOutbound(ctx, out); err != nil {
		return "", fmt.Errorf("record template message: %w", err)
	}

	providerID, err := s.provider.SendTemplate(ctx, t, phone, params)
	if err != nil {
		if markErr := s.messages.MarkOutboundFailed(ctx, orgID, out.ID); markErr != nil {
			s.logger.Error().Err(markErr).Msg("mark template message failed")
		}
		return "", fmt.Errorf("send template: %w", err)
	}
	if err := s.messages.MarkOutboundSent(ctx, orgID, out.ID, providerID); err != nil {
		s.logger.Error().Err(err).Msg("mark template message sent")
	}
	return providerID, nil
}

// renderTemplate fills {{1}}, {{2}}... placeholders for the stored transcript.
func renderTemplate(body string, params []string) string {
	for i, p := range params {
		body = strings.ReplaceAll(body, fmt.Sprintf("{{%d}}", i+1), p)
	}
	return body
}

