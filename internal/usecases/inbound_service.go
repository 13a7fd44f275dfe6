package usecases

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

const mediaPlaceholder = "[media]"

// BatchScheduler accepts "message received" triggers and runs them debounced per thread.
type BatchScheduler interface {
	Enqueue(trigger entities.BatchTrigger)
}

// InboundService stores messages arriving from any channel and schedules the thread's batch.
type InboundService struct {
	contacts  interfaces.ContactStore
	threads   interfaces.ThreadStore
	messages  interfaces.MessageStore
	usage     interfaces.UsageRecorder
	scheduler BatchScheduler
	logger    zerolog.Logger
}

func NewInboundService(
	contacts interfaces.ContactStore,
	threads interfaces.ThreadStore,
	messages interfaces.MessageStore,
	usage interfaces.UsageRecorder,
	scheduler BatchScheduler,
	logger zerolog.Logger,
) *InboundService {
	return &InboundService{
		contacts:  contacts,
		threads:   threads,
		messages:  messages,
		usage:     usage,
		scheduler: scheduler,
		logger:    logger.With().Str("component", "inbound").Logger(),
	}
}

// Receive records one inbound message. Redelivered provider ids are ignored.
func (s *InboundService) Receive(ctx context.Context, in entities.InboundMessage) error {
	if strings.TrimSpace(in.OrganizationID) == "" || strings.TrimSpace(in.ExternalID) == "" {
		return fmt.Errorf("%w: organization and sender are required", apperr.ErrInvalidInput)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.MediaURLs) > 0 {
		content = mediaPlaceholder
	}
	if content == "" {
		s.logger.Debug().Str("organization_id", in.OrganizationID).Msg("ignoring empty message")
		return nil
	}

	contact, err := s.contacts.FindOrCreateContact(ctx, in.OrganizationID, in.Channel, in.ExternalID, strings.TrimSpace(in.DisplayName))
	if err != nil {
		return fmt.Errorf("find contact: %w", err)
	}
	thread, err := s.threads.FindOrCreateThread(ctx, in.OrganizationID, contact.ID, in.Channel)
	if err != nil {
		return fmt.Errorf("find thread: %w", err)
	}

	msg := &entities.Message{
		ThreadID:          thread.ID,
		OrganizationID:    in.OrganizationID,
		Direction:         entities.DirectionInbound,
		Content:           content,
		MediaURLs:         in.MediaURLs,
		ProviderMessageID: in.ProviderMessageID,
		Status:            entities.MessageStatusReceived,
	}
	created, err := s.messages.CreateInbound(ctx, msg)
	if err != nil {
		return fmt.Errorf("store inbound message: %w", err)
	}
	if !created {
		s.logger.Debug().Str("provider_message_id", in.ProviderMessageID).Msg("duplicate delivery ignored")
		return nil
	}

	if s.usage != nil {
		if err := s.usage.IncrementReceived(ctx, in.OrganizationID); err != nil {
			s.logger.Warn().Err(err).Msg("record usage")
		}
	}

	s.scheduler.Enqueue(entities.BatchTrigger{
		ThreadID:       thread.ID,
		OrganizationID: in.OrganizationID,
		ContactID:      contact.ID,
		MessageID:      msg.ID,
	})
	s.logger.Info().
		Str("organization_id", in.OrganizationID).
		Str("thread_id", thread.ID).
		Str("channel", string(in.Channel)).
		Msg("inbound message queued")
	return nil
}

// UpdateDeliveryStatus applies an asynchronous provider status to an outbound message.
func (s *InboundService) UpdateDeliveryStatus(ctx context.Context, providerMessageID, status string) error {
	switch status {
	case entities.MessageStatusSent, entities.MessageStatusDelivered, entities.MessageStatusRead, entities.MessageStatusFailed:
	default:
		return nil
	}
	if err := s.messages.UpdateStatusByProviderID(ctx, providerMessageID, status); err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	return nil
}
