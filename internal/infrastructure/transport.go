package infrastructure

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

// MessengerResolver returns the client serving an organization on one channel.
type MessengerResolver func(ctx context.Context, orgID string) (interfaces.Messenger, error)

// ChannelTransport routes sends to the thread's channel and throttles them per organization.
type ChannelTransport struct {
	resolvers map[entities.Channel]MessengerResolver
	limiter   *SendLimiter
	logger    zerolog.Logger
}

var _ interfaces.SendTransport = (*ChannelTransport)(nil)

func NewChannelTransport(limiter *SendLimiter, logger zerolog.Logger) *ChannelTransport {
	return &ChannelTransport{
		resolvers: make(map[entities.Channel]MessengerResolver),
		limiter:   limiter,
		logger:    logger.With().Str("component", "transport").Logger(),
	}
}

// Register must be called before the transport is used.
func (t *ChannelTransport) Register(channel entities.Channel, resolver MessengerResolver) {
	t.resolvers[channel] = resolver
}

func (t *ChannelTransport) messenger(ctx context.Context, dest entities.Destination) (interfaces.Messenger, error) {
	resolve, ok := t.resolvers[dest.Channel]
	if !ok {
		return nil, apperr.Permanent(fmt.Errorf("channel %q: %w", dest.Channel, apperr.ErrChannelUnavailable))
	}
	return resolve(ctx, dest.OrganizationID)
}

func (t *ChannelTransport) Send(ctx context.Context, dest entities.Destination, msg entities.OutboundMessage) (string, error) {
	m, err := t.messenger(ctx, dest)
	if err != nil {
		return "", err
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, dest.OrganizationID); err != nil {
			return "", fmt.Errorf("send rate limit: %w", err)
		}
	}
	id, err := m.SendMessage(ctx, dest.Address, msg)
	if err != nil {
		return "", fmt.Errorf("send via %s: %w", dest.Channel, err)
	}
	t.logger.Debug().Str("organization_id", dest.OrganizationID).Str("channel", string(dest.Channel)).Str("provider_message_id", id).Msg("message sent")
	return id, nil
}

func (t *ChannelTransport) SetTyping(ctx context.Context, dest entities.Destination, typing bool) error {
	m, err := t.messenger(ctx, dest)
	if err != nil {
		return err
	}
	return m.SendPresence(ctx, dest.Address, typing)
}
