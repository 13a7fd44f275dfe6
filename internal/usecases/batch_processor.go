package usecases

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

// ReplyComposer is the batch processor's view of the composer.
type ReplyComposer interface {
	Compose(ctx context.Context, in ComposeInput) (*ComposeResult, error)
}

type BatchProcessor struct {
	threads   interfaces.ThreadStore
	messages  interfaces.MessageStore
	contacts  interfaces.ContactStore
	agents    interfaces.AgentStore
	composer  ReplyComposer
	transport interfaces.SendTransport
	logger    zerolog.Logger
}

func NewBatchProcessor(
	threads interfaces.ThreadStore,
	messages interfaces.MessageStore,
	contacts interfaces.ContactStore,
	agents interfaces.AgentStore,
	composer ReplyComposer,
	transport interfaces.SendTransport,
	logger zerolog.Logger,
) *BatchProcessor {
	return &BatchProcessor{
		threads:   threads,
		messages:  messages,
		contacts:  contacts,
		agents:    agents,
		composer:  composer,
		transport: transport,
		logger:    logger.With().Str("component", "batch_processor").Logger(),
	}
}

// Process handles one debounced batch for a thread. Returned errors are retried by the queue
// unless marked permanent.
func (p *BatchProcessor) Process(ctx context.Context, trigger entities.BatchTrigger) error {
	log := p.logger.With().Str("organization_id", trigger.OrganizationID).Str("thread_id", trigger.ThreadID).Logger()

	thread, err := p.threads.GetThread(ctx, trigger.OrganizationID, trigger.ThreadID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Permanent(fmt.Errorf("thread %s: %w", trigger.ThreadID, apperr.ErrTenantMismatch))
	}
	if err != nil {
		return fmt.Errorf("load thread: %w", err)
	}
	if thread.OrganizationID != trigger.OrganizationID || (trigger.ContactID != "" && thread.ContactID != trigger.ContactID) {
		return apperr.Permanent(fmt.Errorf("thread %s: %w", trigger.ThreadID, apperr.ErrTenantMismatch))
	}

	contact, err := p.contacts.GetContact(ctx, thread.OrganizationID, thread.ContactID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Permanent(fmt.Errorf("contact %s: %w", thread.ContactID, err))
	}
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}

	pending, err := p.messages.ListPendingInbound(ctx, thread.OrganizationID, thread.ID)
	if err != nil {
		return fmt.Errorf("list pending messages: %w", err)
	}
	if len(pending) == 0 {
		log.Debug().Msg("no pending messages")
		return nil
	}
	ids := make([]string, len(pending))
	for i, m := range pending {
		ids[i] = m.ID
	}

	if thread.Status == entities.ThreadStatusHuman {
		if err := p.messages.MarkConsumed(ctx, thread.OrganizationID, ids); err != nil {
			return fmt.Errorf("mark consumed: %w", err)
		}
		log.Info().Int("messages", len(ids)).Msg("thread handled by a human, skipping reply")
		return nil
	}

	dest := entities.Destination{OrganizationID: thread.OrganizationID, Channel: thread.Channel, Address: contact.ExternalID}
	p.setTyping(ctx, thread, dest, true)
	defer p.setTyping(context.WithoutCancel(ctx), thread, dest, false)

	// The stored prompt stays until a reply replaces it, so a retried batch resolves the same answers.
	prompt := thread.Buttons
	texts := ResolveButtonAnswers(prompt, pending)
	combined := strings.Join(texts, "\n")

	agent, err := p.agents.GetEnabledAgent(ctx, thread.OrganizationID)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Info().Msg("no enabled agent, skipping")
		return p.clearPrompt(ctx, thread, prompt)
	}
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}

	res, err := p.composer.Compose(ctx, ComposeInput{
		Thread:          thread,
		Agent:           agent,
		Contact:         contact,
		IncomingText:    combined,
		BatchKey:        BatchKey(thread.ID, ids),
		BatchMessageIDs: ids,
	})
	if err != nil {
		return fmt.Errorf("compose reply: %w", err)
	}
	if !res.OptionsOffered {
		if err := p.clearPrompt(ctx, thread, prompt); err != nil {
			return err
		}
	}

	if err := p.messages.MarkConsumed(ctx, thread.OrganizationID, ids); err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	log.Info().Int("messages", len(ids)).Bool("sent", res.Sent).Strs("tools", res.ToolsInvoked).Msg("batch processed")
	return nil
}

// clearPrompt removes the prompt this batch answered. A prompt saved since then by an
// earlier attempt's reply is left alone.
func (p *BatchProcessor) clearPrompt(ctx context.Context, thread *entities.Thread, answered *entities.ButtonPrompt) error {
	if answered == nil {
		return nil
	}
	current, err := p.threads.GetThread(ctx, thread.OrganizationID, thread.ID)
	if err != nil {
		return fmt.Errorf("reload thread: %w", err)
	}
	if !samePrompt(current.Buttons, answered) {
		return nil
	}
	if err := p.threads.SetButtonPrompt(ctx, thread.OrganizationID, thread.ID, nil); err != nil {
		return fmt.Errorf("clear button prompt: %w", err)
	}
	return nil
}

func samePrompt(a, b *entities.ButtonPrompt) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for i := range a.Options {
		if a.Options[i] != b.Options[i] {
			return false
		}
	}
	return true
}

func (p *BatchProcessor) setTyping(ctx context.Context, thread *entities.Thread, dest entities.Destination, typing bool) {
	if err := p.threads.SetAgentTyping(ctx, thread.OrganizationID, thread.ID, typing); err != nil {
		p.logger.Debug().Err(err).Str("thread_id", thread.ID).Msg("update typing flag")
	}
	if err := p.transport.SetTyping(ctx, dest, typing); err != nil {
		p.logger.Debug().Err(err).Str("thread_id", thread.ID).Msg("send typing indicator")
	}
}

// ResolveButtonAnswers maps bare option numbers to option titles when a prompt is waiting.
func ResolveButtonAnswers(prompt *entities.ButtonPrompt, pending []entities.Message) []string {
	out := make([]string, 0, len(pending))
	for _, m := range pending {
		text := m.Content
		if prompt != nil && len(prompt.Options) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(text)); err == nil && n >= 1 && n <= len(prompt.Options) {
				text = prompt.Options[n-1].Title
			}
		}
		out = append(out, text)
	}
	return out
}

// BatchKey identifies a batch by its thread and the exact set of message ids in it.
func BatchKey(threadID string, messageIDs []string) string {
	ids := append([]string(nil), messageIDs...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(threadID + "|" + strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])
}
