package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

const (
	SettingAnthropicAPIKey = "anthropic_api_key"

	defaultMaxRounds    = 5
	defaultHistoryLimit = 20
	defaultMaxTokens    = 1024

	FallbackReply = "Desculpe, tive um problema para responder agora. Pode repetir, por favor? Um atendente também pode ajudar."

	nudgeInstruction = "Now write your reply to the customer in natural language, based on the conversation and the tool results above. Do not call tools."

	knowledgeDirective = "Answer only with facts found in the passages below. If the answer is not in them, say you cannot confirm " +
		"that information right now and offer to check with the team. Never invent prices, deadlines, documents or links."

	formattingRules = "Formatting: this is a chat conversation. Keep replies short and friendly. Do not use markdown headers, tables " +
		"or code blocks. Never write choice menus with brackets, numbered button syntax or markup; describe choices in natural " +
		"language and use the offer_options tool when you want the customer to pick one."
)

type ComposerConfig struct {
	DefaultAPIKey string
	DefaultModel  string
	MaxRounds     int
	HistoryLimit  int
	MaxTokens     int
}

type ComposeInput struct {
	Thread       *entities.Thread
	Agent        *entities.Agent
	Contact      *entities.Contact
	IncomingText string
	// BatchKey identifies the batch that produced this reply and dedupes the send.
	BatchKey string
	// BatchMessageIDs are excluded from history since IncomingText already carries them.
	BatchMessageIDs []string
}

type ComposeResult struct {
	ReplyText      string
	ToolsInvoked   []string
	Rounds         int
	Sent           bool
	Escalated      bool
	OptionsOffered bool // the sent reply carried options and saved a new prompt
}

type Composer struct {
	completion interfaces.CompletionClient
	retriever  KnowledgeRetriever
	names      *NameTracker
	messages   interfaces.MessageStore
	threads    interfaces.ThreadStore
	settings   interfaces.SettingsStore
	transport  interfaces.SendTransport
	usage      interfaces.UsageRecorder
	cfg        ComposerConfig
	logger     zerolog.Logger
}

func NewComposer(
	completion interfaces.CompletionClient,
	retriever KnowledgeRetriever,
	names *NameTracker,
	messages interfaces.MessageStore,
	threads interfaces.ThreadStore,
	settings interfaces.SettingsStore,
	transport interfaces.SendTransport,
	usage interfaces.UsageRecorder,
	cfg ComposerConfig,
	logger zerolog.Logger,
) *Composer {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Composer{
		completion: completion,
		retriever:  retriever,
		names:      names,
		messages:   messages,
		threads:    threads,
		settings:   settings,
		transport:  transport,
		usage:      usage,
		cfg:        cfg,
		logger:     logger.With().Str("component", "composer").Logger(),
	}
}

// toolSession carries the side effects of one compose call's tool executions.
type toolSession struct {
	thread    *entities.Thread
	contact   *entities.Contact
	invoked   []string
	options   *entities.ButtonPrompt
	escalated bool
}

// Compose generates a reply for the combined batch text and sends it.
func (c *Composer) Compose(ctx context.Context, in ComposeInput) (*ComposeResult, error) {
	orgID := in.Thread.OrganizationID
	log := c.logger.With().Str("organization_id", orgID).Str("thread_id", in.Thread.ID).Logger()

	apiKey, err := c.resolveAPIKey(ctx, orgID)
	if err != nil {
		return nil, err
	}

	history, err := c.loadHistory(ctx, in)
	if err != nil {
		return nil, err
	}

	knowledge := c.retriever.Retrieve(ctx, in.IncomingText, orgID, history)

	state, _, err := c.names.State(ctx, in.Contact)
	if err != nil {
		return nil, err
	}

	model := c.cfg.DefaultModel
	if in.Agent != nil && strings.TrimSpace(in.Agent.Model) != "" {
		model = in.Agent.Model
	}
	basePrompt := ""
	if in.Agent != nil {
		basePrompt = in.Agent.SystemPrompt
	}

	req := entities.CompletionRequest{
		Model:     model,
		System:    BuildSystemPrompt(basePrompt, knowledge, state, in.Contact.DisplayName),
		Messages:  buildTurns(history, in.IncomingText),
		Tools:     ToolSpecs(),
		MaxTokens: c.cfg.MaxTokens,
	}

	session := &toolSession{thread: in.Thread, contact: in.Contact}
	result := &ComposeResult{}

	var reply string
	for {
		resp, err := c.completion.Complete(ctx, apiKey, req)
		if err != nil {
			return nil, fmt.Errorf("completion round %d: %w", result.Rounds+1, err)
		}
		result.Rounds++
		if text := resp.Text(); text != "" {
			reply = text
		}
		if !resp.WantsTools() || result.Rounds >= c.cfg.MaxRounds {
			if resp.WantsTools() {
				log.Warn().Int("rounds", result.Rounds).Msg("tool loop bound reached")
			}
			break
		}

		req.Messages = append(req.Messages, entities.ChatTurn{Role: entities.RoleAssistant, Content: resp.Content})
		results := make([]entities.ContentBlock, 0, len(resp.ToolUses()))
		for _, use := range resp.ToolUses() {
			results = append(results, c.executeTool(ctx, session, use))
		}
		req.Messages = append(req.Messages, entities.ChatTurn{Role: entities.RoleUser, Content: results})
	}

	if reply == "" && len(session.invoked) > 0 {
		nudge := req
		nudge.Tools = nil
		nudge.Messages = appendUserText(req.Messages, nudgeInstruction)
		resp, err := c.completion.Complete(ctx, apiKey, nudge)
		if err != nil {
			log.Warn().Err(err).Msg("nudge completion failed")
		} else {
			reply = resp.Text()
		}
	}
	if reply == "" {
		log.Warn().Msg("no reply text produced, sending fallback")
		reply = FallbackReply
	}

	result.ReplyText = reply
	result.ToolsInvoked = session.invoked
	result.Escalated = session.escalated

	sent, err := c.send(ctx, in, reply, session.options)
	if err != nil {
		return nil, err
	}
	result.Sent = sent
	result.OptionsOffered = sent && session.options != nil

	log.Info().
		Int("rounds", result.Rounds).
		Strs("tools", result.ToolsInvoked).
		Int("knowledge", len(knowledge)).
		Bool("sent", sent).
		Msg("reply composed")
	return result, nil
}

func (c *Composer) resolveAPIKey(ctx context.Context, orgID string) (string, error) {
	key, err := c.settings.GetSetting(ctx, orgID, SettingAnthropicAPIKey)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("load completion credentials: %w", err)
	}
	if key = strings.TrimSpace(key); key != "" {
		return key, nil
	}
	if key = strings.TrimSpace(c.cfg.DefaultAPIKey); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("organization %s: %w", orgID, apperr.ErrMissingCredentials)
}

func (c *Composer) loadHistory(ctx context.Context, in ComposeInput) ([]entities.Message, error) {
	recent, err := c.messages.ListRecent(ctx, in.Thread.OrganizationID, in.Thread.ID, c.cfg.HistoryLimit+len(in.BatchMessageIDs))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	skip := make(map[string]bool, len(in.BatchMessageIDs))
	for _, id := range in.BatchMessageIDs {
		skip[id] = true
	}
	history := make([]entities.Message, 0, len(recent))
	for _, m := range recent {
		if skip[m.ID] || m.DeletedAt != nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Direction == entities.DirectionOutbound && !delivered(m.Status) {
			continue
		}
		history = append(history, m)
	}
	if len(history) > c.cfg.HistoryLimit {
		history = history[len(history)-c.cfg.HistoryLimit:]
	}
	return history, nil
}

// delivered reports whether an outbound message reached the customer.
func delivered(status string) bool {
	switch status {
	case entities.MessageStatusSent, entities.MessageStatusDelivered, entities.MessageStatusRead:
		return true
	}
	return false
}

func (c *Composer) executeTool(ctx context.Context, s *toolSession, use entities.ContentBlock) entities.ContentBlock {
	s.invoked = append(s.invoked, use.Name)
	res := c.runTool(ctx, s, use)
	if !res.Success {
		c.logger.Warn().Str("tool", use.Name).Str("thread_id", s.thread.ID).Str("error", res.Message).Msg("tool failed")
	}
	return entities.ContentBlock{
		Type:      entities.BlockToolResult,
		ToolUseID: use.ID,
		Content:   res.JSON(),
		IsError:   !res.Success,
	}
}

func (c *Composer) runTool(ctx context.Context, s *toolSession, use entities.ContentBlock) ToolResult {
	call, err := ParseToolCall(use.Name, use.Input)
	if err != nil {
		return ToolResult{Message: err.Error()}
	}
	orgID := s.thread.OrganizationID

	switch call := call.(type) {
	case UpdateContactCall:
		if err := c.names.ConfirmName(ctx, orgID, s.contact.ID, call.Name); err != nil {
			return ToolResult{Message: err.Error()}
		}
		s.contact.DisplayName = call.Name
		return ToolResult{Success: true, Message: fmt.Sprintf("name saved as %q", call.Name)}
	case MarkNameAskedCall:
		if err := c.names.MarkNameAsked(ctx, orgID, s.contact.ID); err != nil {
			return ToolResult{Message: err.Error()}
		}
		return ToolResult{Success: true, Message: "recorded that the name was asked"}
	case TransferToHumanCall:
		if err := c.threads.SetStatus(ctx, orgID, s.thread.ID, entities.ThreadStatusHuman); err != nil {
			return ToolResult{Message: err.Error()}
		}
		s.escalated = true
		c.logger.Info().Str("organization_id", orgID).Str("thread_id", s.thread.ID).Str("reason", call.Reason).Msg("thread transferred to human")
		return ToolResult{Success: true, Message: "conversation handed over to a human attendant; tell the customer someone will continue shortly"}
	case OfferOptionsCall:
		s.options = call.ButtonPrompt()
		return ToolResult{Success: true, Message: fmt.Sprintf("%d options will be shown after your reply", len(call.Options))}
	default:
		return ToolResult{Message: fmt.Sprintf("%v: %s", apperr.ErrUnknownTool, use.Name)}
	}
}

// send claims the batch's outbound record and delivers it. A live claim from an earlier attempt skips the send.
func (c *Composer) send(ctx context.Context, in ComposeInput, text string, options *entities.ButtonPrompt) (bool, error) {
	orgID := in.Thread.OrganizationID
	out := &entities.Message{
		ThreadID:       in.Thread.ID,
		OrganizationID: orgID,
		Direction:      entities.DirectionOutbound,
		Content:        text,
		Status:         entities.MessageStatusSending,
		DedupeKey:      in.BatchKey,
	}
	claimed, err := c.messages.ClaimOutbound(ctx, out)
	if err != nil {
		return false, fmt.Errorf("claim outbound: %w", err)
	}
	if !claimed {
		c.logger.Info().Str("organization_id", orgID).Str("thread_id", in.Thread.ID).Str("batch_key", in.BatchKey).
			Msg("reply already sent for batch, skipping")
		return false, nil
	}

	msg := entities.OutboundMessage{Text: text}
	if options != nil {
		msg.Options = options.Options
	}
	dest := entities.Destination{OrganizationID: orgID, Channel: in.Thread.Channel, Address: in.Contact.ExternalID}
	providerID, err := c.transport.Send(ctx, dest, msg)
	if err != nil {
		if markErr := c.messages.MarkOutboundFailed(ctx, orgID, out.ID); markErr != nil {
			c.logger.Error().Err(markErr).Str("message_id", out.ID).Msg("mark outbound failed")
		}
		return false, fmt.Errorf("send reply: %w", err)
	}
	if err := c.messages.MarkOutboundSent(ctx, orgID, out.ID, providerID); err != nil {
		c.logger.Error().Err(err).Str("message_id", out.ID).Msg("mark outbound sent")
	}
	if options != nil {
		if err := c.threads.SetButtonPrompt(ctx, orgID, in.Thread.ID, options); err != nil {
			c.logger.Error().Err(err).Str("thread_id", in.Thread.ID).Msg("save button prompt")
		}
	}
	if c.usage != nil {
		if err := c.usage.IncrementSent(ctx, orgID); err != nil {
			c.logger.Warn().Err(err).Msg("record usage")
		}
	}
	return true, nil
}

// BuildSystemPrompt assembles the agent prompt with knowledge, name guidance and formatting rules.
func BuildSystemPrompt(base string, knowledge []entities.KnowledgeChunk, state entities.NameState, displayName string) string {
	var b strings.Builder
	base = strings.TrimSpace(base)
	if base == "" {
		base = "You are a helpful customer service assistant replying on WhatsApp."
	}
	b.WriteString(base)

	if len(knowledge) > 0 {
		b.WriteString("\n\n## Knowledge\n")
		b.WriteString(knowledgeDirective)
		for i, chunk := range knowledge {
			title := strings.TrimSpace(chunk.Title)
			if title == "" {
				title = fmt.Sprintf("Passage %d", i+1)
			}
			fmt.Fprintf(&b, "\n\n### %s", title)
			if chunk.Category != "" || chunk.Scope != "" {
				fmt.Fprintf(&b, " (%s", chunk.Scope)
				if chunk.Category != "" {
					fmt.Fprintf(&b, ", %s", chunk.Category)
				}
				b.WriteString(")")
			}
			b.WriteString("\n")
			b.WriteString(strings.TrimSpace(chunk.Content))
		}
	}

	b.WriteString("\n\n## Customer name\n")
	b.WriteString(NameInstructions(state, displayName))
	b.WriteString("\n\n")
	b.WriteString(formattingRules)
	return b.String()
}

// buildTurns maps stored history to alternating chat turns ending with the batch text as the user turn.
func buildTurns(history []entities.Message, incoming string) []entities.ChatTurn {
	var turns []entities.ChatTurn
	for _, m := range history {
		role := entities.RoleUser
		if m.Direction == entities.DirectionOutbound {
			role = entities.RoleAssistant
		}
		if len(turns) == 0 && role == entities.RoleAssistant {
			continue
		}
		turns = appendText(turns, role, strings.TrimSpace(m.Content))
	}
	return appendText(turns, entities.RoleUser, strings.TrimSpace(incoming))
}

func appendText(turns []entities.ChatTurn, role, text string) []entities.ChatTurn {
	block := entities.ContentBlock{Type: entities.BlockText, Text: text}
	if n := len(turns); n > 0 && turns[n-1].Role == role {
		turns[n-1].Content = append(turns[n-1].Content, block)
		return turns
	}
	return append(turns, entities.ChatTurn{Role: role, Content: []entities.ContentBlock{block}})
}

func appendUserText(turns []entities.ChatTurn, text string) []entities.ChatTurn {
	out := make([]entities.ChatTurn, len(turns))
	copy(out, turns)
	if n := len(out); n > 0 && out[n-1].Role == entities.RoleUser {
		last := out[n-1]
		last.Content = append(append([]entities.ContentBlock(nil), last.Content...), entities.ContentBlock{Type: entities.BlockText, Text: text})
		out[n-1] = last
		return out
	}
	return append(out, entities.ChatTurn{Role: entities.RoleUser, Content: []entities.ContentBlock{{Type: entities.BlockText, Text: text}}})
}
