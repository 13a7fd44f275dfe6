package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

// ConversationRepository stores threads and their messages. Every query is scoped
// by organization.
type ConversationRepository struct {
	db *pgxpool.Pool
}

var (
	_ interfaces.ThreadStore  = (*ConversationRepository)(nil)
	_ interfaces.MessageStore = (*ConversationRepository)(nil)
)

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const threadColumns = `id, organization_id, contact_id, channel, status, buttons, agent_typing, agent_typing_at, created_at, updated_at`

func scanThread(row pgx.Row) (*entities.Thread, error) {
	var t entities.Thread
	var buttons []byte
	if err := row.Scan(&t.ID, &t.OrganizationID, &t.ContactID, &t.Channel, &t.Status, &buttons,
		&t.AgentTyping, &t.AgentTypingAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(buttons) > 0 && string(buttons) != "null" {
		var prompt entities.ButtonPrompt
		if err := json.Unmarshal(buttons, &prompt); err != nil {
			return nil, fmt.Errorf("decode button prompt: %w", err)
		}
		if len(prompt.Options) > 0 {
			t.Buttons = &prompt
		}
	}
	return &t, nil
}

func (r *ConversationRepository) GetThread(ctx context.Context, orgID, threadID string) (*entities.Thread, error) {
	row := r.db.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1 AND organization_id = $2`, threadID, orgID)
	t, err := scanThread(row)
	if err != nil {
		return nil, notFound(err, "get thread")
	}
	return t, nil
}

func (r *ConversationRepository) FindOrCreateThread(ctx context.Context, orgID, contactID string, channel entities.Channel) (*entities.Thread, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO threads (id, organization_id, contact_id, channel)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, contact_id, channel) DO UPDATE SET updated_at = now()
		RETURNING `+threadColumns,
		uuid.NewString(), orgID, contactID, string(channel))
	t, err := scanThread(row)
	if err != nil {
		return nil, fmt.Errorf("find or create thread: %w", err)
	}
	return t, nil
}

// SetButtonPrompt stores prompt, or clears it when prompt is nil.
func (r *ConversationRepository) SetButtonPrompt(ctx context.Context, orgID, threadID string, prompt *entities.ButtonPrompt) error {
	var payload []byte
	if prompt != nil && len(prompt.Options) > 0 {
		var err error
		if payload, err = json.Marshal(prompt); err != nil {
			return fmt.Errorf("encode button prompt: %w", err)
		}
	}
	return r.execThread(ctx, `UPDATE threads SET buttons = $3, updated_at = now() WHERE id = $1 AND organization_id = $2`,
		threadID, orgID, payload)
}

func (r *ConversationRepository) SetAgentTyping(ctx context.Context, orgID, threadID string, typing bool) error {
	return r.execThread(ctx, `
		UPDATE threads
		SET agent_typing = $3, agent_typing_at = CASE WHEN $3 THEN now() ELSE NULL END
		WHERE id = $1 AND organization_id = $2`,
		threadID, orgID, typing)
}

func (r *ConversationRepository) SetStatus(ctx context.Context, orgID, threadID string, status entities.ThreadStatus) error {
	return r.execThread(ctx, `UPDATE threads SET status = $3, updated_at = now() WHERE id = $1 AND organization_id = $2`,
		threadID, orgID, string(status))
}

func (r *ConversationRepository) execThread(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update thread: %w", apperr.ErrNotFound)
	}
	return nil
}

// Messages

const messageColumns = `id, thread_id, organization_id, direction, content, consumed, media_urls,
	provider_message_id, status, dedupe_key, created_at, deleted_at`

func scanMessages(rows pgx.Rows) ([]entities.Message, error) {
	defer rows.Close()
	var out []entities.Message
	for rows.Next() {
		var m entities.Message
		var providerID, dedupe *string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.OrganizationID, &m.Direction, &m.Content, &m.Consumed, &m.MediaURLs,
			&providerID, &m.Status, &dedupe, &m.CreatedAt, &m.DeletedAt); err != nil {
			return nil, err
		}
		m.ProviderMessageID = derefString(providerID)
		m.DedupeKey = derefString(dedupe)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ConversationRepository) CreateInbound(ctx context.Context, msg *entities.Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.MediaURLs == nil {
		msg.MediaURLs = []string{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (id, thread_id, organization_id, direction, content, media_urls, provider_message_id, status)
		VALUES ($1, $2, $3, 'inbound', $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING created_at`,
		msg.ID, msg.ThreadID, msg.OrganizationID, msg.Content, msg.MediaURLs, nullIfEmpty(msg.ProviderMessageID), entities.MessageStatusReceived,
	).Scan(&msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert inbound message: %w", err)
	}
	return true, nil
}

func (r *ConversationRepository) ListPendingInbound(ctx context.Context, orgID, threadID string) ([]entities.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = $1 AND organization_id = $2 AND direction = 'inbound'
			AND consumed = false AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC`, threadID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return scanMessages(rows)
}

// ListRecent returns the newest limit messages, oldest first.
func (r *ConversationRepository) ListRecent(ctx context.Context, orgID, threadID string, limit int) ([]entities.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE thread_id = $1 AND organization_id = $2 AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent ORDER BY created_at ASC, id ASC`, threadID, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	return scanMessages(rows)
}

func (r *ConversationRepository) MarkConsumed(ctx context.Context, orgID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE messages SET consumed = true
		WHERE organization_id = $1 AND id = ANY($2) AND consumed = false`, orgID, ids)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	return nil
}

// ClaimOutbound inserts the reply under its dedupe key. An existing row is only
// reclaimed when its previous send failed.
func (r *ConversationRepository) ClaimOutbound(ctx context.Context, msg *entities.Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.MediaURLs == nil {
		msg.MediaURLs = []string{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (id, thread_id, organization_id, direction, content, media_urls, status, dedupe_key, consumed)
		VALUES ($1, $2, $3, 'outbound', $4, $5, $6, $7, true)
		ON CONFLICT (organization_id, dedupe_key) WHERE dedupe_key IS NOT NULL
		DO UPDATE SET status = EXCLUDED.status, content = EXCLUDED.content, created_at = now()
			WHERE messages.status = 'failed'
		RETURNING id, created_at`,
		msg.ID, msg.ThreadID, msg.OrganizationID, msg.Content, msg.MediaURLs, entities.MessageStatusSending, nullIfEmpty(msg.DedupeKey),
	).Scan(&msg.ID, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim outbound: %w", err)
	}
	return true, nil
}

func (r *ConversationRepository) MarkOutboundSent(ctx context.Context, orgID, id, providerMessageID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages SET status = 'sent', provider_message_id = $3
		WHERE id = $1 AND organization_id = $2`, id, orgID, nullIfEmpty(providerMessageID))
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (r *ConversationRepository) MarkOutboundFailed(ctx context.Context, orgID, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE messages SET status = 'failed' WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// UpdateStatusByProviderID applies a delivery receipt. Receipts never move a message backwards.
func (r *ConversationRepository) UpdateStatusByProviderID(ctx context.Context, providerMessageID, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages SET status = $2
		WHERE provider_message_id = $1 AND direction = 'outbound'
			AND (
				$2 = 'failed'
				OR (status = 'sent' AND $2 IN ('delivered', 'read'))
				OR (status = 'delivered' AND $2 = 'read')
			)`, providerMessageID, status)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	return nil
}

// PendingTriggers lists one trigger per thread that still has unconsumed inbound
// messages, used to resume batches after a restart.
func (r *ConversationRepository) PendingTriggers(ctx context.Context) ([]entities.BatchTrigger, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (m.thread_id) m.thread_id, m.organization_id, t.contact_id, m.id
		FROM messages m
		JOIN threads t ON t.id = m.thread_id AND t.organization_id = m.organization_id
		WHERE m.direction = 'inbound' AND m.consumed = false AND m.deleted_at IS NULL
		ORDER BY m.thread_id, m.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("pending triggers: %w", err)
	}
	defer rows.Close()
	var out []entities.BatchTrigger
	for rows.Next() {
		var tr entities.BatchTrigger
		if err := rows.Scan(&tr.ThreadID, &tr.OrganizationID, &tr.ContactID, &tr.MessageID); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
