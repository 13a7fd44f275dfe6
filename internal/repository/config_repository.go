package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

// ConfigRepository holds per-organization agent configuration and settings.
type ConfigRepository struct {
	db *pgxpool.Pool
}

var (
	_ interfaces.AgentStore         = (*ConfigRepository)(nil)
	_ interfaces.AgentAdminStore    = (*ConfigRepository)(nil)
	_ interfaces.SettingsStore      = (*ConfigRepository)(nil)
	_ interfaces.SettingsAdminStore = (*ConfigRepository)(nil)
)

func NewConfigRepository(db *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{db: db}
}

const agentColumns = `id, organization_id, name, system_prompt, model, enabled, updated_at`

func (r *ConfigRepository) getAgent(ctx context.Context, sql string, orgID string) (*entities.Agent, error) {
	var a entities.Agent
	err := r.db.QueryRow(ctx, sql, orgID).
		Scan(&a.ID, &a.OrganizationID, &a.Name, &a.SystemPrompt, &a.Model, &a.Enabled, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get agent")
	}
	return &a, nil
}

func (r *ConfigRepository) GetEnabledAgent(ctx context.Context, orgID string) (*entities.Agent, error) {
	return r.getAgent(ctx, `SELECT `+agentColumns+` FROM agents WHERE organization_id = $1 AND enabled`, orgID)
}

func (r *ConfigRepository) GetAgent(ctx context.Context, orgID string) (*entities.Agent, error) {
	return r.getAgent(ctx, `SELECT `+agentColumns+` FROM agents WHERE organization_id = $1`, orgID)
}

// UpsertAgent keeps one agent per organization.
func (r *ConfigRepository) UpsertAgent(ctx context.Context, a *entities.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO agents (id, organization_id, name, system_prompt, model, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (organization_id) DO UPDATE SET
			name = EXCLUDED.name,
			system_prompt = EXCLUDED.system_prompt,
			model = EXCLUDED.model,
			enabled = EXCLUDED.enabled,
			updated_at = now()
		RETURNING id, updated_at`,
		a.ID, a.OrganizationID, a.Name, a.SystemPrompt, a.Model, a.Enabled,
	).Scan(&a.ID, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// GetSetting returns apperr.ErrNotFound for unset keys.
func (r *ConfigRepository) GetSetting(ctx context.Context, orgID, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM settings WHERE organization_id = $1 AND key = $2`, orgID, key).Scan(&value)
	if err != nil {
		return "", notFound(err, "get setting "+key)
	}
	return value, nil
}

func (r *ConfigRepository) SetSetting(ctx context.Context, orgID, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO settings (organization_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (organization_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		orgID, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (r *ConfigRepository) ListSettingKeys(ctx context.Context, orgID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key FROM settings WHERE organization_id = $1 ORDER BY key`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
