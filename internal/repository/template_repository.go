package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

type TemplateRepository struct {
	db *pgxpool.Pool
}

var _ interfaces.TemplateStore = (*TemplateRepository)(nil)

func NewTemplateRepository(db *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, organization_id, name, language, category, body, status,
	provider_template_id, rejection_reason, created_at, updated_at`

func scanTemplate(row pgx.Row) (*entities.Template, error) {
	var t entities.Template
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Language, &t.Category, &t.Body, &t.Status,
		&t.ProviderTemplateID, &t.RejectionReason, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *TemplateRepository) CreateTemplate(ctx context.Context, t *entities.Template) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO templates (id, organization_id, name, language, category, body, status, provider_template_id, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		t.ID, t.OrganizationID, t.Name, t.Language, t.Category, t.Body, string(t.Status), t.ProviderTemplateID, t.RejectionReason,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, orgID, id string) (*entities.Template, error) {
	t, err := scanTemplate(r.db.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1 AND organization_id = $2`, id, orgID))
	if err != nil {
		return nil, notFound(err, "get template")
	}
	return t, nil
}

func (r *TemplateRepository) ListTemplates(ctx context.Context, orgID string) ([]entities.Template, error) {
	return r.list(ctx, `SELECT `+templateColumns+` FROM templates WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
}

func (r *TemplateRepository) ListPendingTemplates(ctx context.Context) ([]entities.Template, error) {
	return r.list(ctx, `SELECT `+templateColumns+` FROM templates WHERE status = 'pending' ORDER BY updated_at`)
}

func (r *TemplateRepository) list(ctx context.Context, sql string, args ...any) ([]entities.Template, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	var out []entities.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TemplateRepository) UpdateTemplateStatus(ctx context.Context, t *entities.Template) error {
	err := r.db.QueryRow(ctx, `
		UPDATE templates
		SET status = $3, provider_template_id = $4, rejection_reason = $5, updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING updated_at`,
		t.ID, t.OrganizationID, string(t.Status), t.ProviderTemplateID, t.RejectionReason,
	).Scan(&t.UpdatedAt)
	if err != nil {
		return notFound(err, "update template status")
	}
	return nil
}
