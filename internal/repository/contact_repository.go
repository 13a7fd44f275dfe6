package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

type ContactRepository struct {
	db *pgxpool.Pool
}

var (
	_ interfaces.ContactStore = (*ContactRepository)(nil)
	_ interfaces.MemoryStore  = (*ContactRepository)(nil)
)

func NewContactRepository(db *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{db: db}
}

const contactColumns = `id, organization_id, channel, external_id, display_name, created_at, updated_at`

func (r *ContactRepository) GetContact(ctx context.Context, orgID, contactID string) (*entities.Contact, error) {
	var c entities.Contact
	err := r.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND organization_id = $2`, contactID, orgID).
		Scan(&c.ID, &c.OrganizationID, &c.Channel, &c.ExternalID, &c.DisplayName, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get contact")
	}
	return &c, nil
}

// FindOrCreateContact refreshes the display name from the channel unless the
// contact has already confirmed their name.
func (r *ContactRepository) FindOrCreateContact(ctx context.Context, orgID string, channel entities.Channel, externalID, displayName string) (*entities.Contact, error) {
	var c entities.Contact
	err := r.db.QueryRow(ctx, `
		INSERT INTO contacts (id, organization_id, channel, external_id, display_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, channel, external_id) DO UPDATE SET
			display_name = CASE
				WHEN EXCLUDED.display_name <> ''
					AND NOT EXISTS (
						SELECT 1 FROM contact_memory m
						WHERE m.contact_id = contacts.id AND m.name_confirmed
					)
				THEN EXCLUDED.display_name
				ELSE contacts.display_name
			END,
			updated_at = now()
		RETURNING `+contactColumns,
		uuid.NewString(), orgID, string(channel), externalID, displayName,
	).Scan(&c.ID, &c.OrganizationID, &c.Channel, &c.ExternalID, &c.DisplayName, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("find or create contact: %w", err)
	}
	return &c, nil
}

func (r *ContactRepository) UpdateContactName(ctx context.Context, orgID, contactID, name string) error {
	tag, err := r.db.Exec(ctx, `UPDATE contacts SET display_name = $3, updated_at = now() WHERE id = $1 AND organization_id = $2`,
		contactID, orgID, name)
	if err != nil {
		return fmt.Errorf("update contact name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update contact name: %w", apperr.ErrNotFound)
	}
	return nil
}

func (r *ContactRepository) GetMemory(ctx context.Context, orgID, contactID string) (*entities.ContactMemory, error) {
	var m entities.ContactMemory
	var original *string
	err := r.db.QueryRow(ctx, `
		SELECT contact_id, organization_id, name_asked, name_confirmed, name_confirmed_at,
			original_display_name, facts, objections, updated_at
		FROM contact_memory WHERE contact_id = $1 AND organization_id = $2`, contactID, orgID).
		Scan(&m.ContactID, &m.OrganizationID, &m.NameAsked, &m.NameConfirmed, &m.NameConfirmedAt,
			&original, &m.Facts, &m.Objections, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get contact memory")
	}
	m.OriginalDisplayName = derefString(original)
	return &m, nil
}

// UpsertMemory writes memory with monotonic guards: flags only turn on, and the
// original name and confirmation time are written once.
func (r *ContactRepository) UpsertMemory(ctx context.Context, mem *entities.ContactMemory) error {
	facts, objections := mem.Facts, mem.Objections
	if facts == nil {
		facts = []string{}
	}
	if objections == nil {
		objections = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO contact_memory (contact_id, organization_id, name_asked, name_confirmed, name_confirmed_at,
			original_display_name, facts, objections, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (contact_id) DO UPDATE SET
			name_asked = contact_memory.name_asked OR EXCLUDED.name_asked,
			name_confirmed = contact_memory.name_confirmed OR EXCLUDED.name_confirmed,
			name_confirmed_at = COALESCE(contact_memory.name_confirmed_at, EXCLUDED.name_confirmed_at),
			original_display_name = COALESCE(contact_memory.original_display_name, EXCLUDED.original_display_name),
			facts = EXCLUDED.facts,
			objections = EXCLUDED.objections,
			updated_at = now()
		WHERE contact_memory.organization_id = EXCLUDED.organization_id`,
		mem.ContactID, mem.OrganizationID, mem.NameAsked, mem.NameConfirmed, mem.NameConfirmedAt,
		nullIfEmpty(mem.OriginalDisplayName), facts, objections)
	if err != nil {
		return fmt.Errorf("upsert contact memory: %w", err)
	}
	return nil
}
