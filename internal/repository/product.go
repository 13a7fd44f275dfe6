package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

type ProductRepository struct {
	db *pgxpool.Pool
}

var _ interfaces.ProductCatalog = (*ProductRepository)(nil)

func NewProductRepository(db *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{db: db}
}

// UpsertProducts inserts or updates products by slug in one transaction and
// returns how many rows were written.
func (r *ProductRepository) UpsertProducts(ctx context.Context, orgID string, products []entities.Product) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin product import: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(`
			INSERT INTO products (id, organization_id, name, slug, description)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (organization_id, slug) DO UPDATE
			SET name = EXCLUDED.name,
				description = EXCLUDED.description,
				updated_at = now()`,
			uuid.NewString(), orgID, p.Name, p.Slug, p.Description)
	}
	results := tx.SendBatch(ctx, batch)
	written := 0
	for i := range products {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return 0, fmt.Errorf("upsert product %s: %w", products[i].Slug, err)
		}
		written++
	}
	if err := results.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit product import: %w", err)
	}
	return written, nil
}

func (r *ProductRepository) ListProducts(ctx context.Context, orgID string) ([]entities.Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, organization_id, name, slug, description
		FROM products WHERE organization_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return scanProducts(rows)
}

func scanProducts(rows pgx.Rows) ([]entities.Product, error) {
	defer rows.Close()
	var products []entities.Product
	for rows.Next() {
		var p entities.Product
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Slug, &p.Description); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
