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

// KnowledgeRepository runs pgvector cosine searches over knowledge_chunks.
// Similarity is 1 - cosine distance.
type KnowledgeRepository struct {
	db *pgxpool.Pool
}

var (
	_ interfaces.KnowledgeStore  = (*KnowledgeRepository)(nil)
	_ interfaces.KnowledgeWriter = (*KnowledgeRepository)(nil)
)

func NewKnowledgeRepository(db *pgxpool.Pool) *KnowledgeRepository {
	return &KnowledgeRepository{db: db}
}

const knowledgeSelect = `
	SELECT id, organization_id, title, content, scope, category, product_id,
		1 - (embedding <=> $1::vector) AS similarity
	FROM knowledge_chunks`

func (r *KnowledgeRepository) SearchProductChunks(ctx context.Context, orgID, productID string, vec []float32, threshold float64, limit int) ([]entities.KnowledgeChunk, error) {
	return r.search(ctx, `
		WHERE organization_id = $2 AND scope = 'product' AND product_id = $5
			AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4`, vectorLiteral(vec), orgID, threshold, limit, productID)
}

func (r *KnowledgeRepository) SearchGlobalChunks(ctx context.Context, orgID string, vec []float32, threshold float64, limit int) ([]entities.KnowledgeChunk, error) {
	return r.search(ctx, `
		WHERE organization_id = $2 AND scope = 'global'
			AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4`, vectorLiteral(vec), orgID, threshold, limit)
}

func (r *KnowledgeRepository) SearchAllChunks(ctx context.Context, orgID string, vec []float32, threshold float64, limit int) ([]entities.KnowledgeChunk, error) {
	return r.search(ctx, `
		WHERE organization_id = $2
			AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4`, vectorLiteral(vec), orgID, threshold, limit)
}

func (r *KnowledgeRepository) search(ctx context.Context, where string, args ...any) ([]entities.KnowledgeChunk, error) {
	rows, err := r.db.Query(ctx, knowledgeSelect+where, args...)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entities.KnowledgeChunk, error) {
		var c entities.KnowledgeChunk
		var productID *string
		err := row.Scan(&c.ID, &c.OrganizationID, &c.Title, &c.Content, &c.Scope, &c.Category, &productID, &c.Similarity)
		c.ProductID = derefString(productID)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan knowledge: %w", err)
	}
	return chunks, nil
}

func (r *KnowledgeRepository) InsertChunk(ctx context.Context, chunk *entities.KnowledgeChunk, vec []float32) error {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO knowledge_chunks (id, organization_id, title, content, scope, category, product_id, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)`,
		chunk.ID, chunk.OrganizationID, chunk.Title, chunk.Content, string(chunk.Scope), chunk.Category,
		nullIfEmpty(chunk.ProductID), vectorLiteral(vec))
	if err != nil {
		return fmt.Errorf("insert knowledge chunk: %w", err)
	}
	return nil
}
