package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type PostgresClient struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresClient opens the pool, pings it and applies the schema. dims sizes the
// knowledge embedding column.
func NewPostgresClient(ctx context.Context, connString string, dims int, logger zerolog.Logger) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool, logger: logger.With().Str("component", "postgres").Logger()}
	if err := client.Migrate(ctx, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

// Migrate applies idempotent DDL in order.
func (p *PostgresClient) Migrate(ctx context.Context, dims int) error {
	for _, step := range schema(dims) {
		if _, err := p.Pool.Exec(ctx, step.sql); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	p.logger.Info().Int("steps", len(schema(dims))).Msg("schema up to date")
	return nil
}

type migration struct {
	name string
	sql  string
}

func schema(dims int) []migration {
	return []migration{
		{"enable pgvector", `CREATE EXTENSION IF NOT EXISTS vector`},
		{"create users table", `
			CREATE TABLE IF NOT EXISTS users (
				id SERIAL PRIMARY KEY,
				organization_id TEXT NOT NULL,
				username VARCHAR(50) UNIQUE NOT NULL,
				password_hash VARCHAR(255) NOT NULL,
				role VARCHAR(20) NOT NULL DEFAULT 'admin',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`},
		{"create contacts table", `
			CREATE TABLE IF NOT EXISTS contacts (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				channel VARCHAR(20) NOT NULL,
				external_id TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (organization_id, channel, external_id)
			)`},
		{"create threads table", `
			CREATE TABLE IF NOT EXISTS threads (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
				channel VARCHAR(20) NOT NULL,
				status VARCHAR(10) NOT NULL DEFAULT 'ai',
				buttons JSONB,
				agent_typing BOOLEAN NOT NULL DEFAULT false,
				agent_typing_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (organization_id, contact_id, channel)
			)`},
		{"create messages table", `
			CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
				organization_id TEXT NOT NULL,
				direction VARCHAR(10) NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				consumed BOOLEAN NOT NULL DEFAULT false,
				media_urls TEXT[] NOT NULL DEFAULT '{}',
				provider_message_id TEXT,
				status VARCHAR(20) NOT NULL,
				dedupe_key TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				deleted_at TIMESTAMPTZ
			)`},
		{"index pending inbound", `
			CREATE INDEX IF NOT EXISTS messages_pending_idx
			ON messages (thread_id, created_at) WHERE direction = 'inbound' AND consumed = false`},
		{"unique outbound dedupe key", `
			CREATE UNIQUE INDEX IF NOT EXISTS messages_dedupe_key_idx
			ON messages (organization_id, dedupe_key) WHERE dedupe_key IS NOT NULL`},
		{"unique provider message id", `
			CREATE UNIQUE INDEX IF NOT EXISTS messages_provider_id_idx
			ON messages (organization_id, provider_message_id) WHERE provider_message_id IS NOT NULL`},
		{"create contact_memory table", `
			CREATE TABLE IF NOT EXISTS contact_memory (
				contact_id TEXT PRIMARY KEY REFERENCES contacts(id) ON DELETE CASCADE,
				organization_id TEXT NOT NULL,
				name_asked BOOLEAN NOT NULL DEFAULT false,
				name_confirmed BOOLEAN NOT NULL DEFAULT false,
				name_confirmed_at TIMESTAMPTZ,
				original_display_name TEXT,
				facts TEXT[] NOT NULL DEFAULT '{}',
				objections TEXT[] NOT NULL DEFAULT '{}',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`},
		{"create products table", `
			CREATE TABLE IF NOT EXISTS products (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				name TEXT NOT NULL,
				slug VARCHAR(100) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (organization_id, slug)
			)`},
		{"create knowledge_chunks table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS knowledge_chunks (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				scope VARCHAR(10) NOT NULL,
				category TEXT NOT NULL DEFAULT '',
				product_id TEXT REFERENCES products(id) ON DELETE CASCADE,
				embedding vector(%d) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, dims)},
		{"index knowledge by organization", `
			CREATE INDEX IF NOT EXISTS knowledge_chunks_org_idx ON knowledge_chunks (organization_id, scope, product_id)`},
		{"create agents table", `
			CREATE TABLE IF NOT EXISTS agents (
				id TEXT PRIMARY KEY,
				organization_id TEXT UNIQUE NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				system_prompt TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				enabled BOOLEAN NOT NULL DEFAULT true,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`},
		{"create settings table", `
			CREATE TABLE IF NOT EXISTS settings (
				organization_id TEXT NOT NULL,
				key VARCHAR(50) NOT NULL,
				value TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (organization_id, key)
			)`},
		{"create templates table", `
			CREATE TABLE IF NOT EXISTS templates (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				name VARCHAR(512) NOT NULL,
				language VARCHAR(10) NOT NULL,
				category VARCHAR(20) NOT NULL,
				body TEXT NOT NULL,
				status VARCHAR(10) NOT NULL,
				provider_template_id TEXT NOT NULL DEFAULT '',
				rejection_reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (organization_id, name, language)
			)`},
		{"create message_usage table", `
			CREATE TABLE IF NOT EXISTS message_usage (
				organization_id TEXT NOT NULL,
				date DATE NOT NULL DEFAULT CURRENT_DATE,
				messages_sent INT NOT NULL DEFAULT 0,
				messages_received INT NOT NULL DEFAULT 0,
				PRIMARY KEY (organization_id, date)
			)`},
	}
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
