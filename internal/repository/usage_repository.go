package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

type UsageRepository struct {
	db *pgxpool.Pool
}

var (
	_ interfaces.UsageRecorder = (*UsageRepository)(nil)
	_ interfaces.UsageReader   = (*UsageRepository)(nil)
)

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

// IncrementSent increments messages_sent for today
func (r *UsageRepository) IncrementSent(ctx context.Context, orgID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_usage (organization_id, date, messages_sent, messages_received)
		VALUES ($1, CURRENT_DATE, 1, 0)
		ON CONFLICT (organization_id, date)
		DO UPDATE SET messages_sent = message_usage.messages_sent + 1`, orgID)
	if err != nil {
		return fmt.Errorf("increment sent: %w", err)
	}
	return nil
}

// IncrementReceived increments messages_received for today
func (r *UsageRepository) IncrementReceived(ctx context.Context, orgID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_usage (organization_id, date, messages_sent, messages_received)
		VALUES ($1, CURRENT_DATE, 0, 1)
		ON CONFLICT (organization_id, date)
		DO UPDATE SET messages_received = message_usage.messages_received + 1`, orgID)
	if err != nil {
		return fmt.Errorf("increment received: %w", err)
	}
	return nil
}

// GetUsageHistory returns daily counts for the last days days, newest first.
func (r *UsageRepository) GetUsageHistory(ctx context.Context, orgID string, days int) ([]entities.DailyUsage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT date, messages_sent, messages_received
		FROM message_usage
		WHERE organization_id = $1 AND date > CURRENT_DATE - $2::int
		ORDER BY date DESC`, orgID, days)
	if err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}
	defer rows.Close()

	usage := []entities.DailyUsage{}
	for rows.Next() {
		var u entities.DailyUsage
		if err := rows.Scan(&u.Date, &u.MessagesSent, &u.MessagesReceived); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
