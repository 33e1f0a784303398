package repository

import (
	"context"
	"encoding/json"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"

	"github.com/jmoiron/sqlx"
)

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// Create кладет уведомление во встроенный inbox пользователя
func (r *notificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return entity.Persistence("failed to encode notification metadata", err)
	}

	query := `
		INSERT INTO notifications (user_id, kind, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, n.UserID, n.Kind, n.Message, raw, n.CreatedAt); err != nil {
		return entity.Persistence("failed to insert notification", err)
	}
	return nil
}
