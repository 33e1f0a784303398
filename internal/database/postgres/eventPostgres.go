package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"

	"github.com/jmoiron/sqlx"
)

type eventStore struct {
	db *sqlx.DB
}

func NewEventStore(db *sqlx.DB) EventStore {
	return &eventStore{db: db}
}

func (r *eventStore) GetEvent(ctx context.Context, eventID string) (*entity.Event, error) {
	query := `
		SELECT id, cca_id, title, created_by, capacity, sign_up_deadline
		FROM events
		WHERE id = $1
	`

	var event entity.Event
	err := r.db.GetContext(ctx, &event, query, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrEventNotFound
		}
		return nil, entity.Persistence("failed to get event", err)
	}
	return &event, nil
}

func (r *eventStore) CountRegistered(ctx context.Context, eventID string) (int, error) {
	query := `SELECT COUNT(*) FROM event_signups WHERE event_id = $1`

	var count int
	if err := r.db.GetContext(ctx, &count, query, eventID); err != nil {
		return 0, entity.Persistence("failed to count registered users", err)
	}
	return count, nil
}

func (r *eventStore) IsRegistered(ctx context.Context, eventID, userID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM event_signups WHERE event_id = $1 AND user_id = $2)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, eventID, userID); err != nil {
		return false, entity.Persistence("failed to check signup", err)
	}
	return exists, nil
}

// InsertSignup идемпотентна: повторная запись того же пользователя не ошибка
func (r *eventStore) InsertSignup(ctx context.Context, eventID, userID string) error {
	query := `
		INSERT INTO event_signups (event_id, user_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_id, user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, eventID, userID); err != nil {
		return entity.Persistence("failed to insert signup", err)
	}
	return nil
}

func (r *eventStore) DeleteSignup(ctx context.Context, eventID, userID string) (bool, error) {
	query := `DELETE FROM event_signups WHERE event_id = $1 AND user_id = $2`

	result, err := r.db.ExecContext(ctx, query, eventID, userID)
	if err != nil {
		return false, entity.Persistence("failed to delete signup", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, entity.Persistence("failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}
