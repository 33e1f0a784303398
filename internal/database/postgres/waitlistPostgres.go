package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const waitlistColumns = `waitlist_id, event_id, user_id, joined_at, status, promotion_expires_at, promoted_at`

type waitlistRepository struct {
	db *sqlx.DB
}

func NewWaitlistRepository(db *sqlx.DB) WaitlistRepository {
	return &waitlistRepository{db: db}
}

// AddEntry вставляет запись в статусе waiting. Повторная вставка той же пары
// (event, user) ничего не меняет и возвращает существующую запись с created=false.
func (r *waitlistRepository) AddEntry(ctx context.Context, eventID, userID string) (*entity.WaitlistEntry, bool, error) {
	query := `
		INSERT INTO waitlist_entries (waitlist_id, event_id, user_id, joined_at, status)
		VALUES ($1, $2, $3, $4, 'waiting')
		ON CONFLICT (event_id, user_id) DO NOTHING
		RETURNING ` + waitlistColumns

	var entry entity.WaitlistEntry
	err := r.db.GetContext(ctx, &entry, query, uuid.NewString(), eventID, userID, time.Now().UTC())
	if err == nil {
		return &entry, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, entity.Persistence("failed to add waitlist entry", err)
	}

	existing, err := r.GetEntry(ctx, eventID, userID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// запись удалили между INSERT и SELECT
		return nil, false, entity.Persistence("failed to add waitlist entry", errors.New("entry vanished after conflict"))
	}
	return existing, false, nil
}

func (r *waitlistRepository) GetEntry(ctx context.Context, eventID, userID string) (*entity.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE event_id = $1 AND user_id = $2`
	return r.getOne(ctx, "failed to get waitlist entry", query, eventID, userID)
}

func (r *waitlistRepository) GetEntryByID(ctx context.Context, id string) (*entity.WaitlistEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE waitlist_id = $1`
	return r.getOne(ctx, "failed to get waitlist entry", query, id)
}

func (r *waitlistRepository) ListForEvent(ctx context.Context, eventID string) ([]*entity.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE event_id = $1
		ORDER BY joined_at ASC, waitlist_id ASC
	`
	return r.getMany(ctx, "failed to list waitlist", query, eventID)
}

func (r *waitlistRepository) RemoveEntry(ctx context.Context, eventID, userID string) (bool, error) {
	query := `DELETE FROM waitlist_entries WHERE event_id = $1 AND user_id = $2`
	return r.exec(ctx, "failed to remove waitlist entry", query, eventID, userID)
}

func (r *waitlistRepository) RemoveEntryByID(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	query := `DELETE FROM waitlist_entries WHERE waitlist_id = $1`
	return r.exec(ctx, "failed to remove waitlist entry", query, id)
}

// NextUnofferedCandidate самая старая запись в статусе waiting
func (r *waitlistRepository) NextUnofferedCandidate(ctx context.Context, eventID string) (*entity.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE event_id = $1 AND status = 'waiting'
		ORDER BY joined_at ASC, waitlist_id ASC
		LIMIT 1
	`
	return r.getOne(ctx, "failed to get next waitlist candidate", query, eventID)
}

// MarkOffered выдает предложение вне очереди. Принятые записи не трогает.
func (r *waitlistRepository) MarkOffered(ctx context.Context, id string, expiresAt time.Time) error {
	query := `
		UPDATE waitlist_entries
		SET status = 'offered', promotion_expires_at = $2, promoted_at = NULL
		WHERE waitlist_id = $1 AND status <> 'accepted'
	`
	ok, err := r.exec(ctx, "failed to mark promotion offered", query, id, expiresAt)
	if err != nil {
		return err
	}
	if !ok {
		return entity.ErrEntryNotFound
	}
	return nil
}

func (r *waitlistRepository) OfferIfWaiting(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE waitlist_entries
		SET status = 'offered', promotion_expires_at = $2
		WHERE waitlist_id = $1 AND status = 'waiting'
	`
	return r.exec(ctx, "failed to offer promotion", query, id, expiresAt)
}

// MarkAccepted переводит только действующее предложение, иначе ErrOfferExpired
func (r *waitlistRepository) MarkAccepted(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE waitlist_entries
		SET status = 'accepted', promoted_at = $2
		WHERE waitlist_id = $1 AND status = 'offered' AND promotion_expires_at > $2
	`
	ok, err := r.exec(ctx, "failed to accept promotion", query, id, now)
	if err != nil {
		return err
	}
	if !ok {
		return entity.ErrOfferExpired
	}
	return nil
}

func (r *waitlistRepository) RestoreOffer(ctx context.Context, id string, expiresAt time.Time) error {
	query := `
		UPDATE waitlist_entries
		SET status = 'offered', promotion_expires_at = $2, promoted_at = NULL
		WHERE waitlist_id = $1 AND status = 'accepted'
	`
	ok, err := r.exec(ctx, "failed to restore promotion offer", query, id, expiresAt)
	if err != nil {
		return err
	}
	if !ok {
		return entity.ErrEntryNotFound
	}
	return nil
}

func (r *waitlistRepository) ClearOffer(ctx context.Context, id string) error {
	query := `
		UPDATE waitlist_entries
		SET status = 'waiting', promotion_expires_at = NULL, promoted_at = NULL
		WHERE waitlist_id = $1 AND status <> 'accepted'
	`
	ok, err := r.exec(ctx, "failed to clear promotion offer", query, id)
	if err != nil {
		return err
	}
	if !ok {
		return entity.ErrEntryNotFound
	}
	return nil
}

func (r *waitlistRepository) ActiveOfferFor(ctx context.Context, eventID, userID string, now time.Time) (*entity.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE event_id = $1 AND user_id = $2
		  AND status = 'offered' AND promotion_expires_at > $3
	`
	return r.getOne(ctx, "failed to get active offer", query, eventID, userID, now)
}

// CountActiveOffers считает места, которые держит очередь: действующие
// предложения и принятые записи, для которых signup еще не создан
func (r *waitlistRepository) CountActiveOffers(ctx context.Context, eventID string, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM waitlist_entries
		WHERE event_id = $1
		  AND (status = 'accepted' OR (status = 'offered' AND promotion_expires_at > $2))
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, eventID, now); err != nil {
		return 0, entity.Persistence("failed to count active offers", err)
	}
	return count, nil
}

func (r *waitlistRepository) ListExpiredOffers(ctx context.Context, now time.Time) ([]*entity.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE status = 'offered' AND promotion_expires_at <= $1
		ORDER BY promotion_expires_at ASC
	`
	return r.getMany(ctx, "failed to list expired offers", query, now)
}

func (r *waitlistRepository) ListExpiredOffersForEvent(ctx context.Context, eventID string, now time.Time) ([]*entity.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE event_id = $1 AND status = 'offered' AND promotion_expires_at <= $2
		ORDER BY promotion_expires_at ASC
	`
	return r.getMany(ctx, "failed to list expired offers", query, eventID, now)
}

// DeleteExpiredOffer удаляет запись только если предложение все еще просрочено
func (r *waitlistRepository) DeleteExpiredOffer(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		DELETE FROM waitlist_entries
		WHERE waitlist_id = $1 AND status = 'offered' AND promotion_expires_at <= $2
	`
	return r.exec(ctx, "failed to delete expired offer", query, id, now)
}

func (r *waitlistRepository) ListStaleAccepted(ctx context.Context, before time.Time) ([]*entity.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE status = 'accepted' AND promoted_at < $1
		ORDER BY promoted_at ASC
	`
	return r.getMany(ctx, "failed to list stale accepted entries", query, before)
}

func (r *waitlistRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*entity.WaitlistEntry, error) {
	var entry entity.WaitlistEntry
	err := r.db.GetContext(ctx, &entry, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, entity.Persistence(op, err)
	}
	return &entry, nil
}

func (r *waitlistRepository) getMany(ctx context.Context, op, query string, args ...interface{}) ([]*entity.WaitlistEntry, error) {
	entries := []*entity.WaitlistEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, entity.Persistence(op, err)
	}
	return entries, nil
}

func (r *waitlistRepository) exec(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, entity.Persistence(op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, entity.Persistence("failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}
