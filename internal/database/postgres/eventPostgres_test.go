package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStore_GetEvent(t *testing.T) {
	t.Run("found with capacity", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewEventStore(db)

		mock.ExpectQuery(regexp.QuoteMeta("FROM events")).
			WithArgs("ev1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "cca_id", "title", "created_by", "capacity", "sign_up_deadline"}).
				AddRow("ev1", "cca1", "Sea kayaking", "org", int64(20), nil))

		event, err := store.GetEvent(context.Background(), "ev1")
		require.NoError(t, err)
		require.NotNil(t, event.Capacity)
		assert.Equal(t, 20, *event.Capacity)
		assert.False(t, event.Unlimited())
		assert.Nil(t, event.SignUpDeadline)
	})

	t.Run("missing event", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewEventStore(db)

		mock.ExpectQuery(regexp.QuoteMeta("FROM events")).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetEvent(context.Background(), "ghost")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})
}

func TestEventStore_Signups(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewEventStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM event_signups")).
		WithArgs("ev1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("ev1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (event_id, user_id) DO NOTHING")).
		WithArgs("ev1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM event_signups")).
		WithArgs("ev1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := store.CountRegistered(context.Background(), "ev1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	registered, err := store.IsRegistered(context.Background(), "ev1", "u1")
	require.NoError(t, err)
	assert.True(t, registered)

	// повторная запись не ошибка
	require.NoError(t, store.InsertSignup(context.Background(), "ev1", "u1"))

	deleted, err := store.DeleteSignup(context.Background(), "ev1", "u1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_InsertSignupFailure(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewEventStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_signups")).
		WillReturnError(errors.New("disk full"))

	err := store.InsertSignup(context.Background(), "ev1", "u1")
	assert.ErrorIs(t, err, entity.ErrPersistence)
}

func TestMembershipStore_GetMembership(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewMembershipStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM cca_memberships")).
		WithArgs("u1", "cca1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "cca_id", "role"}).AddRow("u1", "cca1", "exco"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM cca_memberships")).
		WithArgs("u2", "cca1").
		WillReturnError(sql.ErrNoRows)

	m, err := store.GetMembership(context.Background(), "u1", "cca1")
	require.NoError(t, err)
	assert.True(t, m.IsStaff())

	m, err = store.GetMembership(context.Background(), "u2", "cca1")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.False(t, m.IsStaff())
}

func TestNotificationRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs("u1", entity.NotificationPromotionOffered, "you got a spot", []byte(`{"event_id":"ev1"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &entity.Notification{
		UserID:   "u1",
		Kind:     entity.NotificationPromotionOffered,
		Message:  "you got a spot",
		Metadata: map[string]string{"event_id": "ev1"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
