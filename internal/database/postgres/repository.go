package repository

import (
	"context"
	"time"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"
)

// WaitlistRepository типизированные операции над таблицей waitlist_entries.
// Бизнес-логики здесь нет, все отказы хранилища возвращаются как entity.ErrPersistence.
type WaitlistRepository interface {
	// Basic operations
	AddEntry(ctx context.Context, eventID, userID string) (*entity.WaitlistEntry, bool, error)
	GetEntry(ctx context.Context, eventID, userID string) (*entity.WaitlistEntry, error)
	GetEntryByID(ctx context.Context, id string) (*entity.WaitlistEntry, error)
	ListForEvent(ctx context.Context, eventID string) ([]*entity.WaitlistEntry, error)
	RemoveEntry(ctx context.Context, eventID, userID string) (bool, error)
	RemoveEntryByID(ctx context.Context, id string) (bool, error)

	// Offer lifecycle
	NextUnofferedCandidate(ctx context.Context, eventID string) (*entity.WaitlistEntry, error)
	MarkOffered(ctx context.Context, id string, expiresAt time.Time) error
	OfferIfWaiting(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	MarkAccepted(ctx context.Context, id string, now time.Time) error
	RestoreOffer(ctx context.Context, id string, expiresAt time.Time) error
	ClearOffer(ctx context.Context, id string) error
	ActiveOfferFor(ctx context.Context, eventID, userID string, now time.Time) (*entity.WaitlistEntry, error)
	// CountActiveOffers включает принятые записи без signup
	CountActiveOffers(ctx context.Context, eventID string, now time.Time) (int, error)

	// Expiration operations
	ListExpiredOffers(ctx context.Context, now time.Time) ([]*entity.WaitlistEntry, error)
	ListExpiredOffersForEvent(ctx context.Context, eventID string, now time.Time) ([]*entity.WaitlistEntry, error)
	DeleteExpiredOffer(ctx context.Context, id string, now time.Time) (bool, error)
	ListStaleAccepted(ctx context.Context, before time.Time) ([]*entity.WaitlistEntry, error)
}

// EventStore мероприятия и подтвержденные записи основного сервиса
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (*entity.Event, error)
	CountRegistered(ctx context.Context, eventID string) (int, error)
	IsRegistered(ctx context.Context, eventID, userID string) (bool, error)
	InsertSignup(ctx context.Context, eventID, userID string) error
	DeleteSignup(ctx context.Context, eventID, userID string) (bool, error)
}

type MembershipStore interface {
	GetMembership(ctx context.Context, userID, ccaID string) (*entity.Membership, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
}
