package service

import (
	"context"
	"time"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"
)

// WaitlistService движок продвижения листа ожидания
type WaitlistService interface {
	// Пользовательские операции
	Join(ctx context.Context, eventID, actorID string) (*entity.WaitlistEntry, error)
	Accept(ctx context.Context, eventID, actorID string) error
	Cancel(ctx context.Context, eventID, targetUserID, actorID string) error
	Unsign(ctx context.Context, eventID, actorID string) error
	ListWaitlist(ctx context.Context, eventID string) ([]*entity.WaitlistPosition, error)
	MyStatus(ctx context.Context, eventID, actorID string) (*entity.WaitlistStatusView, error)

	// Операции персонала CCA
	ManualPromote(ctx context.Context, waitlistID, actorID string) (*entity.WaitlistEntry, error)
	Revoke(ctx context.Context, waitlistID, actorID string) error
	ClearExpiredAndPromote(ctx context.Context, waitlistID, eventID, actorID string) error

	// Продвижение очереди
	OfferNextPromotion(ctx context.Context, eventID string) ([]*entity.WaitlistEntry, error)

	// Операции истечения срока, их вызывает фоновый sweep
	ListExpiredOffers(ctx context.Context, now time.Time) ([]*entity.WaitlistEntry, error)
	ExpireOffer(ctx context.Context, entry *entity.WaitlistEntry, now time.Time) error
	PurgeStaleAccepted(ctx context.Context, before time.Time) (int, error)
}

// CapacityOracle answers whether an event has run out of seats.
type CapacityOracle interface {
	IsFull(ctx context.Context, eventID string, now time.Time) (*entity.Availability, error)
	Check(ctx context.Context, event *entity.Event, now time.Time) (*entity.Availability, error)
}

// Notifier доставляет уведомления в фоне. Notify никогда не блокирует и не падает.
type Notifier interface {
	Notify(ctx context.Context, n entity.Notification)
}

// TransitionRecorder пишет переходы состояний в журнал аудита
type TransitionRecorder interface {
	Record(ctx context.Context, t entity.WaitlistTransition)
}

// RateLimiter ограничивает частоту операций по ключу
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Translator renders a localized message by key.
type Translator interface {
	T(locale, key string, data map[string]any) string
}
