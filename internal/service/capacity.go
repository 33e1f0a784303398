package service

import (
	"context"
	"time"

	repository "github.com/ds124wfegd/cca-waitlist/internal/database/postgres"
	"github.com/ds124wfegd/cca-waitlist/internal/entity"
)

type capacityOracle struct {
	events   repository.EventStore
	waitlist repository.WaitlistRepository
}

func NewCapacityOracle(events repository.EventStore, waitlist repository.WaitlistRepository) CapacityOracle {
	return &capacityOracle{events: events, waitlist: waitlist}
}

// IsFull загружает мероприятие и считает занятые места на момент now
func (o *capacityOracle) IsFull(ctx context.Context, eventID string, now time.Time) (*entity.Availability, error) {
	event, err := o.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return o.Check(ctx, event, now)
}

// Check считает места для уже загруженного мероприятия. Мероприятие без
// лимита никогда не бывает заполнено. Принятое, но еще не оформленное
// предложение держит место так же, как действующее.
func (o *capacityOracle) Check(ctx context.Context, event *entity.Event, now time.Time) (*entity.Availability, error) {
	if event.Unlimited() {
		return &entity.Availability{EventID: event.ID, Unlimited: true}, nil
	}

	registered, err := o.events.CountRegistered(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	offers, err := o.waitlist.CountActiveOffers(ctx, event.ID, now)
	if err != nil {
		return nil, err
	}

	return &entity.Availability{
		EventID:           event.ID,
		Full:              registered >= *event.Capacity,
		Capacity:          *event.Capacity,
		Registered:        registered,
		OutstandingOffers: offers,
	}, nil
}
