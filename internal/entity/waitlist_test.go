package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitlistEntry_Phase(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name     string
		entry    WaitlistEntry
		want     WaitlistPhase
		timeLeft time.Duration
	}{
		{name: "waiting", entry: WaitlistEntry{Status: WaitlistStatusWaiting}, want: PhaseWaiting},
		{name: "active offer", entry: WaitlistEntry{Status: WaitlistStatusOffered, PromotionExpiresAt: &later}, want: PhaseOffered, timeLeft: time.Hour},
		{name: "expired offer", entry: WaitlistEntry{Status: WaitlistStatusOffered, PromotionExpiresAt: &earlier}, want: PhaseExpired},
		{name: "expires exactly now", entry: WaitlistEntry{Status: WaitlistStatusOffered, PromotionExpiresAt: &now}, want: PhaseExpired},
		{name: "offer without expiry", entry: WaitlistEntry{Status: WaitlistStatusOffered}, want: PhaseExpired},
		{name: "accepted", entry: WaitlistEntry{Status: WaitlistStatusAccepted, PromotionExpiresAt: &later}, want: PhaseAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Phase(now))
			assert.Equal(t, tt.timeLeft, tt.entry.OfferTimeLeft(now))
		})
	}
}

func TestAvailability_FreeSlots(t *testing.T) {
	assert.Equal(t, 0, Availability{Unlimited: true}.FreeSlots())
	assert.Equal(t, 2, Availability{Capacity: 5, Registered: 2, OutstandingOffers: 1}.FreeSlots())
	assert.Equal(t, 0, Availability{Capacity: 2, Registered: 3}.FreeSlots())
}

func TestEvent_Rules(t *testing.T) {
	zero, five := 0, 5
	deadline := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, (&Event{}).Unlimited())
	assert.True(t, (&Event{Capacity: &zero}).Unlimited())
	assert.False(t, (&Event{Capacity: &five}).Unlimited())

	event := &Event{SignUpDeadline: &deadline}
	assert.True(t, event.DeadlinePassed(deadline.Add(time.Second)))
	assert.False(t, event.DeadlinePassed(deadline))
	assert.False(t, (&Event{}).DeadlinePassed(deadline))
}

func TestMembership_IsStaff(t *testing.T) {
	var none *Membership
	assert.False(t, none.IsStaff())
	assert.False(t, (&Membership{Role: RoleMember}).IsStaff())
	assert.True(t, (&Membership{Role: RoleExco}).IsStaff())
	assert.True(t, (&Membership{Role: RoleTeacher}).IsStaff())
}

func TestDomainError_Kinds(t *testing.T) {
	cause := errors.New("pq: deadlock detected")
	err := Persistence("failed to mark offer", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, "failed to mark offer: pq: deadlock detected", err.Error())

	assert.ErrorIs(t, ErrOfferExpired, ErrPromotionExpired)
	assert.ErrorIs(t, ErrTooManyRequests, ErrRateLimited)
	assert.ErrorIs(t, ErrEntryEventMismatch, ErrValidation)
	assert.Equal(t, "event not found", ErrEventNotFound.Error())
}

func TestWaitlistPosition_JSON(t *testing.T) {
	pos := WaitlistPosition{
		WaitlistEntry: WaitlistEntry{ID: "w1", Status: WaitlistStatusOffered},
		Position:      4,
	}
	data, err := pos.MarshalJSON()
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"position":4`)
	assert.Contains(t, string(data), `"promotion_offered":true`)
}
