package entity

import (
	"encoding/json"
	"time"
)

// WaitlistStatus хранимое состояние записи листа ожидания
type WaitlistStatus string

const (
	WaitlistStatusWaiting  WaitlistStatus = "waiting"
	WaitlistStatusOffered  WaitlistStatus = "offered"
	WaitlistStatusAccepted WaitlistStatus = "accepted"
)

// WaitlistPhase состояние записи с учетом текущего времени
type WaitlistPhase string

const (
	PhaseWaiting  WaitlistPhase = "waiting"
	PhaseOffered  WaitlistPhase = "offered"
	PhaseExpired  WaitlistPhase = "expired"
	PhaseAccepted WaitlistPhase = "accepted"
)

// PromotionWindow is how long a promotion offer stays claimable.
const PromotionWindow = 2 * time.Hour

type WaitlistEntry struct {
	ID                 string         `json:"waitlist_id" db:"waitlist_id"`
	EventID            string         `json:"event_id" db:"event_id"`
	UserID             string         `json:"user_id" db:"user_id"`
	JoinedAt           time.Time      `json:"joined_at" db:"joined_at"`
	Status             WaitlistStatus `json:"status" db:"status"`
	PromotionExpiresAt *time.Time     `json:"promotion_expires_at" db:"promotion_expires_at"`
	PromotedAt         *time.Time     `json:"promoted_at" db:"promoted_at"`
}

// PromotionOffered reports whether an offer is outstanding (expired or not).
func (e *WaitlistEntry) PromotionOffered() bool {
	return e.Status == WaitlistStatusOffered
}

// Phase возвращает состояние записи на момент now
func (e *WaitlistEntry) Phase(now time.Time) WaitlistPhase {
	switch e.Status {
	case WaitlistStatusAccepted:
		return PhaseAccepted
	case WaitlistStatusOffered:
		if e.PromotionExpiresAt != nil && now.Before(*e.PromotionExpiresAt) {
			return PhaseOffered
		}
		return PhaseExpired
	default:
		return PhaseWaiting
	}
}

// OfferTimeLeft returns the remaining offer window, zero when there is none.
func (e *WaitlistEntry) OfferTimeLeft(now time.Time) time.Duration {
	if e.Phase(now) != PhaseOffered {
		return 0
	}
	return e.PromotionExpiresAt.Sub(now)
}

// MarshalJSON keeps the promotion_offered flag that clients of the old API read.
func (e WaitlistEntry) MarshalJSON() ([]byte, error) {
	type plain WaitlistEntry
	return json.Marshal(struct {
		plain
		PromotionOffered bool `json:"promotion_offered"`
	}{
		plain:            plain(e),
		PromotionOffered: e.PromotionOffered(),
	})
}

// WaitlistPosition запись листа ожидания с позицией в очереди
type WaitlistPosition struct {
	WaitlistEntry
	Position int `json:"position"`
}

func (p WaitlistPosition) MarshalJSON() ([]byte, error) {
	entry, err := json.Marshal(p.WaitlistEntry)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(entry, &fields); err != nil {
		return nil, err
	}
	fields["position"] = p.Position
	return json.Marshal(fields)
}

// WaitlistStatusView is what a user sees about their own entry.
type WaitlistStatusView struct {
	EventID          string        `json:"event_id"`
	WaitlistID       string        `json:"waitlist_id"`
	Phase            WaitlistPhase `json:"phase"`
	Position         int           `json:"position,omitempty"`
	QueueLength      int           `json:"queue_length"`
	OfferExpiresAt   *time.Time    `json:"promotion_expires_at,omitempty"`
	OfferSecondsLeft int64         `json:"offer_seconds_left,omitempty"`
}

// WaitlistTransition одна запись журнала переходов
type WaitlistTransition struct {
	WaitlistID string        `json:"waitlist_id"`
	EventID    string        `json:"event_id"`
	UserID     string        `json:"user_id"`
	From       WaitlistPhase `json:"from,omitempty"`
	To         WaitlistPhase `json:"to"`
	Reason     string        `json:"reason"`
	ActorID    string        `json:"actor_id,omitempty"`
	At         time.Time     `json:"at"`
}

// Transition reasons.
const (
	ReasonJoined         = "joined"
	ReasonOffered        = "offered"
	ReasonManualOffer    = "manual_offer"
	ReasonAccepted       = "accepted"
	ReasonAcceptRevert   = "accept_reverted"
	ReasonCancelled      = "cancelled"
	ReasonRevoked        = "revoked"
	ReasonExpired        = "expired"
	ReasonClearedByStaff = "cleared_by_staff"
	ReasonStalePurged    = "stale_accepted_purged"
)
