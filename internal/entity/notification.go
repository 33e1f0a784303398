package entity

import (
	"time"
)

type Notification struct {
	UserID    string            `json:"user_id" db:"user_id"`
	Kind      string            `json:"kind" db:"kind"`
	Message   string            `json:"message" db:"message"`
	Metadata  map[string]string `json:"metadata" db:"-"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

const (
	NotificationPromotionOffered = "waitlist_promotion_offered"
	NotificationPromotionExpired = "waitlist_promotion_expired"
	NotificationPromotionRevoked = "waitlist_promotion_revoked"
	NotificationPromotionClaimed = "waitlist_promotion_claimed"
)
