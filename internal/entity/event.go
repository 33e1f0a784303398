package entity

import (
	"time"
)

// Event мероприятие CCA, в этом сервисе только читается
type Event struct {
	ID             string     `json:"id" db:"id"`
	CCAID          string     `json:"cca_id" db:"cca_id"`
	Title          string     `json:"title" db:"title"`
	CreatedBy      string     `json:"created_by" db:"created_by"`
	Capacity       *int       `json:"capacity" db:"capacity"`
	SignUpDeadline *time.Time `json:"sign_up_deadline" db:"sign_up_deadline"`
}

// Unlimited reports whether the event has no seat limit. A missing or
// non-positive capacity means unlimited.
func (e *Event) Unlimited() bool {
	return e.Capacity == nil || *e.Capacity <= 0
}

// DeadlinePassed reports whether sign ups closed before now.
func (e *Event) DeadlinePassed(now time.Time) bool {
	return e.SignUpDeadline != nil && now.After(*e.SignUpDeadline)
}

// Availability результат проверки вместимости мероприятия
type Availability struct {
	EventID           string `json:"event_id"`
	Full              bool   `json:"full"`
	Unlimited         bool   `json:"unlimited"`
	Capacity          int    `json:"capacity"`
	Registered        int    `json:"registered"`
	OutstandingOffers int    `json:"outstanding_offers"`
}

// FreeSlots returns the seats nobody holds: not registered and not offered.
func (a Availability) FreeSlots() int {
	if a.Unlimited {
		return 0
	}
	free := a.Capacity - a.Registered - a.OutstandingOffers
	if free < 0 {
		return 0
	}
	return free
}

type MemberRole string

const (
	RoleMember  MemberRole = "member"
	RoleExco    MemberRole = "exco"
	RoleTeacher MemberRole = "teacher"
)

type Membership struct {
	UserID string     `json:"user_id" db:"user_id"`
	CCAID  string     `json:"cca_id" db:"cca_id"`
	Role   MemberRole `json:"role" db:"role"`
}

// IsStaff reports whether the member can manage the CCA's waitlists.
func (m *Membership) IsStaff() bool {
	if m == nil {
		return false
	}
	return m.Role == RoleExco || m.Role == RoleTeacher
}
