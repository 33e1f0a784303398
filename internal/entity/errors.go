package entity

import "errors"

// Error kinds. Every error the waitlist core returns matches exactly one of
// them with errors.Is.
var (
	ErrValidation       = errors.New("invalid request")
	ErrPolicy           = errors.New("forbidden operation")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrPromotionExpired = errors.New("promotion expired")
	ErrPersistence      = errors.New("database error")
	ErrRateLimited      = errors.New("too many requests")
)

// DomainError carries a short user-facing message, its kind and the cause.
type DomainError struct {
	Kind  error
	Msg   string
	Cause error
}

func (e *DomainError) Error() string {
	if e.Cause != nil && e.Kind == ErrPersistence {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *DomainError) Is(target error) bool {
	return target == e.Kind
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

func newError(kind error, msg string) *DomainError {
	return &DomainError{Kind: kind, Msg: msg}
}

func Validation(msg string) error { return newError(ErrValidation, msg) }
func Policy(msg string) error     { return newError(ErrPolicy, msg) }
func NotFound(msg string) error   { return newError(ErrNotFound, msg) }
func Conflict(msg string) error   { return newError(ErrConflict, msg) }

// Persistence wraps a storage failure.
func Persistence(msg string, cause error) error {
	return &DomainError{Kind: ErrPersistence, Msg: msg, Cause: cause}
}

var (
	// Event errors
	ErrEventNotFound = NotFound("event not found")

	// Join policy
	ErrOrganiserCannotJoin = Policy("event organisers cannot join the waitlist of their own event")
	ErrExcoCannotJoin      = Policy("EXCO members cannot join the waitlist of their own CCA's event")
	ErrDeadlinePassed      = Policy("the sign up deadline for this event has passed")
	ErrSlotsAvailable      = Conflict("event still has slots available, sign up directly instead")
	ErrAlreadyOnWaitlist   = Conflict("you are already on the waitlist for this event")
	ErrAlreadySignedUp     = Conflict("you are already signed up for this event")

	// Waitlist entry errors
	ErrEntryNotFound      = NotFound("waitlist entry not found")
	ErrSignupNotFound     = NotFound("you are not signed up for this event")
	ErrOfferExpired       = &DomainError{Kind: ErrPromotionExpired, Msg: "promotion offer has expired or does not exist"}
	ErrOfferStillActive   = Conflict("promotion offer has not expired yet")
	ErrEntryNotExpired    = Conflict("waitlist entry has no expired offer")
	ErrEntryEventMismatch = Validation("waitlist entry does not belong to this event")
	ErrAlreadyAccepted    = Conflict("promotion has already been accepted")

	// Authorization
	ErrNotStaff      = Policy("only EXCO or teachers of this CCA can manage its waitlists")
	ErrCancelForeign = Policy("you can only cancel your own waitlist entry")
	ErrMissingActor  = Validation("missing user identity")

	ErrTooManyRequests = &DomainError{Kind: ErrRateLimited, Msg: "too many waitlist requests, try again later"}
)
