package coupon

import (
	"errors"

	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/domain"
)

// Errors returned by the coupon store. The ledger errors are conflicts: the
// conditional write was rejected because the precondition no longer held.
var (
	ErrUsageExhausted     = domain.NewConflictError("coupon usage limit reached")
	ErrUserLimitReached   = domain.NewConflictError("per-user usage limit reached")
	ErrOrderRefReplayed   = domain.NewConflictError("order reference already recorded for this coupon")
	ErrDuplicateCode      = domain.NewConflictError("coupon code already exists")
	ErrAlreadyHasReferral = domain.NewConflictError("user already holds an active referral coupon")
)

// NewNotFoundError reports an unknown coupon code or id.
func NewNotFoundError(key string) error {
	return domain.NewNotFoundError("Coupon", key)
}

// ReasonForConflict maps a rejected ledger write onto the denial reason the
// caller sees. The second result is false for errors that are not ledger conflicts.
func ReasonForConflict(err error) (Reason, bool) {
	switch {
	case errors.Is(err, ErrUsageExhausted):
		return ReasonUsageExhausted, true
	case errors.Is(err, ErrUserLimitReached):
		return ReasonUserLimitReached, true
	default:
		return "", false
	}
}
