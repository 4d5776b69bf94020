package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/domain"
	"github.com/google/uuid"
)

// Reason is the specific cause of a denial.
type Reason string

const (
	ReasonInactive         Reason = "inactive"
	ReasonOutsideWindow    Reason = "outside-window"
	ReasonWrongVendor      Reason = "wrong-vendor"
	ReasonWrongCategory    Reason = "wrong-category"
	ReasonBelowMinimum     Reason = "below-minimum"
	ReasonUsageExhausted   Reason = "usage-exhausted"
	ReasonUserExcluded     Reason = "user-excluded"
	ReasonNotInAllowlist   Reason = "not-in-allowlist"
	ReasonNotFirstTime     Reason = "not-first-time"
	ReasonUserLimitReached Reason = "user-limit-reached"
	ReasonNotFound         Reason = "not-found"
)

// RedemptionContext is the order-side input to an eligibility check.
type RedemptionContext struct {
	UserID           uuid.UUID
	OrderCategory    string
	OrderAmountCents int64
	VendorID         *uuid.UUID
	OrderRef         string
}

// Validate rejects malformed input before any storage is touched.
func (rc *RedemptionContext) Validate(requireOrderRef bool) error {
	rc.OrderCategory = NormalizeCategory(rc.OrderCategory)
	if rc.UserID == uuid.Nil {
		return domain.NewValidationError("user is required")
	}
	if rc.OrderCategory == "" {
		return domain.NewValidationError("order_category is required")
	}
	if rc.OrderAmountCents < 0 {
		return domain.NewValidationError("order_amount_cents must not be negative")
	}
	if requireOrderRef && rc.OrderRef == "" {
		return domain.NewValidationError("order_ref is required")
	}
	if len(rc.OrderRef) > 100 {
		return domain.NewValidationError("order_ref must be at most 100 characters")
	}
	return nil
}

// Eligibility is the tagged result of an evaluation.
type Eligibility struct {
	Eligible          bool
	Reason            Reason
	RemainingUserUses int
}

// Eligible builds a positive result.
func Eligible(remainingUserUses int) Eligibility {
	return Eligibility{Eligible: true, RemainingUserUses: remainingUserUses}
}

// Ineligible builds a denial.
func Ineligible(reason Reason) Eligibility {
	return Eligibility{Eligible: false, Reason: reason}
}

// OrderHistory answers whether a user has completed any prior order.
type OrderHistory interface {
	HasCompletedOrder(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Evaluator runs the ordered eligibility pipeline. It never mutates the coupon
// and is safe for concurrent use.
type Evaluator struct {
	history OrderHistory
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(history OrderHistory) *Evaluator {
	return &Evaluator{history: history}
}

// Evaluate checks c against rc at instant now. The first failing check decides
// the reason. Only a failing order-history lookup produces an error.
func (e *Evaluator) Evaluate(ctx context.Context, c *Coupon, rc RedemptionContext, now time.Time) (Eligibility, error) {
	if !c.isActive {
		return Ineligible(ReasonInactive), nil
	}
	if now.Before(c.startDate) || now.After(c.endDate) {
		return Ineligible(ReasonOutsideWindow), nil
	}
	if c.scope == ScopeVendor {
		if rc.VendorID == nil || c.ownerVendorID == nil || *rc.VendorID != *c.ownerVendorID {
			return Ineligible(ReasonWrongVendor), nil
		}
	}
	if !c.appliesTo(rc.OrderCategory) {
		return Ineligible(ReasonWrongCategory), nil
	}
	if rc.OrderAmountCents < c.minOrderCents {
		return Ineligible(ReasonBelowMinimum), nil
	}
	if c.IsExhausted() {
		return Ineligible(ReasonUsageExhausted), nil
	}
	if _, excluded := c.excludeUsers[rc.UserID]; excluded {
		return Ineligible(ReasonUserExcluded), nil
	}
	if len(c.specificUsers) > 0 {
		if _, allowed := c.specificUsers[rc.UserID]; !allowed {
			return Ineligible(ReasonNotInAllowlist), nil
		}
	}
	if c.firstTimeUserOnly {
		if e.history == nil {
			return Eligibility{}, fmt.Errorf("order history is not configured")
		}
		hasOrders, err := e.history.HasCompletedOrder(ctx, rc.UserID)
		if err != nil {
			return Eligibility{}, fmt.Errorf("failed to query order history: %w", err)
		}
		if hasOrders {
			return Ineligible(ReasonNotFirstTime), nil
		}
	}

	remaining := c.userUsageLimit
	if entry, ok := c.UsageFor(rc.UserID); ok {
		remaining -= entry.UsageCount
	}
	if remaining <= 0 {
		return Ineligible(ReasonUserLimitReached), nil
	}
	return Eligible(remaining), nil
}

func (c *Coupon) appliesTo(category string) bool {
	if _, ok := c.applicableFor[CategoryAll]; ok {
		return true
	}
	_, ok := c.applicableFor[NormalizeCategory(category)]
	return ok
}

// Message renders an actionable explanation of a denial.
func Message(reason Reason, c *Coupon) string {
	switch reason {
	case ReasonInactive:
		return "this coupon is no longer active"
	case ReasonOutsideWindow:
		if c != nil {
			return fmt.Sprintf("this coupon is valid from %s to %s",
				c.startDate.Format(time.RFC3339), c.endDate.Format(time.RFC3339))
		}
		return "this coupon is not valid at this time"
	case ReasonWrongVendor:
		return "this coupon cannot be used with this property"
	case ReasonWrongCategory:
		if c != nil {
			return fmt.Sprintf("this coupon only applies to: %v", c.ApplicableFor())
		}
		return "this coupon does not apply to this kind of order"
	case ReasonBelowMinimum:
		if c != nil {
			return fmt.Sprintf("this coupon requires a minimum order of %d", c.minOrderCents)
		}
		return "order amount is below the coupon minimum"
	case ReasonUsageExhausted:
		return "this coupon has reached its usage limit"
	case ReasonUserExcluded:
		return "this coupon is not available for your account"
	case ReasonNotInAllowlist:
		return "this coupon is reserved for selected users"
	case ReasonNotFirstTime:
		return "this coupon is only for first-time customers"
	case ReasonUserLimitReached:
		return "you have already used this coupon the maximum number of times"
	case ReasonNotFound:
		return "coupon code not found"
	default:
		return string(reason)
	}
}
