package coupon

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Redemption is one committed application of a coupon to an order.
type Redemption struct {
	ID               uuid.UUID
	CouponID         uuid.UUID
	Code             string
	UserID           uuid.UUID
	OrderRef         string
	OrderAmountCents int64
	DiscountCents    int64
	FinalAmountCents int64
	RedeemedAt       time.Time
	ReleasedAt       *time.Time
}

// IsReleased reports whether the redemption was reversed.
func (r *Redemption) IsReleased() bool { return r.ReleasedAt != nil }

// RedeemCommand is the input of the ledger's atomic conditional write.
type RedeemCommand struct {
	CouponID         uuid.UUID
	Code             string
	UserID           uuid.UUID
	OrderRef         string
	OrderAmountCents int64
	DiscountCents    int64
	FinalAmountCents int64
	RedeemedAt       time.Time
}

// ListFilter narrows the admin coupon listing.
type ListFilter struct {
	Query        string
	DiscountType DiscountType
	Scope        Scope
	Active       *bool
	Page         int
	Limit        int
}

// Repository defines persistence operations for coupons and their ledger.
type Repository interface {
	// Save persists a new coupon. Returns ErrDuplicateCode on a code collision
	// and ErrAlreadyHasReferral when the user already holds an active referral.
	Save(ctx context.Context, c *Coupon) error

	// Update persists configuration changes with optimistic locking on version.
	// Usage counters are never written by Update.
	Update(ctx context.Context, c *Coupon) error

	// FindByCode looks a coupon up by its normalized code, ledger included.
	FindByCode(ctx context.Context, code string) (*Coupon, error)

	// FindByID looks a coupon up by id, ledger included.
	FindByID(ctx context.Context, id uuid.UUID) (*Coupon, error)

	// List returns a filtered page of coupons and the total match count.
	List(ctx context.Context, filter ListFilter) ([]*Coupon, int64, error)

	// FindActiveReferralsByUser returns the active referral coupons generated by userID.
	FindActiveReferralsByUser(ctx context.Context, userID uuid.UUID) ([]*Coupon, error)

	// Redeem atomically increments usageCount and the user's ledger entry and
	// records the redemption, but only while the limits still hold. It returns
	// ErrUsageExhausted, ErrUserLimitReached or ErrOrderRefReplayed when the
	// precondition fails; in that case nothing is written.
	Redeem(ctx context.Context, cmd RedeemCommand) (*Redemption, error)

	// Release reverses the redemption recorded for (couponID, orderRef) at most
	// once. It returns (nil, nil) when there is nothing left to release.
	Release(ctx context.Context, couponID uuid.UUID, orderRef string, at time.Time) (*Redemption, error)

	// FindRedemption returns the redemption recorded for (couponID, orderRef).
	FindRedemption(ctx context.Context, couponID uuid.UUID, orderRef string) (*Redemption, error)

	// FindOpenRedemptionsByOrderRef returns unreleased redemptions of any coupon for orderRef.
	FindOpenRedemptionsByOrderRef(ctx context.Context, orderRef string) ([]*Redemption, error)

	// ListRedemptions returns every redemption of a coupon, newest first.
	ListRedemptions(ctx context.Context, couponID uuid.UUID) ([]*Redemption, error)
}
