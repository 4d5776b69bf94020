package application

import (
	"time"

	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/google/uuid"
)

// EvaluateRequest asks whether a code may be applied to an order.
type EvaluateRequest struct {
	Code             string     `json:"code" binding:"required"`
	OrderCategory    string     `json:"order_category" binding:"required"`
	OrderAmountCents *int64     `json:"order_amount_cents" binding:"required,min=0"`
	VendorID         *uuid.UUID `json:"vendor_id"`
	OrderRef         string     `json:"order_ref"`
}

// RedeemRequest consumes one use of a code for an order.
type RedeemRequest struct {
	Code             string     `json:"code" binding:"required"`
	OrderCategory    string     `json:"order_category" binding:"required"`
	OrderAmountCents *int64     `json:"order_amount_cents" binding:"required,min=0"`
	VendorID         *uuid.UUID `json:"vendor_id"`
	OrderRef         string     `json:"order_ref" binding:"required"`
}

// ReleaseRequest reverses the redemption recorded under an order reference.
type ReleaseRequest struct {
	OrderRef string `json:"order_ref" binding:"required"`
	Reason   string `json:"reason"`
}

// CouponRequest carries the administrator-editable fields of a coupon. On
// update the code is ignored and an empty scope keeps the current one.
type CouponRequest struct {
	Code              string      `json:"code"`
	Name              string      `json:"name"`
	Description       string      `json:"description"`
	DiscountType      string      `json:"discount_type" binding:"required"`
	Value             int64       `json:"value" binding:"min=0"`
	MaxDiscountCents  *int64      `json:"max_discount_cents"`
	MinOrderCents     int64       `json:"min_order_cents" binding:"min=0"`
	ApplicableFor     []string    `json:"applicable_for"`
	Scope             string      `json:"scope"`
	OwnerVendorID     *uuid.UUID  `json:"owner_vendor_id"`
	StartDate         time.Time   `json:"start_date" binding:"required"`
	EndDate           time.Time   `json:"end_date" binding:"required"`
	UsageLimit        *int        `json:"usage_limit"`
	UserUsageLimit    int         `json:"user_usage_limit"`
	SpecificUsers     []uuid.UUID `json:"specific_users"`
	ExcludeUsers      []uuid.UUID `json:"exclude_users"`
	FirstTimeUserOnly bool        `json:"first_time_user_only"`
	IsActive          *bool       `json:"is_active"`
}

// ListCouponsQuery filters the admin listing.
type ListCouponsQuery struct {
	Query        string `form:"q"`
	DiscountType string `form:"type"`
	Scope        string `form:"scope"`
	Active       *bool  `form:"active"`
	Page         int    `form:"page"`
	Limit        int    `form:"limit"`
}

// EvaluationDTO is the tagged result of an evaluation.
type EvaluationDTO struct {
	Eligible          bool   `json:"eligible"`
	Code              string `json:"code"`
	Reason            string `json:"reason,omitempty"`
	Message           string `json:"message,omitempty"`
	DiscountCents     int64  `json:"discount_cents"`
	FinalAmountCents  int64  `json:"final_amount_cents"`
	RemainingUserUses int    `json:"remaining_user_uses,omitempty"`
}

// RedemptionDTO is the tagged result of a redemption.
type RedemptionDTO struct {
	Success          bool       `json:"success"`
	Replayed         bool       `json:"replayed,omitempty"`
	Code             string     `json:"code"`
	OrderRef         string     `json:"order_ref"`
	Reason           string     `json:"reason,omitempty"`
	Message          string     `json:"message,omitempty"`
	RedemptionID     *uuid.UUID `json:"redemption_id,omitempty"`
	DiscountCents    int64      `json:"discount_cents"`
	FinalAmountCents int64      `json:"final_amount_cents"`
	RedeemedAt       *time.Time `json:"redeemed_at,omitempty"`
}

// ReleaseDTO reports the outcome of a release.
type ReleaseDTO struct {
	Released     bool       `json:"released"`
	CouponID     uuid.UUID  `json:"coupon_id"`
	Code         string     `json:"code"`
	OrderRef     string     `json:"order_ref"`
	RedemptionID *uuid.UUID `json:"redemption_id,omitempty"`
	ReleasedAt   *time.Time `json:"released_at,omitempty"`
}

// CouponDTO is the API representation of a coupon.
type CouponDTO struct {
	ID                uuid.UUID                 `json:"id"`
	Code              string                    `json:"code"`
	Name              string                    `json:"name"`
	Description       string                    `json:"description"`
	DiscountType      string                    `json:"discount_type"`
	Value             int64                     `json:"value"`
	MaxDiscountCents  *int64                    `json:"max_discount_cents,omitempty"`
	MinOrderCents     int64                     `json:"min_order_cents"`
	ApplicableFor     []string                  `json:"applicable_for"`
	Scope             string                    `json:"scope"`
	OwnerVendorID     *uuid.UUID                `json:"owner_vendor_id,omitempty"`
	StartDate         time.Time                 `json:"start_date"`
	EndDate           time.Time                 `json:"end_date"`
	UsageLimit        *int                      `json:"usage_limit,omitempty"`
	UsageCount        int                       `json:"usage_count"`
	UserUsageLimit    int                       `json:"user_usage_limit"`
	UsedBy            []couponDomain.UsageEntry `json:"used_by,omitempty"`
	SpecificUsers     []uuid.UUID               `json:"specific_users"`
	ExcludeUsers      []uuid.UUID               `json:"exclude_users"`
	FirstTimeUserOnly bool                      `json:"first_time_user_only"`
	IsReferralCoupon  bool                      `json:"is_referral_coupon"`
	ReferralType      string                    `json:"referral_type,omitempty"`
	GeneratedByUserID *uuid.UUID                `json:"generated_by_user_id,omitempty"`
	IsActive          bool                      `json:"is_active"`
	CreatedBy         uuid.UUID                 `json:"created_by"`
	UpdatedBy         uuid.UUID                 `json:"updated_by"`
	Version           int64                     `json:"version"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// RedemptionRecordDTO is one row of a coupon's redemption history.
type RedemptionRecordDTO struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	OrderRef         string     `json:"order_ref"`
	OrderAmountCents int64      `json:"order_amount_cents"`
	DiscountCents    int64      `json:"discount_cents"`
	FinalAmountCents int64      `json:"final_amount_cents"`
	RedeemedAt       time.Time  `json:"redeemed_at"`
	ReleasedAt       *time.Time `json:"released_at,omitempty"`
}

// UsageDTO is the ledger view of a coupon.
type UsageDTO struct {
	CouponID    uuid.UUID                 `json:"coupon_id"`
	Code        string                    `json:"code"`
	UsageCount  int                       `json:"usage_count"`
	UsageLimit  *int                      `json:"usage_limit,omitempty"`
	LedgerTotal int                       `json:"ledger_total"`
	Reconciled  bool                      `json:"reconciled"`
	UsedBy      []couponDomain.UsageEntry `json:"used_by"`
	Redemptions []RedemptionRecordDTO     `json:"redemptions"`
}

func (r CouponRequest) toParams() couponDomain.Params {
	isActive := true
	if r.IsActive != nil {
		isActive = *r.IsActive
	}
	return couponDomain.Params{
		Code:              r.Code,
		Name:              r.Name,
		Description:       r.Description,
		DiscountType:      couponDomain.DiscountType(r.DiscountType),
		Value:             r.Value,
		MaxDiscountCents:  r.MaxDiscountCents,
		MinOrderCents:     r.MinOrderCents,
		ApplicableFor:     r.ApplicableFor,
		Scope:             couponDomain.Scope(r.Scope),
		OwnerVendorID:     r.OwnerVendorID,
		StartDate:         r.StartDate.UTC(),
		EndDate:           r.EndDate.UTC(),
		UsageLimit:        r.UsageLimit,
		UserUsageLimit:    r.UserUsageLimit,
		SpecificUsers:     r.SpecificUsers,
		ExcludeUsers:      r.ExcludeUsers,
		FirstTimeUserOnly: r.FirstTimeUserOnly,
		IsActive:          isActive,
	}
}

func toCouponDTO(c *couponDomain.Coupon, withLedger bool) *CouponDTO {
	dto := &CouponDTO{
		ID:                c.ID(),
		Code:              c.Code(),
		Name:              c.Name(),
		Description:       c.Description(),
		DiscountType:      string(c.DiscountType()),
		Value:             c.Value(),
		MaxDiscountCents:  c.MaxDiscountCents(),
		MinOrderCents:     c.MinOrderCents(),
		ApplicableFor:     c.ApplicableFor(),
		Scope:             string(c.Scope()),
		OwnerVendorID:     c.OwnerVendorID(),
		StartDate:         c.StartDate(),
		EndDate:           c.EndDate(),
		UsageLimit:        c.UsageLimit(),
		UsageCount:        c.UsageCount(),
		UserUsageLimit:    c.UserUsageLimit(),
		SpecificUsers:     c.SpecificUsers(),
		ExcludeUsers:      c.ExcludeUsers(),
		FirstTimeUserOnly: c.FirstTimeUserOnly(),
		IsReferralCoupon:  c.IsReferralCoupon(),
		ReferralType:      c.ReferralType(),
		GeneratedByUserID: c.GeneratedByUserID(),
		IsActive:          c.IsActive(),
		CreatedBy:         c.CreatedBy(),
		UpdatedBy:         c.UpdatedBy(),
		Version:           c.Version(),
		CreatedAt:         c.CreatedAt(),
		UpdatedAt:         c.UpdatedAt(),
	}
	if withLedger {
		dto.UsedBy = c.UsedBy()
	}
	return dto
}

func toRedemptionRecordDTO(r *couponDomain.Redemption) RedemptionRecordDTO {
	return RedemptionRecordDTO{
		ID:               r.ID,
		UserID:           r.UserID,
		OrderRef:         r.OrderRef,
		OrderAmountCents: r.OrderAmountCents,
		DiscountCents:    r.DiscountCents,
		FinalAmountCents: r.FinalAmountCents,
		RedeemedAt:       r.RedeemedAt,
		ReleasedAt:       r.ReleasedAt,
	}
}
