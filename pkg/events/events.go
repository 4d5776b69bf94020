// Package events holds the topic names, event types and payloads exchanged
// between the coupon service and the booking flow.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Topics.
const (
	TopicCouponEvents  = "coupon.events"
	TopicBookingEvents = "booking.events"
)

// Coupon event types.
const (
	CouponRedeemed       = "coupon.redeemed"
	CouponReleased       = "coupon.released"
	CouponReferralIssued = "coupon.referral_issued"
)

// Booking event types consumed by the coupon service.
const (
	BookingCompleted = "booking.completed"
	BookingCancelled = "booking.cancelled"
)

// CouponRedeemedEvent is published after a redemption commits.
type CouponRedeemedEvent struct {
	RedemptionID     uuid.UUID `json:"redemption_id"`
	CouponID         uuid.UUID `json:"coupon_id"`
	Code             string    `json:"code"`
	UserID           uuid.UUID `json:"user_id"`
	OrderRef         string    `json:"order_ref"`
	OrderAmountCents int64     `json:"order_amount_cents"`
	DiscountCents    int64     `json:"discount_cents"`
	FinalAmountCents int64     `json:"final_amount_cents"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// CouponReleasedEvent is published after a redemption is reversed.
type CouponReleasedEvent struct {
	RedemptionID uuid.UUID `json:"redemption_id"`
	CouponID     uuid.UUID `json:"coupon_id"`
	Code         string    `json:"code"`
	UserID       uuid.UUID `json:"user_id"`
	OrderRef     string    `json:"order_ref"`
	Reason       string    `json:"reason"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ReferralIssuedEvent is published when a user receives a referral coupon.
type ReferralIssuedEvent struct {
	CouponID        uuid.UUID `json:"coupon_id"`
	Code            string    `json:"code"`
	UserID          uuid.UUID `json:"user_id"`
	DiscountPercent int64     `json:"discount_percent"`
	ExpiresAt       time.Time `json:"expires_at"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// BookingCompletedEvent marks an order as completed for its owner.
type BookingCompletedEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	BookingNumber string    `json:"booking_number"`
	OwnerID       uuid.UUID `json:"owner_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// BookingCancelledEvent marks an order as cancelled.
type BookingCancelledEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	BookingNumber string    `json:"booking_number"`
	OwnerID       uuid.UUID `json:"owner_id"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// OrderRef returns the order reference under which coupons were redeemed:
// the booking number when present, otherwise the booking id.
func (e BookingCompletedEvent) OrderRef() string {
	return orderRef(e.BookingNumber, e.BookingID)
}

// OrderRef returns the order reference under which coupons were redeemed.
func (e BookingCancelledEvent) OrderRef() string {
	return orderRef(e.BookingNumber, e.BookingID)
}

func orderRef(number string, id uuid.UUID) string {
	if number != "" {
		return number
	}
	return id.String()
}
