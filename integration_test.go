//go:build integration

package main_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kilat-Pet-Delivery/service-coupon/internal/application"
	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/repository"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// TestConcurrentRedeem_NeverExceedsUsageLimit races 50 distinct users for 10
// remaining uses against Postgres.
func TestConcurrentRedeem_NeverExceedsUsageLimit(t *testing.T) {
	db := setupPostgres(t)
	stack := setupCouponStack(t, db, nil)
	defer stack.Cleanup()

	coupon := seedCoupon(t, stack.Coupons, "RACE10", intPtr(10), 1)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		exhausted atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := stack.Coupons.Redeem(context.Background(), uuid.New(), application.RedeemRequest{
				Code:             "race10",
				OrderCategory:    "delivery",
				OrderAmountCents: int64Ptr(10000),
				OrderRef:         fmt.Sprintf("BK-RACE-%03d", i),
			})
			if !assert.NoError(t, err) {
				return
			}
			if res.Success {
				successes.Add(1)
			} else if res.Reason == string(couponDomain.ReasonUsageExhausted) {
				exhausted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), successes.Load())
	assert.Equal(t, int32(40), exhausted.Load())
	assert.Equal(t, 10, usageCount(t, db, coupon.ID))
	assert.Equal(t, 10, ledgerTotal(t, db, coupon.ID))
}

// TestConcurrentRedeem_SameUserRespectsPerUserCap fires 20 orders from one user
// at a coupon allowing two uses per user.
func TestConcurrentRedeem_SameUserRespectsPerUserCap(t *testing.T) {
	db := setupPostgres(t)
	stack := setupCouponStack(t, db, nil)
	defer stack.Cleanup()

	coupon := seedCoupon(t, stack.Coupons, "TWICE", nil, 2)
	userID := uuid.New()

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := stack.Coupons.Redeem(context.Background(), userID, application.RedeemRequest{
				Code:             "TWICE",
				OrderCategory:    "grooming",
				OrderAmountCents: int64Ptr(5000),
				OrderRef:         fmt.Sprintf("BK-USER-%03d", i),
			})
			if assert.NoError(t, err) && res.Success {
				successes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(2), successes.Load())
	assert.Equal(t, 2, usageCount(t, db, coupon.ID))
	assert.Equal(t, 2, ledgerTotal(t, db, coupon.ID))
}

// TestRedeem_ReplayThenRelease verifies idempotent redemption and at-most-once
// release on Postgres.
func TestRedeem_ReplayThenRelease(t *testing.T) {
	db := setupPostgres(t)
	stack := setupCouponStack(t, db, nil)
	defer stack.Cleanup()
	ctx := context.Background()

	coupon := seedCoupon(t, stack.Coupons, "ONCE", intPtr(5), 1)
	userID := uuid.New()
	req := application.RedeemRequest{
		Code:             "ONCE",
		OrderCategory:    "delivery",
		OrderAmountCents: int64Ptr(20000),
		OrderRef:         "BK-REPLAY-1",
	}

	first, err := stack.Coupons.Redeem(ctx, userID, req)
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, int64(2000), first.DiscountCents)

	replay, err := stack.Coupons.Redeem(ctx, userID, req)
	require.NoError(t, err)
	assert.True(t, replay.Success)
	assert.True(t, replay.Replayed)
	assert.Equal(t, *first.RedemptionID, *replay.RedemptionID)
	assert.Equal(t, 1, usageCount(t, db, coupon.ID))

	released, err := stack.Coupons.Release(ctx, coupon.ID, application.ReleaseRequest{OrderRef: "BK-REPLAY-1"})
	require.NoError(t, err)
	assert.True(t, released.Released)

	again, err := stack.Coupons.Release(ctx, coupon.ID, application.ReleaseRequest{OrderRef: "BK-REPLAY-1"})
	require.NoError(t, err)
	assert.False(t, again.Released)

	assert.Equal(t, 0, usageCount(t, db, coupon.ID))
	assert.Equal(t, 0, ledgerTotal(t, db, coupon.ID))

	var rows int64
	require.NoError(t, db.Model(&repository.CouponUsageModel{}).Where("coupon_id = ?", coupon.ID).Count(&rows).Error)
	assert.Equal(t, int64(0), rows)
}

// TestRelease_LedgerFollowsLatestOpenRedemption checks that a partial release
// leaves the usage row describing a redemption that still stands.
func TestRelease_LedgerFollowsLatestOpenRedemption(t *testing.T) {
	db := setupPostgres(t)
	stack := setupCouponStack(t, db, nil)
	defer stack.Cleanup()
	ctx := context.Background()

	coupon := seedCoupon(t, stack.Coupons, "THRICE", nil, 3)
	userID := uuid.New()
	for _, ref := range []string{"BK-L-1", "BK-L-2"} {
		res, err := stack.Coupons.Redeem(ctx, userID, application.RedeemRequest{
			Code:             "THRICE",
			OrderCategory:    "delivery",
			OrderAmountCents: int64Ptr(5000),
			OrderRef:         ref,
		})
		require.NoError(t, err)
		require.True(t, res.Success)
		time.Sleep(10 * time.Millisecond)
	}

	released, err := stack.Coupons.Release(ctx, coupon.ID, application.ReleaseRequest{OrderRef: "BK-L-2"})
	require.NoError(t, err)
	require.True(t, released.Released)

	var row repository.CouponUsageModel
	require.NoError(t, db.Where("coupon_id = ? AND user_id = ?", coupon.ID, userID).First(&row).Error)
	assert.Equal(t, 1, row.UsageCount)
	assert.Equal(t, "BK-L-1", row.OrderRef)
	assert.Equal(t, 1, usageCount(t, db, coupon.ID))
}

// TestIssueReferral_OnePerUser checks the service guard and the partial
// unique index together.
func TestIssueReferral_OnePerUser(t *testing.T) {
	db := setupPostgres(t)
	stack := setupCouponStack(t, db, nil)
	defer stack.Cleanup()
	ctx := context.Background()

	userID := uuid.New()
	issued, err := stack.Referral.IssueReferral(ctx, userID, "Jane Doe")
	require.NoError(t, err)
	assert.Regexp(t, `^JANEDOE[A-Z2-9]{6}$`, issued.Code)
	assert.True(t, issued.IsReferralCoupon)

	_, err = stack.Referral.IssueReferral(ctx, userID, "Jane Doe")
	require.ErrorIs(t, err, couponDomain.ErrAlreadyHasReferral)

	// Bypass the service guard: the index still refuses a second active referral.
	c, err := couponDomain.NewReferralCoupon(userID, "JANEDOEMANUAL", "Jane Doe", couponDomain.DefaultReferralPolicy(), time.Now().UTC())
	require.NoError(t, err)
	require.ErrorIs(t, stack.Repo.Save(ctx, c), couponDomain.ErrAlreadyHasReferral)
}

// TestBookingCancelled_ReleasesRedemption verifies that booking.cancelled
// reverses the redemption and publishes coupon.released.
func TestBookingCancelled_ReleasesRedemption(t *testing.T) {
	db := setupPostgres(t)
	brokers := setupKafka(t)
	stack := setupCouponStack(t, db, brokers)
	defer stack.Cleanup()
	defer func() { _ = stack.Consumer.Close() }()

	coupon := seedCoupon(t, stack.Coupons, "CANCELME", intPtr(3), 1)
	userID := uuid.New()
	bookingID := uuid.New()

	res, err := stack.Coupons.Redeem(context.Background(), userID, application.RedeemRequest{
		Code:             "CANCELME",
		OrderCategory:    "delivery",
		OrderAmountCents: int64Ptr(15000),
		OrderRef:         "BK-INTTEST01",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stack.Consumer.Start(ctx) }()
	time.Sleep(3 * time.Second) // Wait for consumer group join.

	publishTestEvent(t, brokers, events.TopicBookingEvents, "service-booking", events.BookingCancelled,
		events.BookingCancelledEvent{
			BookingID:     bookingID,
			BookingNumber: "BK-INTTEST01",
			OwnerID:       userID,
			Reason:        "owner cancelled",
			OccurredAt:    time.Now().UTC(),
		})

	require.Eventually(t, func() bool {
		return usageCount(t, db, coupon.ID) == 0
	}, 15*time.Second, 200*time.Millisecond, "redemption was not released")

	ce := consumeOneEvent(t, brokers, events.TopicCouponEvents, events.CouponReleased, 15*time.Second)
	var released events.CouponReleasedEvent
	require.NoError(t, ce.ParseData(&released))
	assert.Equal(t, "CANCELME", released.Code)
	assert.Equal(t, "BK-INTTEST01", released.OrderRef)
	assert.Equal(t, "owner cancelled", released.Reason)
}

// TestBookingCompleted_EndsFirstTimeEligibility verifies that booking.completed
// feeds the order history used by first-time-user coupons.
func TestBookingCompleted_EndsFirstTimeEligibility(t *testing.T) {
	db := setupPostgres(t)
	brokers := setupKafka(t)
	stack := setupCouponStack(t, db, brokers)
	defer stack.Cleanup()
	defer func() { _ = stack.Consumer.Close() }()

	now := time.Now().UTC()
	_, err := stack.Coupons.CreateCoupon(context.Background(), uuid.New(), application.CouponRequest{
		Code:              "WELCOME",
		DiscountType:      "fixed",
		Value:             500,
		StartDate:         now.Add(-time.Hour),
		EndDate:           now.Add(time.Hour),
		FirstTimeUserOnly: true,
	})
	require.NoError(t, err)

	userID := uuid.New()
	evaluate := func() *application.EvaluationDTO {
		res, err := stack.Coupons.Evaluate(context.Background(), userID, application.EvaluateRequest{
			Code:             "WELCOME",
			OrderCategory:    "delivery",
			OrderAmountCents: int64Ptr(3000),
		})
		require.NoError(t, err)
		return res
	}
	require.True(t, evaluate().Eligible)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stack.Consumer.Start(ctx) }()
	time.Sleep(3 * time.Second)

	publishTestEvent(t, brokers, events.TopicBookingEvents, "service-booking", events.BookingCompleted,
		events.BookingCompletedEvent{
			BookingID:     uuid.New(),
			BookingNumber: "BK-INTTEST02",
			OwnerID:       userID,
			OccurredAt:    time.Now().UTC(),
		})

	require.Eventually(t, func() bool {
		return evaluate().Reason == string(couponDomain.ReasonNotFirstTime)
	}, 15*time.Second, 200*time.Millisecond, "completed booking was not recorded")
}
