package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoupon(t *testing.T, code string, mutate func(p *couponDomain.Params)) *couponDomain.Coupon {
	t.Helper()
	now := time.Now().UTC()
	p := couponDomain.Params{
		Code:         code,
		DiscountType: couponDomain.DiscountTypePercentage,
		Value:        10,
		StartDate:    now.Add(-time.Hour),
		EndDate:      now.Add(time.Hour),
		IsActive:     true,
	}
	if mutate != nil {
		mutate(&p)
	}
	c, err := couponDomain.NewCoupon(p, uuid.New())
	require.NoError(t, err)
	return c
}

func limit(n int) *int { return &n }

func redeemCmd(c *couponDomain.Coupon, user uuid.UUID, orderRef string) couponDomain.RedeemCommand {
	return couponDomain.RedeemCommand{
		CouponID:         c.ID(),
		Code:             c.Code(),
		UserID:           user,
		OrderRef:         orderRef,
		OrderAmountCents: 1000,
		DiscountCents:    100,
		FinalAmountCents: 900,
		RedeemedAt:       time.Now().UTC(),
	}
}

func TestMemorySave_RejectsDuplicateCode(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newCoupon(t, "DUP", nil)))
	assert.ErrorIs(t, repo.Save(ctx, newCoupon(t, "dup", nil)), couponDomain.ErrDuplicateCode)
}

func TestMemorySave_OneActiveReferralPerUser(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()
	user := uuid.New()
	policy := couponDomain.DefaultReferralPolicy()

	first, err := couponDomain.NewReferralCoupon(user, "JANEAAAAAA", "Jane", policy, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, first))

	second, err := couponDomain.NewReferralCoupon(user, "JANEBBBBBB", "Jane", policy, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Save(ctx, second), couponDomain.ErrAlreadyHasReferral)

	first.Retire()
	require.NoError(t, repo.Update(ctx, first))
	assert.NoError(t, repo.Save(ctx, second))
}

func TestMemoryRedeem_EnforcesLimits(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()
	c := newCoupon(t, "LIMITED", func(p *couponDomain.Params) {
		p.UsageLimit = limit(2)
		p.UserUsageLimit = 1
	})
	require.NoError(t, repo.Save(ctx, c))
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	_, err := repo.Redeem(ctx, redeemCmd(c, alice, "BK-1"))
	require.NoError(t, err)

	_, err = repo.Redeem(ctx, redeemCmd(c, alice, "BK-1"))
	assert.ErrorIs(t, err, couponDomain.ErrOrderRefReplayed)

	_, err = repo.Redeem(ctx, redeemCmd(c, alice, "BK-2"))
	assert.ErrorIs(t, err, couponDomain.ErrUserLimitReached)

	_, err = repo.Redeem(ctx, redeemCmd(c, bob, "BK-3"))
	require.NoError(t, err)

	_, err = repo.Redeem(ctx, redeemCmd(c, carol, "BK-4"))
	assert.ErrorIs(t, err, couponDomain.ErrUsageExhausted)

	stored, err := repo.FindByID(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, stored.UsageCount())
	assert.True(t, stored.IsReconciled())
}

func TestMemoryRedeem_InactiveCouponIsExhausted(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()
	c := newCoupon(t, "OFF", func(p *couponDomain.Params) { p.IsActive = false })
	require.NoError(t, repo.Save(ctx, c))

	_, err := repo.Redeem(ctx, redeemCmd(c, uuid.New(), "BK-1"))
	assert.ErrorIs(t, err, couponDomain.ErrUsageExhausted)
}

func TestMemoryRelease_IsIdempotent(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()
	c := newCoupon(t, "REL", func(p *couponDomain.Params) { p.UserUsageLimit = 2 })
	require.NoError(t, repo.Save(ctx, c))
	user := uuid.New()

	for _, ref := range []string{"BK-1", "BK-2"} {
		_, err := repo.Redeem(ctx, redeemCmd(c, user, ref))
		require.NoError(t, err)
	}

	released, err := repo.Release(ctx, c.ID(), "BK-1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, released)
	assert.True(t, released.IsReleased())

	again, err := repo.Release(ctx, c.ID(), "BK-1", time.Now())
	require.NoError(t, err)
	assert.Nil(t, again)

	missing, err := repo.Release(ctx, c.ID(), "BK-404", time.Now())
	require.NoError(t, err)
	assert.Nil(t, missing)

	stored, err := repo.FindByID(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount())
	entry, ok := stored.UsageFor(user)
	require.True(t, ok)
	assert.Equal(t, 1, entry.UsageCount)

	open, err := repo.FindOpenRedemptionsByOrderRef(ctx, "BK-1")
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := repo.ListRedemptions(ctx, c.ID())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryRelease_PointsLedgerAtLatestOpenRedemption(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()
	c := newCoupon(t, "LEDGER", func(p *couponDomain.Params) { p.UserUsageLimit = 3 })
	require.NoError(t, repo.Save(ctx, c))
	user := uuid.New()
	base := time.Now().UTC().Truncate(time.Second)

	for i, ref := range []string{"BK-1", "BK-2", "BK-3"} {
		cmd := redeemCmd(c, user, ref)
		cmd.RedeemedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := repo.Redeem(ctx, cmd)
		require.NoError(t, err)
	}

	_, err := repo.Release(ctx, c.ID(), "BK-3", base.Add(time.Hour))
	require.NoError(t, err)
	stored, err := repo.FindByID(ctx, c.ID())
	require.NoError(t, err)
	entry, ok := stored.UsageFor(user)
	require.True(t, ok)
	assert.Equal(t, 2, entry.UsageCount)
	assert.Equal(t, "BK-2", entry.OrderRef)
	assert.True(t, entry.UsedAt.Equal(base.Add(time.Minute)))

	// releasing an older order keeps the newest standing one
	_, err = repo.Release(ctx, c.ID(), "BK-1", base.Add(time.Hour))
	require.NoError(t, err)
	stored, err = repo.FindByID(ctx, c.ID())
	require.NoError(t, err)
	entry, ok = stored.UsageFor(user)
	require.True(t, ok)
	assert.Equal(t, 1, entry.UsageCount)
	assert.Equal(t, "BK-2", entry.OrderRef)
}

func TestMemoryUpdate_OptimisticLocking(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()
	c := newCoupon(t, "LOCK", nil)
	require.NoError(t, repo.Save(ctx, c))

	a, err := repo.FindByID(ctx, c.ID())
	require.NoError(t, err)
	b, err := repo.FindByID(ctx, c.ID())
	require.NoError(t, err)

	require.True(t, a.Disable(uuid.New()))
	require.NoError(t, repo.Update(ctx, a))

	require.True(t, b.Disable(uuid.New()))
	err = repo.Update(ctx, b)
	assert.True(t, domain.IsConflict(err))
}

func TestMemoryUpdate_PreservesLedger(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()
	c := newCoupon(t, "KEEP", nil)
	require.NoError(t, repo.Save(ctx, c))

	stale, err := repo.FindByID(ctx, c.ID())
	require.NoError(t, err)
	_, err = repo.Redeem(ctx, redeemCmd(c, uuid.New(), "BK-1"))
	require.NoError(t, err)

	require.True(t, stale.Disable(uuid.New()))
	require.NoError(t, repo.Update(ctx, stale))

	stored, err := repo.FindByID(ctx, c.ID())
	require.NoError(t, err)
	assert.False(t, stored.IsActive())
	assert.Equal(t, 1, stored.UsageCount())
	assert.Len(t, stored.UsedBy(), 1)
}

func TestMemoryList_FiltersAndPaginates(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Save(ctx, newCoupon(t, fmt.Sprintf("PCT%d", i), nil)))
	}
	require.NoError(t, repo.Save(ctx, newCoupon(t, "FIXED", func(p *couponDomain.Params) {
		p.DiscountType = couponDomain.DiscountTypeFixed
		p.Value = 500
		p.IsActive = false
	})))

	inactive := false
	got, total, err := repo.List(ctx, couponDomain.ListFilter{Active: &inactive, Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "FIXED", got[0].Code())

	got, total, err = repo.List(ctx, couponDomain.ListFilter{Query: "pct", Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, got, 1)

	got, total, err = repo.List(ctx, couponDomain.ListFilter{DiscountType: couponDomain.DiscountTypePercentage, Page: 5, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Empty(t, got)
}

func TestMemoryFind_NotFound(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()

	_, err := repo.FindByCode(ctx, "NOPE")
	assert.True(t, domain.IsNotFound(err))
	_, err = repo.FindByID(ctx, uuid.New())
	assert.True(t, domain.IsNotFound(err))
	_, err = repo.FindRedemption(ctx, uuid.New(), "BK-1")
	assert.True(t, domain.IsNotFound(err))
}

func TestMemoryOrderHistory(t *testing.T) {
	h := NewMemoryOrderHistory()
	ctx := context.Background()
	user := uuid.New()

	has, err := h.HasCompletedOrder(ctx, user)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, h.RecordCompletedOrder(ctx, user, "BK-1", time.Now()))
	require.NoError(t, h.RecordCompletedOrder(ctx, uuid.New(), "BK-1", time.Now()))

	has, err = h.HasCompletedOrder(ctx, user)
	require.NoError(t, err)
	assert.True(t, has)
}
