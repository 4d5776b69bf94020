package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Kilat-Pet-Delivery/service-coupon/internal/cache"
	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/repository"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu          sync.Mutex
	redeemed    []events.CouponRedeemedEvent
	released    []events.CouponReleasedEvent
	referrals   []events.ReferralIssuedEvent
	referralErr error
}

func (p *fakePublisher) PublishRedeemed(_ context.Context, e events.CouponRedeemedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redeemed = append(p.redeemed, e)
	return nil
}

func (p *fakePublisher) PublishReleased(_ context.Context, e events.CouponReleasedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, e)
	return nil
}

func (p *fakePublisher) PublishReferralIssued(_ context.Context, e events.ReferralIssuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.referralErr != nil {
		return p.referralErr
	}
	p.referrals = append(p.referrals, e)
	return nil
}

// fakeCache serves the first load from memory until invalidated.
type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]*couponDomain.Coupon
	loads       int
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*couponDomain.Coupon)}
}

func (f *fakeCache) GetOrLoad(ctx context.Context, code string, load cache.LoadFunc) (*couponDomain.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.entries[code]; ok {
		return c, nil
	}
	f.loads++
	c, err := load(ctx)
	if err != nil {
		return nil, err
	}
	f.entries[code] = c
	return c, nil
}

func (f *fakeCache) Invalidate(_ context.Context, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, code)
	f.invalidated = append(f.invalidated, code)
}

// stalledRepository fails the conditional write. With block set it waits for
// the caller's deadline instead of failing immediately.
type stalledRepository struct {
	couponDomain.Repository
	err   error
	block bool
}

func (r *stalledRepository) Redeem(ctx context.Context, _ couponDomain.RedeemCommand) (*couponDomain.Redemption, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, r.err
}

type testEnv struct {
	repo      *repository.MemoryCouponRepository
	history   *repository.MemoryOrderHistory
	publisher *fakePublisher
	coupons   *CouponService
	referrals *ReferralService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := repository.NewMemoryCouponRepository()
	history := repository.NewMemoryOrderHistory()
	publisher := &fakePublisher{}
	logger := zap.NewNop()

	return &testEnv{
		repo:      repo,
		history:   history,
		publisher: publisher,
		coupons: NewCouponService(repo, couponDomain.NewEvaluator(history), nil, publisher, nil,
			time.Second, logger),
		referrals: NewReferralService(repo, publisher, couponDomain.DefaultReferralPolicy(), nil, logger),
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func couponRequest(code string, mutate func(r *CouponRequest)) CouponRequest {
	now := time.Now().UTC()
	req := CouponRequest{
		Code:         code,
		DiscountType: string(couponDomain.DiscountTypePercentage),
		Value:        10,
		StartDate:    now.Add(-time.Hour),
		EndDate:      now.Add(24 * time.Hour),
	}
	if mutate != nil {
		mutate(&req)
	}
	return req
}

func (e *testEnv) createCoupon(t *testing.T, code string, mutate func(r *CouponRequest)) *CouponDTO {
	t.Helper()
	dto, err := e.coupons.CreateCoupon(context.Background(), uuid.New(), couponRequest(code, mutate))
	require.NoError(t, err)
	return dto
}

func redeemRequest(code, orderRef string, amount int64) RedeemRequest {
	return RedeemRequest{
		Code:             code,
		OrderCategory:    "delivery",
		OrderAmountCents: &amount,
		OrderRef:         orderRef,
	}
}

// sequenceReader yields the given bytes and then fails.
type sequenceReader struct {
	data []byte
}

func (r *sequenceReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, errors.New("random source exhausted")
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
