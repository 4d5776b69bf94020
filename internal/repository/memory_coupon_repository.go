package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/domain"
	"github.com/google/uuid"
)

type redemptionKey struct {
	couponID uuid.UUID
	orderRef string
}

// MemoryCouponRepository is an in-process coupon.Repository. A single mutex
// makes every ledger write a conditional update on the latest state.
type MemoryCouponRepository struct {
	mu          sync.Mutex
	coupons     map[uuid.UUID]couponDomain.Snapshot
	codes       map[string]uuid.UUID
	redemptions map[redemptionKey]*couponDomain.Redemption
}

// NewMemoryCouponRepository creates an empty MemoryCouponRepository.
func NewMemoryCouponRepository() *MemoryCouponRepository {
	return &MemoryCouponRepository{
		coupons:     make(map[uuid.UUID]couponDomain.Snapshot),
		codes:       make(map[string]uuid.UUID),
		redemptions: make(map[redemptionKey]*couponDomain.Redemption),
	}
}

// Save persists a new coupon.
func (r *MemoryCouponRepository) Save(_ context.Context, c *couponDomain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := c.Snapshot()
	if _, exists := r.codes[s.Code]; exists {
		return couponDomain.ErrDuplicateCode
	}
	if s.IsReferralCoupon && s.IsActive && s.GeneratedByUserID != nil {
		for _, existing := range r.coupons {
			if existing.IsReferralCoupon && existing.IsActive &&
				existing.GeneratedByUserID != nil && *existing.GeneratedByUserID == *s.GeneratedByUserID {
				return couponDomain.ErrAlreadyHasReferral
			}
		}
	}

	s.UsageCount = 0
	s.UsedBy = nil
	r.coupons[s.ID] = s
	r.codes[s.Code] = s.ID
	return nil
}

// Update persists configuration changes with optimistic locking.
func (r *MemoryCouponRepository) Update(_ context.Context, c *couponDomain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := c.Snapshot()
	current, ok := r.coupons[next.ID]
	if !ok || current.Version != next.Version-1 {
		return domain.NewConflictError("coupon was modified by another transaction")
	}
	if next.UsageLimit != nil && current.UsageCount > *next.UsageLimit {
		return domain.NewConflictError("coupon was modified by another transaction")
	}
	for _, e := range current.UsedBy {
		if e.UsageCount > next.UserUsageLimit {
			return domain.NewConflictError("coupon was modified by another transaction")
		}
	}
	if next.IsReferralCoupon && next.IsActive && !current.IsActive && next.GeneratedByUserID != nil {
		for id, existing := range r.coupons {
			if id != next.ID && existing.IsReferralCoupon && existing.IsActive &&
				existing.GeneratedByUserID != nil && *existing.GeneratedByUserID == *next.GeneratedByUserID {
				return couponDomain.ErrAlreadyHasReferral
			}
		}
	}

	// Code and ledger columns are owned by Save and Redeem.
	next.Code = current.Code
	next.UsageCount = current.UsageCount
	next.UsedBy = current.UsedBy
	next.IsReferralCoupon = current.IsReferralCoupon
	next.ReferralType = current.ReferralType
	next.GeneratedByUserID = current.GeneratedByUserID
	next.CreatedBy = current.CreatedBy
	next.CreatedAt = current.CreatedAt
	r.coupons[next.ID] = next
	return nil
}

// FindByCode returns a coupon by its code string.
func (r *MemoryCouponRepository) FindByCode(_ context.Context, code string) (*couponDomain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code = couponDomain.NormalizeCode(code)
	id, ok := r.codes[code]
	if !ok {
		return nil, couponDomain.NewNotFoundError(code)
	}
	return couponDomain.Reconstruct(r.coupons[id]), nil
}

// FindByID returns a coupon by ID.
func (r *MemoryCouponRepository) FindByID(_ context.Context, id uuid.UUID) (*couponDomain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.coupons[id]
	if !ok {
		return nil, couponDomain.NewNotFoundError(id.String())
	}
	return couponDomain.Reconstruct(s), nil
}

// List returns a filtered page of coupons, newest first.
func (r *MemoryCouponRepository) List(_ context.Context, f couponDomain.ListFilter) ([]*couponDomain.Coupon, int64, error) {
	r.mu.Lock()
	matched := make([]couponDomain.Snapshot, 0, len(r.coupons))
	query := strings.ToLower(strings.TrimSpace(f.Query))
	for _, s := range r.coupons {
		if query != "" &&
			!strings.Contains(strings.ToLower(s.Code), query) &&
			!strings.Contains(strings.ToLower(s.Name), query) {
			continue
		}
		if f.DiscountType != "" && s.DiscountType != f.DiscountType {
			continue
		}
		if f.Scope != "" && s.Scope != f.Scope {
			continue
		}
		if f.Active != nil && s.IsActive != *f.Active {
			continue
		}
		matched = append(matched, s)
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Code < matched[j].Code
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (f.Page - 1) * f.Limit
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := start + f.Limit
	if f.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}

	coupons := make([]*couponDomain.Coupon, 0, end-start)
	for _, s := range matched[start:end] {
		coupons = append(coupons, couponDomain.Reconstruct(s))
	}
	return coupons, total, nil
}

// FindActiveReferralsByUser returns the active referral coupons generated by userID.
func (r *MemoryCouponRepository) FindActiveReferralsByUser(_ context.Context, userID uuid.UUID) ([]*couponDomain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*couponDomain.Coupon
	for _, s := range r.coupons {
		if s.IsReferralCoupon && s.IsActive && s.GeneratedByUserID != nil && *s.GeneratedByUserID == userID {
			out = append(out, couponDomain.Reconstruct(s))
		}
	}
	return out, nil
}

// Redeem applies the conditional ledger write under the store lock.
func (r *MemoryCouponRepository) Redeem(_ context.Context, cmd couponDomain.RedeemCommand) (*couponDomain.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := redemptionKey{couponID: cmd.CouponID, orderRef: cmd.OrderRef}
	if _, exists := r.redemptions[key]; exists {
		return nil, couponDomain.ErrOrderRefReplayed
	}

	s, ok := r.coupons[cmd.CouponID]
	if !ok {
		return nil, couponDomain.NewNotFoundError(cmd.CouponID.String())
	}
	if !s.IsActive || (s.UsageLimit != nil && s.UsageCount >= *s.UsageLimit) {
		return nil, couponDomain.ErrUsageExhausted
	}

	usedBy := make([]couponDomain.UsageEntry, 0, len(s.UsedBy)+1)
	found := false
	for _, e := range s.UsedBy {
		if e.UserID == cmd.UserID {
			if e.UsageCount >= s.UserUsageLimit {
				return nil, couponDomain.ErrUserLimitReached
			}
			e.UsageCount++
			e.UsedAt = cmd.RedeemedAt
			e.OrderRef = cmd.OrderRef
			found = true
		}
		usedBy = append(usedBy, e)
	}
	if !found {
		usedBy = append(usedBy, couponDomain.UsageEntry{
			UserID:     cmd.UserID,
			UsageCount: 1,
			UsedAt:     cmd.RedeemedAt,
			OrderRef:   cmd.OrderRef,
		})
	}

	s.UsedBy = usedBy
	s.UsageCount++
	s.UpdatedAt = cmd.RedeemedAt
	r.coupons[s.ID] = s

	red := &couponDomain.Redemption{
		ID:               uuid.New(),
		CouponID:         cmd.CouponID,
		Code:             cmd.Code,
		UserID:           cmd.UserID,
		OrderRef:         cmd.OrderRef,
		OrderAmountCents: cmd.OrderAmountCents,
		DiscountCents:    cmd.DiscountCents,
		FinalAmountCents: cmd.FinalAmountCents,
		RedeemedAt:       cmd.RedeemedAt,
	}
	r.redemptions[key] = red
	out := *red
	return &out, nil
}

// Release reverses one redemption at most once.
func (r *MemoryCouponRepository) Release(_ context.Context, couponID uuid.UUID, orderRef string, at time.Time) (*couponDomain.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	red, ok := r.redemptions[redemptionKey{couponID: couponID, orderRef: orderRef}]
	if !ok || red.ReleasedAt != nil {
		return nil, nil
	}
	releasedAt := at
	red.ReleasedAt = &releasedAt

	if s, ok := r.coupons[couponID]; ok {
		if s.UsageCount > 0 {
			s.UsageCount--
		}
		usedBy := make([]couponDomain.UsageEntry, 0, len(s.UsedBy))
		for _, e := range s.UsedBy {
			if e.UserID == red.UserID {
				e.UsageCount--
				if e.UsageCount <= 0 {
					continue
				}
				if latest := r.latestOpenRedemption(couponID, red.UserID); latest != nil {
					e.UsedAt = latest.RedeemedAt
					e.OrderRef = latest.OrderRef
				}
			}
			usedBy = append(usedBy, e)
		}
		s.UsedBy = usedBy
		s.UpdatedAt = at
		r.coupons[couponID] = s
	}

	out := *red
	return &out, nil
}

// latestOpenRedemption must be called with r.mu held.
func (r *MemoryCouponRepository) latestOpenRedemption(couponID, userID uuid.UUID) *couponDomain.Redemption {
	var latest *couponDomain.Redemption
	for k, red := range r.redemptions {
		if k.couponID != couponID || red.UserID != userID || red.ReleasedAt != nil {
			continue
		}
		if latest == nil || red.RedeemedAt.After(latest.RedeemedAt) {
			latest = red
		}
	}
	return latest
}

// FindRedemption returns the redemption recorded for (couponID, orderRef).
func (r *MemoryCouponRepository) FindRedemption(_ context.Context, couponID uuid.UUID, orderRef string) (*couponDomain.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	red, ok := r.redemptions[redemptionKey{couponID: couponID, orderRef: orderRef}]
	if !ok {
		return nil, domain.NewNotFoundError("Redemption", orderRef)
	}
	out := *red
	return &out, nil
}

// FindOpenRedemptionsByOrderRef returns unreleased redemptions for orderRef.
func (r *MemoryCouponRepository) FindOpenRedemptionsByOrderRef(_ context.Context, orderRef string) ([]*couponDomain.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*couponDomain.Redemption
	for key, red := range r.redemptions {
		if key.orderRef == orderRef && red.ReleasedAt == nil {
			cp := *red
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RedeemedAt.Before(out[j].RedeemedAt) })
	return out, nil
}

// ListRedemptions returns every redemption of a coupon, newest first.
func (r *MemoryCouponRepository) ListRedemptions(_ context.Context, couponID uuid.UUID) ([]*couponDomain.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*couponDomain.Redemption
	for key, red := range r.redemptions {
		if key.couponID == couponID {
			cp := *red
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RedeemedAt.After(out[j].RedeemedAt) })
	return out, nil
}

// MemoryOrderHistory is an in-process completed-order projection.
type MemoryOrderHistory struct {
	mu     sync.RWMutex
	orders map[string]uuid.UUID
}

// NewMemoryOrderHistory creates an empty MemoryOrderHistory.
func NewMemoryOrderHistory() *MemoryOrderHistory {
	return &MemoryOrderHistory{orders: make(map[string]uuid.UUID)}
}

// RecordCompletedOrder stores a completed order; replays are ignored.
func (h *MemoryOrderHistory) RecordCompletedOrder(_ context.Context, userID uuid.UUID, orderRef string, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.orders[orderRef]; !ok {
		h.orders[orderRef] = userID
	}
	return nil
}

// HasCompletedOrder reports whether the user has any completed order.
func (h *MemoryOrderHistory) HasCompletedOrder(_ context.Context, userID uuid.UUID) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, owner := range h.orders {
		if owner == userID {
			return true, nil
		}
	}
	return false, nil
}
