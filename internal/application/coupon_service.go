package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kilat-Pet-Delivery/service-coupon/internal/cache"
	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/metrics"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/domain"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "service-coupon/application"

	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Release triggers, used for logging and metrics.
const (
	ReleaseTriggerAdmin   = "admin"
	ReleaseTriggerBooking = "booking_cancelled"
)

// EventPublisher publishes coupon lifecycle events.
type EventPublisher interface {
	PublishRedeemed(ctx context.Context, event events.CouponRedeemedEvent) error
	PublishReleased(ctx context.Context, event events.CouponReleasedEvent) error
	PublishReferralIssued(ctx context.Context, event events.ReferralIssuedEvent) error
}

// CouponCache is the read-through cache used by evaluate.
type CouponCache interface {
	GetOrLoad(ctx context.Context, code string, load cache.LoadFunc) (*couponDomain.Coupon, error)
	Invalidate(ctx context.Context, code string)
}

// CouponService handles evaluation, redemption and administration of coupons.
type CouponService struct {
	repo          couponDomain.Repository
	evaluator     *couponDomain.Evaluator
	cache         CouponCache
	publisher     EventPublisher
	metrics       *metrics.Metrics
	redeemTimeout time.Duration
	tracer        trace.Tracer
	now           func() time.Time
	logger        *zap.Logger
}

// NewCouponService creates a new CouponService. couponCache, publisher and m may be nil.
func NewCouponService(
	repo couponDomain.Repository,
	evaluator *couponDomain.Evaluator,
	couponCache CouponCache,
	publisher EventPublisher,
	m *metrics.Metrics,
	redeemTimeout time.Duration,
	logger *zap.Logger,
) *CouponService {
	return &CouponService{
		repo:          repo,
		evaluator:     evaluator,
		cache:         couponCache,
		publisher:     publisher,
		metrics:       m,
		redeemTimeout: redeemTimeout,
		tracer:        otel.Tracer(tracerName),
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger,
	}
}

// Evaluate previews whether a code applies to an order. It never consumes usage.
func (s *CouponService) Evaluate(ctx context.Context, userID uuid.UUID, req EvaluateRequest) (*EvaluationDTO, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.Evaluate")
	defer span.End()

	code := couponDomain.NormalizeCode(req.Code)
	if code == "" {
		return nil, domain.NewValidationError("code is required")
	}
	if req.OrderAmountCents == nil {
		return nil, domain.NewValidationError("order_amount_cents is required")
	}
	rc := couponDomain.RedemptionContext{
		UserID:           userID,
		OrderCategory:    req.OrderCategory,
		OrderAmountCents: *req.OrderAmountCents,
		VendorID:         req.VendorID,
		OrderRef:         req.OrderRef,
	}
	if err := rc.Validate(false); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("coupon.code", code))

	c, err := s.loadForEvaluate(ctx, code)
	if err != nil {
		if domain.IsNotFound(err) {
			s.metrics.ObserveEvaluation(false, string(couponDomain.ReasonNotFound))
			return &EvaluationDTO{
				Eligible: false,
				Code:     code,
				Reason:   string(couponDomain.ReasonNotFound),
				Message:  couponDomain.Message(couponDomain.ReasonNotFound, nil),
			}, nil
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}

	eligibility, err := s.evaluator.Evaluate(ctx, c, rc, s.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.metrics.ObserveEvaluation(eligibility.Eligible, string(eligibility.Reason))

	if !eligibility.Eligible {
		return &EvaluationDTO{
			Eligible: false,
			Code:     c.Code(),
			Reason:   string(eligibility.Reason),
			Message:  couponDomain.Message(eligibility.Reason, c),
		}, nil
	}

	discount := couponDomain.ComputeDiscount(c, rc.OrderAmountCents)
	return &EvaluationDTO{
		Eligible:          true,
		Code:              c.Code(),
		DiscountCents:     discount.DiscountCents,
		FinalAmountCents:  discount.FinalAmountCents,
		RemainingUserUses: eligibility.RemainingUserUses,
	}, nil
}

// Redeem re-validates the code against persisted state and consumes one use
// atomically. A lost race is re-evaluated once; the result then carries the
// specific reason. Replaying an order reference returns the recorded result.
func (s *CouponService) Redeem(ctx context.Context, userID uuid.UUID, req RedeemRequest) (*RedemptionDTO, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "CouponService.Redeem")
	defer span.End()

	if s.redeemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.redeemTimeout)
		defer cancel()
	}

	code := couponDomain.NormalizeCode(req.Code)
	if code == "" {
		return nil, domain.NewValidationError("code is required")
	}
	if req.OrderAmountCents == nil {
		return nil, domain.NewValidationError("order_amount_cents is required")
	}
	rc := couponDomain.RedemptionContext{
		UserID:           userID,
		OrderCategory:    req.OrderCategory,
		OrderAmountCents: *req.OrderAmountCents,
		VendorID:         req.VendorID,
		OrderRef:         req.OrderRef,
	}
	if err := rc.Validate(true); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("coupon.code", code),
		attribute.String("coupon.order_ref", rc.OrderRef),
	)

	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if domain.IsNotFound(err) {
			return s.denied(code, rc.OrderRef, couponDomain.ReasonNotFound, nil, started), nil
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}

	prior, err := s.repo.FindRedemption(ctx, c.ID(), rc.OrderRef)
	switch {
	case err == nil:
		return s.replayed(prior, userID)
	case !domain.IsNotFound(err):
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to look up redemption: %w", err)
	}

	for attempt := 0; ; attempt++ {
		eligibility, err := s.evaluator.Evaluate(ctx, c, rc, s.now())
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if !eligibility.Eligible {
			return s.denied(c.Code(), rc.OrderRef, eligibility.Reason, c, started), nil
		}

		discount := couponDomain.ComputeDiscount(c, rc.OrderAmountCents)
		redemption, err := s.repo.Redeem(ctx, couponDomain.RedeemCommand{
			CouponID:         c.ID(),
			Code:             c.Code(),
			UserID:           userID,
			OrderRef:         rc.OrderRef,
			OrderAmountCents: rc.OrderAmountCents,
			DiscountCents:    discount.DiscountCents,
			FinalAmountCents: discount.FinalAmountCents,
			RedeemedAt:       s.now(),
		})
		if err == nil {
			s.afterRedeem(ctx, redemption)
			s.metrics.ObserveRedemption(true, "", started)
			return redeemedDTO(redemption, false), nil
		}

		if errors.Is(err, couponDomain.ErrOrderRefReplayed) {
			prior, ferr := s.repo.FindRedemption(ctx, c.ID(), rc.OrderRef)
			if ferr != nil {
				return nil, fmt.Errorf("failed to load replayed redemption: %w", ferr)
			}
			return s.replayed(prior, userID)
		}

		reason, conflict := couponDomain.ReasonForConflict(err)
		if !conflict {
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("redemption failed",
				zap.String("code", c.Code()),
				zap.String("order_ref", rc.OrderRef),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to redeem coupon: %w", err)
		}
		if attempt >= 1 {
			return s.denied(c.Code(), rc.OrderRef, reason, c, started), nil
		}

		s.logger.Info("redemption lost a race, re-evaluating",
			zap.String("code", c.Code()),
			zap.String("reason", string(reason)),
		)
		if c, err = s.repo.FindByCode(ctx, code); err != nil {
			return nil, fmt.Errorf("failed to reload coupon: %w", err)
		}
	}
}

// Release reverses the redemption of a coupon recorded under orderRef. It is
// idempotent: a second call reports Released=false and changes nothing.
func (s *CouponService) Release(ctx context.Context, couponID uuid.UUID, req ReleaseRequest) (*ReleaseDTO, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.Release")
	defer span.End()

	c, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}

	redemption, err := s.repo.Release(ctx, c.ID(), req.OrderRef, s.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to release redemption: %w", err)
	}

	dto := &ReleaseDTO{CouponID: c.ID(), Code: c.Code(), OrderRef: req.OrderRef}
	if redemption == nil {
		return dto, nil
	}

	reason := req.Reason
	if reason == "" {
		reason = ReleaseTriggerAdmin
	}
	s.afterRelease(ctx, redemption, ReleaseTriggerAdmin, reason)

	dto.Released = true
	dto.RedemptionID = &redemption.ID
	dto.ReleasedAt = redemption.ReleasedAt
	return dto, nil
}

// ReleaseOrder reverses every open redemption recorded under orderRef and
// returns how many were released.
func (s *CouponService) ReleaseOrder(ctx context.Context, orderRef, reason string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.ReleaseOrder")
	defer span.End()

	open, err := s.repo.FindOpenRedemptionsByOrderRef(ctx, orderRef)
	if err != nil {
		return 0, fmt.Errorf("failed to find redemptions: %w", err)
	}

	released := 0
	for _, r := range open {
		redemption, err := s.repo.Release(ctx, r.CouponID, r.OrderRef, s.now())
		if err != nil {
			return released, fmt.Errorf("failed to release redemption %s: %w", r.ID, err)
		}
		if redemption == nil {
			continue
		}
		s.afterRelease(ctx, redemption, ReleaseTriggerBooking, reason)
		released++
	}
	return released, nil
}

// CreateCoupon creates a new coupon (admin only).
func (s *CouponService) CreateCoupon(ctx context.Context, adminID uuid.UUID, req CouponRequest) (*CouponDTO, error) {
	c, err := couponDomain.NewCoupon(req.toParams(), adminID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("coupon created",
		zap.String("code", c.Code()),
		zap.String("admin_id", adminID.String()),
	)
	return toCouponDTO(c, false), nil
}

// UpdateCoupon applies an administrative edit. Usage counters are untouched.
func (s *CouponService) UpdateCoupon(ctx context.Context, adminID, couponID uuid.UUID, req CouponRequest) (*CouponDTO, error) {
	c, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}

	params := req.toParams()
	params.Code = c.Code()
	if req.Scope == "" {
		params.Scope = c.Scope()
	}
	if req.IsActive == nil {
		params.IsActive = c.IsActive()
	}

	if err := c.Reconfigure(params, adminID); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.invalidate(ctx, c.Code())

	s.logger.Info("coupon updated",
		zap.String("code", c.Code()),
		zap.Int64("version", c.Version()),
	)
	return toCouponDTO(c, true), nil
}

// DisableCoupon flips the kill-switch. Disabling twice is a no-op.
func (s *CouponService) DisableCoupon(ctx context.Context, adminID, couponID uuid.UUID) (*CouponDTO, error) {
	c, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if !c.Disable(adminID) {
		return toCouponDTO(c, true), nil
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.invalidate(ctx, c.Code())

	s.logger.Info("coupon disabled", zap.String("code", c.Code()))
	return toCouponDTO(c, true), nil
}

// ListCoupons returns a filtered page of coupons.
func (s *CouponService) ListCoupons(ctx context.Context, q ListCouponsQuery) ([]*CouponDTO, int64, int, int, error) {
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	coupons, total, err := s.repo.List(ctx, couponDomain.ListFilter{
		Query:        q.Query,
		DiscountType: couponDomain.DiscountType(q.DiscountType),
		Scope:        couponDomain.Scope(q.Scope),
		Active:       q.Active,
		Page:         page,
		Limit:        limit,
	})
	if err != nil {
		return nil, 0, page, limit, err
	}

	dtos := make([]*CouponDTO, len(coupons))
	for i, c := range coupons {
		dtos[i] = toCouponDTO(c, false)
	}
	return dtos, total, page, limit, nil
}

// GetCoupon returns a coupon with its usage ledger.
func (s *CouponService) GetCoupon(ctx context.Context, couponID uuid.UUID) (*CouponDTO, error) {
	c, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	return toCouponDTO(c, true), nil
}

// GetUsage returns the ledger, the redemption history and whether the ledger
// reconciles with the authoritative usage count.
func (s *CouponService) GetUsage(ctx context.Context, couponID uuid.UUID) (*UsageDTO, error) {
	c, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	redemptions, err := s.repo.ListRedemptions(ctx, couponID)
	if err != nil {
		return nil, err
	}

	records := make([]RedemptionRecordDTO, len(redemptions))
	for i, r := range redemptions {
		records[i] = toRedemptionRecordDTO(r)
	}

	if !c.IsReconciled() {
		s.logger.Warn("coupon ledger does not reconcile",
			zap.String("code", c.Code()),
			zap.Int("usage_count", c.UsageCount()),
			zap.Int("ledger_total", c.LedgerTotal()),
		)
	}

	return &UsageDTO{
		CouponID:    c.ID(),
		Code:        c.Code(),
		UsageCount:  c.UsageCount(),
		UsageLimit:  c.UsageLimit(),
		LedgerTotal: c.LedgerTotal(),
		Reconciled:  c.IsReconciled(),
		UsedBy:      c.UsedBy(),
		Redemptions: records,
	}, nil
}

func (s *CouponService) loadForEvaluate(ctx context.Context, code string) (*couponDomain.Coupon, error) {
	load := func(ctx context.Context) (*couponDomain.Coupon, error) {
		return s.repo.FindByCode(ctx, code)
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.GetOrLoad(ctx, code, load)
}

func (s *CouponService) invalidate(ctx context.Context, code string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, code)
	}
}

func (s *CouponService) replayed(prior *couponDomain.Redemption, userID uuid.UUID) (*RedemptionDTO, error) {
	if prior.UserID != userID {
		return nil, domain.NewValidationError("order_ref was already used with this coupon by another user")
	}
	if prior.IsReleased() {
		return nil, domain.NewValidationError("the redemption for this order_ref was released")
	}
	return redeemedDTO(prior, true), nil
}

func (s *CouponService) denied(code, orderRef string, reason couponDomain.Reason, c *couponDomain.Coupon, started time.Time) *RedemptionDTO {
	s.metrics.ObserveRedemption(false, string(reason), started)
	return &RedemptionDTO{
		Success:  false,
		Code:     code,
		OrderRef: orderRef,
		Reason:   string(reason),
		Message:  couponDomain.Message(reason, c),
	}
}

func (s *CouponService) afterRedeem(ctx context.Context, r *couponDomain.Redemption) {
	ctx = context.WithoutCancel(ctx)
	s.invalidate(ctx, r.Code)

	s.logger.Info("coupon redeemed",
		zap.String("code", r.Code),
		zap.String("user_id", r.UserID.String()),
		zap.String("order_ref", r.OrderRef),
		zap.Int64("discount_cents", r.DiscountCents),
	)

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRedeemed(ctx, events.CouponRedeemedEvent{
		RedemptionID:     r.ID,
		CouponID:         r.CouponID,
		Code:             r.Code,
		UserID:           r.UserID,
		OrderRef:         r.OrderRef,
		OrderAmountCents: r.OrderAmountCents,
		DiscountCents:    r.DiscountCents,
		FinalAmountCents: r.FinalAmountCents,
		OccurredAt:       r.RedeemedAt,
	}); err != nil {
		s.logger.Error("failed to publish coupon redeemed event", zap.Error(err))
	}
}

func (s *CouponService) afterRelease(ctx context.Context, r *couponDomain.Redemption, trigger, reason string) {
	ctx = context.WithoutCancel(ctx)
	s.invalidate(ctx, r.Code)
	s.metrics.ObserveRelease(trigger)

	s.logger.Info("coupon redemption released",
		zap.String("code", r.Code),
		zap.String("order_ref", r.OrderRef),
		zap.String("trigger", trigger),
	)

	if s.publisher == nil {
		return
	}
	occurredAt := s.now()
	if r.ReleasedAt != nil {
		occurredAt = *r.ReleasedAt
	}
	if err := s.publisher.PublishReleased(ctx, events.CouponReleasedEvent{
		RedemptionID: r.ID,
		CouponID:     r.CouponID,
		Code:         r.Code,
		UserID:       r.UserID,
		OrderRef:     r.OrderRef,
		Reason:       reason,
		OccurredAt:   occurredAt,
	}); err != nil {
		s.logger.Error("failed to publish coupon released event", zap.Error(err))
	}
}

func redeemedDTO(r *couponDomain.Redemption, replayed bool) *RedemptionDTO {
	id := r.ID
	redeemedAt := r.RedeemedAt
	return &RedemptionDTO{
		Success:          true,
		Replayed:         replayed,
		Code:             r.Code,
		OrderRef:         r.OrderRef,
		RedemptionID:     &id,
		DiscountCents:    r.DiscountCents,
		FinalAmountCents: r.FinalAmountCents,
		RedeemedAt:       &redeemedAt,
	}
}
