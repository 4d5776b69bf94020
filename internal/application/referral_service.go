package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/metrics"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/saga"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/domain"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ReferralService issues self-service referral coupons.
type ReferralService struct {
	repo      couponDomain.Repository
	publisher EventPublisher
	policy    couponDomain.ReferralPolicy
	metrics   *metrics.Metrics
	random    io.Reader
	tracer    trace.Tracer
	now       func() time.Time
	logger    *zap.Logger
}

// NewReferralService creates a new ReferralService. publisher and m may be nil.
func NewReferralService(
	repo couponDomain.Repository,
	publisher EventPublisher,
	policy couponDomain.ReferralPolicy,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReferralService {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = couponDomain.DefaultReferralPolicy().MaxAttempts
	}
	return &ReferralService{
		repo:      repo,
		publisher: publisher,
		policy:    policy,
		metrics:   m,
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// IssueReferral creates the caller's referral coupon. It fails with a conflict
// while the user still holds a live referral; stale ones are retired first.
func (s *ReferralService) IssueReferral(ctx context.Context, userID uuid.UUID, displayName string) (*CouponDTO, error) {
	ctx, span := s.tracer.Start(ctx, "ReferralService.IssueReferral")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID.String()))

	if userID == uuid.Nil {
		return nil, domain.NewValidationError("user is required")
	}
	now := s.now()

	if err := s.retireStale(ctx, userID, now); err != nil {
		s.metrics.ObserveReferral(false)
		return nil, err
	}

	var issued *couponDomain.Coupon
	flow := saga.New("issue_referral", s.logger).
		Then(saga.Step{
			Name: "create_referral_coupon",
			Do: func(ctx context.Context) error {
				c, err := s.createWithUniqueCode(ctx, userID, displayName, now)
				if err != nil {
					return err
				}
				issued = c
				return nil
			},
			Undo: func(ctx context.Context) error {
				issued.Retire()
				return s.repo.Update(ctx, issued)
			},
		}).
		Then(saga.Step{
			Name: "publish_referral_issued_event",
			Do: func(ctx context.Context) error {
				if s.publisher == nil {
					return nil
				}
				return s.publisher.PublishReferralIssued(ctx, events.ReferralIssuedEvent{
					CouponID:        issued.ID(),
					Code:            issued.Code(),
					UserID:          userID,
					DiscountPercent: issued.Value(),
					ExpiresAt:       issued.EndDate(),
					OccurredAt:      now,
				})
			},
		})

	if err := flow.Run(ctx); err != nil {
		s.metrics.ObserveReferral(false)
		var domainErr *domain.DomainError
		if errors.As(err, &domainErr) {
			return nil, domainErr
		}
		return nil, err
	}

	s.metrics.ObserveReferral(true)
	s.logger.Info("referral coupon issued",
		zap.String("user_id", userID.String()),
		zap.String("code", issued.Code()),
	)
	return toCouponDTO(issued, false), nil
}

func (s *ReferralService) retireStale(ctx context.Context, userID uuid.UUID, now time.Time) error {
	existing, err := s.repo.FindActiveReferralsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load referral coupons: %w", err)
	}
	for _, c := range existing {
		if c.IsLiveReferralOf(userID, now) {
			return couponDomain.ErrAlreadyHasReferral
		}
		c.Retire()
		if err := s.repo.Update(ctx, c); err != nil {
			return fmt.Errorf("failed to retire referral %s: %w", c.Code(), err)
		}
		s.logger.Info("retired stale referral coupon",
			zap.String("user_id", userID.String()),
			zap.String("code", c.Code()),
		)
	}
	return nil
}

func (s *ReferralService) createWithUniqueCode(ctx context.Context, userID uuid.UUID, displayName string, now time.Time) (*couponDomain.Coupon, error) {
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		code, err := couponDomain.GenerateReferralCode(displayName, s.policy.SuffixLength, s.random)
		if err != nil {
			return nil, err
		}
		c, err := couponDomain.NewReferralCoupon(userID, code, displayName, s.policy, now)
		if err != nil {
			return nil, err
		}

		err = s.repo.Save(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, couponDomain.ErrDuplicateCode) {
			return nil, err
		}
		s.logger.Debug("referral code collision, regenerating",
			zap.String("code", code),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("failed to generate a unique referral code after %d attempts", s.policy.MaxAttempts)
}
