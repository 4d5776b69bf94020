package events

import (
	"context"
	"fmt"

	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/events"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/kafka"
)

const source = "service-coupon"

// Producer is the subset of the Kafka producer used for coupon events.
type Producer interface {
	PublishEvent(ctx context.Context, topic string, ce kafka.CloudEvent) error
}

// CouponEventPublisher publishes coupon lifecycle events as CloudEvents.
type CouponEventPublisher struct {
	producer Producer
}

// NewCouponEventPublisher creates a new CouponEventPublisher.
func NewCouponEventPublisher(producer Producer) *CouponEventPublisher {
	return &CouponEventPublisher{producer: producer}
}

// PublishRedeemed publishes coupon.redeemed keyed by coupon code.
func (p *CouponEventPublisher) PublishRedeemed(ctx context.Context, event events.CouponRedeemedEvent) error {
	return p.publish(ctx, events.CouponRedeemed, event.Code, event)
}

// PublishReleased publishes coupon.released keyed by coupon code.
func (p *CouponEventPublisher) PublishReleased(ctx context.Context, event events.CouponReleasedEvent) error {
	return p.publish(ctx, events.CouponReleased, event.Code, event)
}

// PublishReferralIssued publishes coupon.referral_issued keyed by coupon code.
func (p *CouponEventPublisher) PublishReferralIssued(ctx context.Context, event events.ReferralIssuedEvent) error {
	return p.publish(ctx, events.CouponReferralIssued, event.Code, event)
}

func (p *CouponEventPublisher) publish(ctx context.Context, eventType, subject string, data interface{}) error {
	ce, err := kafka.NewCloudEvent(source, eventType, data)
	if err != nil {
		return fmt.Errorf("failed to create cloud event: %w", err)
	}
	ce.Subject = subject
	return p.producer.PublishEvent(ctx, events.TopicCouponEvents, ce)
}
