package events

import (
	"context"
	"strings"
	"time"

	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/events"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// OrderReleaser reverses the coupon redemptions of a cancelled order.
type OrderReleaser interface {
	ReleaseOrder(ctx context.Context, orderRef, reason string) (int, error)
}

// OrderHistoryRecorder stores completed orders for first-time-user checks.
type OrderHistoryRecorder interface {
	RecordCompletedOrder(ctx context.Context, userID uuid.UUID, orderRef string, completedAt time.Time) error
}

// BookingEventConsumer listens to booking events and keeps the coupon ledger
// and the completed-order projection in step with the booking lifecycle.
type BookingEventConsumer struct {
	consumer *kafka.Consumer
	releaser OrderReleaser
	history  OrderHistoryRecorder
	logger   *zap.Logger
}

// NewBookingEventConsumer creates a new consumer for booking events.
func NewBookingEventConsumer(
	brokers []string,
	groupID string,
	releaser OrderReleaser,
	history OrderHistoryRecorder,
	logger *zap.Logger,
) *BookingEventConsumer {
	return &BookingEventConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, events.TopicBookingEvents, logger),
		releaser: releaser,
		history:  history,
		logger:   logger,
	}
}

// Start begins consuming booking events. It blocks until the context is cancelled.
func (c *BookingEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

func (c *BookingEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from booking topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return kafka.Permanent(err)
	}
	return c.HandleEvent(ctx, cloudEvent)
}

// HandleEvent routes one booking event. Undecodable payloads are reported as
// permanent; store failures are returned as-is so the message is retried.
func (c *BookingEventConsumer) HandleEvent(ctx context.Context, ce kafka.CloudEvent) error {
	c.logger.Debug("received booking event",
		zap.String("type", ce.Type),
		zap.String("id", ce.ID),
	)

	switch {
	case strings.EqualFold(ce.Type, events.BookingCompleted):
		return c.handleBookingCompleted(ctx, ce)
	case strings.EqualFold(ce.Type, events.BookingCancelled):
		return c.handleBookingCancelled(ctx, ce)
	default:
		return nil
	}
}

func (c *BookingEventConsumer) handleBookingCompleted(ctx context.Context, ce kafka.CloudEvent) error {
	var event events.BookingCompletedEvent
	if err := ce.ParseData(&event); err != nil {
		c.logger.Error("failed to parse BookingCompletedEvent data", zap.Error(err))
		return kafka.Permanent(err)
	}

	completedAt := event.OccurredAt
	if completedAt.IsZero() {
		completedAt = ce.Time
	}
	return c.history.RecordCompletedOrder(ctx, event.OwnerID, event.OrderRef(), completedAt)
}

func (c *BookingEventConsumer) handleBookingCancelled(ctx context.Context, ce kafka.CloudEvent) error {
	var event events.BookingCancelledEvent
	if err := ce.ParseData(&event); err != nil {
		c.logger.Error("failed to parse BookingCancelledEvent data", zap.Error(err))
		return kafka.Permanent(err)
	}

	reason := event.Reason
	if reason == "" {
		reason = "booking cancelled"
	}
	released, err := c.releaser.ReleaseOrder(ctx, event.OrderRef(), reason)
	if err != nil {
		return err
	}
	if released > 0 {
		c.logger.Info("released coupon redemptions for cancelled booking",
			zap.String("order_ref", event.OrderRef()),
			zap.Int("released", released),
		)
	}
	return nil
}

// Close closes the underlying Kafka consumer.
func (c *BookingEventConsumer) Close() error {
	return c.consumer.Close()
}
