package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes one message. Errors are retried with backoff and
// the offset is only committed once the handler succeeds. Wrap an error with
// Permanent to skip a message that can never be processed.
type MessageHandler func(ctx context.Context, msg kafkago.Message) error

// Permanent marks err as not retryable. The message is logged and committed.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads a single topic as part of a consumer group.
type Consumer struct {
	reader     messageReader
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewConsumer creates a group consumer for topic.
func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	return newConsumer(kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}), logger)
}

func newConsumer(reader messageReader, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:     reader,
		newBackOff: defaultBackOff,
		logger:     logger,
	}
}

// defaultBackOff retries until the handler succeeds or the context ends.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Consume blocks, dispatching messages to handler until ctx is cancelled. A
// message whose handler is still failing at shutdown is left uncommitted and
// is redelivered to the next member of the group.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("skipping unprocessable message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warn("failed to commit offset", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafkago.Message) error {
	op := func() error { return handler(ctx, msg) }
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("failed to handle message, retrying",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
