//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/Kilat-Pet-Delivery/service-coupon/internal/application"
	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	couponEvents "github.com/Kilat-Pet-Delivery/service-coupon/internal/events"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/repository"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/database"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/events"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// couponStack holds wired-up coupon service components.
type couponStack struct {
	Repo     *repository.GormCouponRepository
	History  *repository.GormOrderHistoryRepository
	Coupons  *application.CouponService
	Referral *application.ReferralService
	Consumer *couponEvents.BookingEventConsumer
	Cleanup  func()
}

// setupPostgres starts a PostgreSQL container, applies the migrations and
// returns a connected GORM DB.
func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_coupon"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = gorm.Open(gormpostgres.Open(connStr), &gorm.Config{})
		if err != nil {
			return false
		}
		sqlDB, err := db.DB()
		if err != nil {
			return false
		}
		return sqlDB.Ping() == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(connStr, "migrations", zap.NewNop()))
	return db
}

// setupKafka starts a Kafka container with the coupon and booking topics.
func setupKafka(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()

	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	createTopics(t, brokers, events.TopicBookingEvents, events.TopicCouponEvents)
	return brokers
}

// setupCouponStack wires the coupon services on db. With no brokers events
// are not published and no consumer is created.
func setupCouponStack(t *testing.T, db *gorm.DB, brokers []string) *couponStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	repo := repository.NewGormCouponRepository(db)
	history := repository.NewGormOrderHistoryRepository(db)
	evaluator := couponDomain.NewEvaluator(history)

	stack := &couponStack{Repo: repo, History: history, Cleanup: func() {}}

	var publisher application.EventPublisher
	if len(brokers) > 0 {
		producer := kafka.NewProducer(brokers, logger)
		publisher = couponEvents.NewCouponEventPublisher(producer)
		stack.Cleanup = func() { _ = producer.Close() }
	}

	stack.Coupons = application.NewCouponService(repo, evaluator, nil, publisher, nil, 5*time.Second, logger)
	stack.Referral = application.NewReferralService(repo, publisher, couponDomain.DefaultReferralPolicy(), nil, logger)

	if len(brokers) > 0 {
		groupID := fmt.Sprintf("test-coupon-%s", uuid.New().String()[:8])
		stack.Consumer = couponEvents.NewBookingEventConsumer(brokers, groupID, stack.Coupons, history, logger)
	}
	return stack
}

// seedCoupon creates an active coupon through the service.
func seedCoupon(t *testing.T, svc *application.CouponService, code string, usageLimit *int, userUsageLimit int) *application.CouponDTO {
	t.Helper()
	now := time.Now().UTC()
	dto, err := svc.CreateCoupon(context.Background(), uuid.New(), application.CouponRequest{
		Code:           code,
		DiscountType:   "percentage",
		Value:          10,
		StartDate:      now.Add(-time.Hour),
		EndDate:        now.Add(24 * time.Hour),
		UsageLimit:     usageLimit,
		UserUsageLimit: userUsageLimit,
	})
	require.NoError(t, err, "failed to seed coupon")
	return dto
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data interface{}) {
	t.Helper()
	producer := kafka.NewProducer(brokers, zap.NewNop())
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")
	require.NoError(t, producer.PublishEvent(context.Background(), topic, ce), "failed to publish event")
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the expected type.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType string, timeout time.Duration) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     fmt.Sprintf("test-assert-%s", uuid.New().String()[:8]),
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	require.NoError(t, controllerConn.CreateTopics(topicConfigs...), "failed to create Kafka topics")

	time.Sleep(1 * time.Second)
}

// usageCount reads the authoritative counter straight from the coupons table.
func usageCount(t *testing.T, db *gorm.DB, couponID uuid.UUID) int {
	t.Helper()
	var model repository.CouponModel
	require.NoError(t, db.Select("usage_count").Where("id = ?", couponID).First(&model).Error)
	return model.UsageCount
}

// ledgerTotal sums the per-user ledger rows of a coupon.
func ledgerTotal(t *testing.T, db *gorm.DB, couponID uuid.UUID) int {
	t.Helper()
	var total int
	require.NoError(t, db.Raw(
		"SELECT COALESCE(SUM(usage_count), 0) FROM coupon_usages WHERE coupon_id = ?", couponID,
	).Scan(&total).Error)
	return total
}
