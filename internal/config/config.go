package config

import (
	"fmt"
	"time"

	"github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/config"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// ServiceConfig holds all configuration for the coupon service.
type ServiceConfig struct {
	Port            string
	AppEnv          string
	StorageDriver   string
	DBConfig        config.DatabaseConfig
	JWTConfig       config.JWTConfig
	KafkaConfig     config.KafkaConfig
	RedisConfig     config.RedisConfig
	RedeemTimeout   time.Duration
	JaegerEndpoint  string
	MigrationsDir   string
	ConsumeBookings bool
	ReferralPolicy  coupon.ReferralPolicy
}

// Load reads configuration from environment variables and returns a ServiceConfig.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("coupon")
	if err != nil {
		return nil, err
	}

	v.SetDefault("DB_NAME", "coupon_db")
	v.SetDefault("STORAGE_DRIVER", StorageDriverPostgres)
	v.SetDefault("REDEEM_TIMEOUT", "3s")
	v.SetDefault("EVALUATE_CACHE_TTL", "30s")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CONSUME_BOOKING_EVENTS", true)

	driver := v.GetString("STORAGE_DRIVER")
	if driver != StorageDriverPostgres && driver != StorageDriverMemory {
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", driver)
	}

	jwtConfig := config.LoadJWTConfig(v)
	if jwtConfig.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	redisConfig := config.LoadRedisConfig(v)
	redisConfig.TTL = v.GetDuration("EVALUATE_CACHE_TTL")

	return &ServiceConfig{
		Port:            config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:          config.GetAppEnv(v),
		StorageDriver:   driver,
		DBConfig:        config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:       jwtConfig,
		KafkaConfig:     config.LoadKafkaConfig(v),
		RedisConfig:     redisConfig,
		RedeemTimeout:   v.GetDuration("REDEEM_TIMEOUT"),
		JaegerEndpoint:  v.GetString("JAEGER_ENDPOINT"),
		MigrationsDir:   v.GetString("MIGRATIONS_DIR"),
		ConsumeBookings: v.GetBool("CONSUME_BOOKING_EVENTS"),
		ReferralPolicy:  loadReferralPolicy(v),
	}, nil
}

// loadReferralPolicy overlays REFERRAL_* keys on the default policy.
func loadReferralPolicy(v *viper.Viper) coupon.ReferralPolicy {
	policy := coupon.DefaultReferralPolicy()
	if pct := v.GetInt64("REFERRAL_DISCOUNT_PERCENT"); pct > 0 && pct <= 100 {
		policy.DiscountPercent = pct
	}
	if maxDiscount := v.GetInt64("REFERRAL_MAX_DISCOUNT_CENTS"); maxDiscount > 0 {
		policy.MaxDiscountCents = maxDiscount
	}
	if days := v.GetInt("REFERRAL_VALID_DAYS"); days > 0 {
		policy.ValidDays = days
	}
	if limit := v.GetInt("REFERRAL_USAGE_LIMIT"); limit > 0 {
		policy.UsageLimit = limit
	}
	return policy
}
