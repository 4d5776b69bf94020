package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger for the given environment.
// "development" gets a colored console encoder at debug level; everything else
// gets the production JSON encoder at info level.
func New(appEnv string) (*zap.Logger, error) {
	var cfg zap.Config
	if appEnv == "development" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return cfg.Build()
}

// NewNamed builds a logger tagged with the service name.
func NewNamed(appEnv, service string) (*zap.Logger, error) {
	l, err := New(appEnv)
	if err != nil {
		return nil, err
	}
	return l.Named(service).With(zap.String("service", service)), nil
}
