package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	level       string
	outputPaths []string
}

// Option adjusts the logger built by NewLogger
type Option func(*options)

// WithLevel overrides the environment's default level ("debug", "info", ...)
func WithLevel(level string) Option {
	return func(o *options) { o.level = level }
}

// WithOutputPaths sends log output to the given zap sinks instead of stderr
func WithOutputPaths(paths ...string) Option {
	return func(o *options) { o.outputPaths = paths }
}

func NewLogger(env string, opts ...Option) (*zap.Logger, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var config zap.Config

	if env == "prod" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if o.level != "" {
		level, err := zapcore.ParseLevel(o.level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", o.level, err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}
	if len(o.outputPaths) > 0 {
		config.OutputPaths = o.outputPaths
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	return config.Build()
}

func NewSugar(env string, opts ...Option) (*zap.SugaredLogger, error) {
	logger, err := NewLogger(env, opts...)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
