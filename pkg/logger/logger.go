package logger

import (
	"fmt"

	"github.com/ocr-dimt/ocrdemo/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// NewLogger builds the process logger for cfg.Environment, tagged with the
// running component. cfg.LogLevel overrides the environment's level.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "test" {
		return zap.NewExample().With(zap.String("component", cfg.Component)), nil
	}

	zc := zap.NewDevelopmentConfig()
	if cfg.Environment == "prod" {
		zc = zap.NewProductionConfig()
	}

	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("component", cfg.Component)), nil
}

func MustNewLogger(cfg *config.Config) *zap.Logger {
	return zap.Must(NewLogger(cfg))
}

func InitLogger(cfg *config.Config) (*zap.Logger, error) {
	var err error
	logger, err = NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// GetLogger returns the process logger, or a no-op logger before InitLogger ran.
func GetLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}

	return logger
}
