// Package logger builds the service's structured zap logger.
//
// The level comes from LOG_LEVEL (debug, info, warn, error); anything
// unrecognised falls back to info.
//
//	log, err := logger.New("debug")
//	log.Info("session opened", zap.Int64("user_id", id))
//
// Never pass tokens, secrets or verification codes as fields.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production JSON logger at the given level.
func New(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build(zap.Fields(zap.String("service", "nileusers")))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return log, nil
}
