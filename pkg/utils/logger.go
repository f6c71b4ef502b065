package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns the service logger, named "ronbun". When debug is true,
// uses development config (human-readable, debug level); otherwise uses
// production config (JSON, info level) with ISO8601 timestamps so cache and
// session stamps read the same in logs and in the database.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return logger.Named("ronbun"), nil
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("ronbun"), nil
}
