package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the root logger. Production gets JSON output,
// anything else gets the human-readable development encoder.
func NewLogger(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
