// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// New builds a logger for the given mode. "dev" gets a human-readable
// console encoder at debug level; "prod" (and "") gets JSON at info level.
// Verbose lowers the prod level to debug.
func New(mode string, verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "dev", "development":
		cfg = zap.NewDevelopmentConfig()
	case "", "prod", "production":
		cfg = zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
	default:
		return nil, fmt.Errorf("logging: unknown mode %q", mode)
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return log, nil
}
