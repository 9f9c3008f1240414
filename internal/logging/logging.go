// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"regrun/internal/config"
)

// New builds a logger writing to stderr and, when configured, to a log file.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
