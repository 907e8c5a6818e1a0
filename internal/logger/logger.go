// Package logger builds the zap loggers used by the daemon and its workers.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jamesmarlowww/tradingbot/internal/config"
)

func New(cfg config.LogConfig) (*zap.Logger, error) {
	zc, err := buildConfig(cfg)
	if err != nil {
		return nil, err
	}
	return zc.Build()
}

// ForWorker logs to stderr regardless of log.output: a worker's stdout
// carries heartbeats only. Every entry is tagged with the scope and instance.
func ForWorker(cfg config.LogConfig, scope, instanceID string) (*zap.Logger, error) {
	zc, err := workerConfig(cfg, scope, instanceID)
	if err != nil {
		return nil, err
	}
	return zc.Build()
}

func workerConfig(cfg config.LogConfig, scope, instanceID string) (zap.Config, error) {
	cfg.Output = "stderr"
	zc, err := buildConfig(cfg)
	if err != nil {
		return zc, err
	}
	zc.InitialFields = map[string]any{
		"scope":       scope,
		"instance_id": instanceID,
	}
	return zc, nil
}

func buildConfig(cfg config.LogConfig) (zap.Config, error) {
	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		if err := level.Set(strings.ToLower(raw)); err != nil {
			return zap.Config{}, fmt.Errorf("log.level: %w", err)
		}
	}

	encoding := strings.ToLower(strings.TrimSpace(cfg.Encoding))
	var enc zapcore.EncoderConfig
	switch encoding {
	case "", "json":
		encoding = "json"
		enc = zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		enc = zap.NewDevelopmentEncoderConfig()
	default:
		return zap.Config{}, fmt.Errorf("log.encoding %q: want json or console", cfg.Encoding)
	}

	output := strings.TrimSpace(cfg.Output)
	if output == "" {
		output = "stdout"
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		DisableCaller:     cfg.DisableCaller,
		DisableStacktrace: cfg.DisableStacktrace,
		EncoderConfig:     enc,
		OutputPaths:       []string{output},
		ErrorOutputPaths:  []string{"stderr"},
	}
	if cfg.Sampling {
		zc.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	return zc, nil
}
