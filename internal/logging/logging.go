// Package logging builds the zap loggers used for rulebook diagnostics.
// User-facing progress still goes to stdout via fmt; zap carries the
// structured records (stderr under --verbose, and the Ralph JSON log file).
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger on stderr at debug level when verbose is set,
// or a no-op logger otherwise.
func New(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.DisableStacktrace = true
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// NewFile returns a JSON logger appending to path, teed with base so records
// also reach the console logger.
func NewFile(path string, base *zap.Logger) (*zap.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), zapcore.DebugLevel)

	core := fileCore
	if base != nil {
		core = zapcore.NewTee(base.Core(), fileCore)
	}

	logger := zap.New(core)
	closeFn := func() {
		_ = logger.Sync() //nolint:errcheck // best-effort flush
		_ = f.Close()     //nolint:errcheck // best-effort close
	}
	return logger, closeFn, nil
}
