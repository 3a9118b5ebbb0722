package config

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a console logger on stderr and, when cfg.File is set, a
// JSON logger on that file, both fed by the same entries. The returned func
// flushes and closes the file.
func NewLogger(cfg Log) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("config: log level: %w", err)
	}

	if cfg.File == "" {
		logger := zap.New(consoleCore(zapcore.Lock(os.Stderr), level))
		return logger, func() error { return ignoreSyncError(logger.Sync()) }, nil
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		// Fall back to stderr only.
		logger := zap.New(consoleCore(zapcore.Lock(os.Stderr), level))
		logger.Error("failed to open log file, using stderr only", zap.String("file", cfg.File), zap.Error(err))
		return logger, func() error { return ignoreSyncError(logger.Sync()) }, nil
	}

	logger := NewLoggerWithWriters(os.Stderr, file, level)
	cleanup := func() error {
		_ = logger.Sync()
		return file.Close()
	}
	return logger, cleanup, nil
}

// NewLoggerWithWriters tees console output to stderr and JSON output to file.
func NewLoggerWithWriters(stderr, file io.Writer, level zapcore.Level) *zap.Logger {
	jsonEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewTee(
		consoleCore(zapcore.AddSync(stderr), level),
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(file), level),
	))
}

func consoleCore(w zapcore.WriteSyncer, level zapcore.Level) zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), w, level)
}

// Sync on a terminal stderr reports EINVAL on some platforms.
func ignoreSyncError(error) error { return nil }
