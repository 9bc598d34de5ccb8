// File: internal/logging/logger.go
// Author: momentics <momentics@gmail.com>
//
// Builds the daemon's zap logger from control.LogConfig. File output is
// rotated by lumberjack; otherwise entries go to stderr.

package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/momentics/hioload-listen/control"
)

// New returns a logger at the configured level: console encoding on stderr,
// JSON when writing to a rotated file.
func New(cfg control.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return zap.New(newCore(cfg, level, writerFor(cfg)), zap.AddCaller()), nil
}

func writerFor(cfg control.LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
}

func newCore(cfg control.LogConfig, level zapcore.Level, w io.Writer) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.File == "" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(w), level)
}
