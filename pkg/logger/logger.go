// Package logger builds the zap loggers used across the portal client.
package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log level and optional file output.
type Config struct {
	Level      string `yaml:"level"`
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
	// Console mirrors entries to stderr. The CLI keeps it off so logs do not
	// interleave with rendered screens.
	Console bool `yaml:"console"`
}

// New builds a JSON logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	level := new(zapcore.Level)
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}

	syncers := make([]zapcore.WriteSyncer, 0, 2)
	if cfg.Console || cfg.Filename == "" {
		syncers = append(syncers, zapcore.AddSync(os.Stderr))
	}
	if cfg.Filename != "" {
		syncers = append(syncers, fileSyncer(cfg))
	}

	core := zapcore.NewCore(encoder(), zapcore.NewMultiWriteSyncer(syncers...), level)
	return zap.New(core, zap.AddCaller()), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Sync flushes buffered entries, ignoring the EINVAL stderr returns on some platforms.
func Sync(l *zap.Logger) {
	if l != nil {
		_ = l.Sync()
	}
}

func encoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func fileSyncer(cfg Config) zapcore.WriteSyncer {
	rotator := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(rotator),
		Size:          64 * 1024,
		FlushInterval: 5 * time.Second,
	}
}
