// Package logging owns the process-wide logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level and optional rotating file output.
type Config struct {
	Level     string
	File      string
	MaxSizeMB int
	MaxAge    int
}

var (
	global = zap.NewNop().Sugar()
	once   sync.Once
	mu     sync.RWMutex
)

// New builds a console logger writing to stderr and, when File is set, to a
// lumberjack rotated file.
func New(cfg Config) (*zap.SugaredLogger, error) {
	level := zap.DebugLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	if cfg.MaxSizeMB < 0 || cfg.MaxAge < 0 {
		return nil, fmt.Errorf("invalid log rotation: max size %dMB, max age %d days", cfg.MaxSizeMB, cfg.MaxAge)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		maxSize := cfg.MaxSizeMB
		if maxSize == 0 {
			maxSize = 100
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: 3,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core).Sugar(), nil
}

// Init configures the global logger. Only the first call has any effect.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l *zap.SugaredLogger
		l, err = New(cfg)
		if err != nil {
			return
		}
		mu.Lock()
		global = l
		mu.Unlock()
	})
	return err
}

// L returns the global logger, a no-op logger until Init succeeds.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}
