package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init builds the process-wide logger writing to stderr at the given level.
func Init(lvl string) error {
	parsed, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.SetLevel(parsed)

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)

	mu.Lock()
	global = zap.New(core).Sugar()
	mu.Unlock()
	return nil
}

// Logger returns the process-wide logger, or a no-op logger before Init.
func Logger() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return zap.NewNop().Sugar()
	}
	return global
}

// SetLogger replaces the process-wide logger. Tests use it with zaptest or
// observer cores.
func SetLogger(l *zap.SugaredLogger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

// SetLevel changes the level of the logger created by Init.
func SetLevel(lvl string) error {
	parsed, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.SetLevel(parsed)
	return nil
}

// ParseLevel accepts debug, info, warn and error (case insensitive). An empty
// string means info.
func ParseLevel(lvl string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", lvl)
	}
}
