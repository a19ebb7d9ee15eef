// Package logging builds the zap loggers used across the planner.
package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Logger is the logger handed to every component.
type Logger = *zap.SugaredLogger

// NewLoggerConfig returns the default console config: no stacktraces,
// ISO8601 timestamps and coloured levels.
func NewLoggerConfig(level string) zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(ParseLevel(level)),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// ParseLevel maps a level name to a zap level. Unknown names mean info.
func ParseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// NewLogger returns a named console logger at the given level.
func NewLogger(name, level string) Logger {
	logger, err := NewLoggerConfig(level).Build()
	if err != nil {
		// Only an invalid output path can fail here, and ours are fixed.
		panic(err)
	}
	return logger.Sugar().Named(name)
}

// NewTestLogger returns a logger that writes through t.Log.
func NewTestLogger(tb testing.TB) Logger {
	return zaptest.NewLogger(tb, zaptest.Level(zapcore.DebugLevel)).Sugar()
}

// NewNopLogger discards everything.
func NewNopLogger() Logger {
	return zap.NewNop().Sugar()
}
