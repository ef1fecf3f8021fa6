// Package logger provides leveled, printf-style logging for confmig, backed by zap.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log level.
type Level int

const (
	// LevelDebug is the most verbose log level.
	LevelDebug Level = iota
	// LevelInfo is the default log level for general information.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages only.
	LevelError
)

// String returns the string representation of a log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

type state struct {
	mu     sync.Mutex
	level  zap.AtomicLevel
	output zapcore.WriteSyncer
	file   *os.File // optional log file
	sugar  *zap.SugaredLogger
}

var global = newState()

func newState() *state {
	s := &state{
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		output: zapcore.Lock(os.Stderr),
	}
	s.rebuild()
	return s
}

// rebuild recreates the zap logger after an output or file change.
// Caller holds mu (or is the constructor).
func (s *state) rebuild() {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.ConsoleSeparator = " "

	sinks := []zapcore.WriteSyncer{s.output}
	if s.file != nil {
		sinks = append(sinks, zapcore.AddSync(s.file))
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.NewMultiWriteSyncer(sinks...),
		s.level,
	)
	s.sugar = zap.New(core).Sugar()
}

// SetLevel sets the minimum log level.
func SetLevel(level Level) {
	global.level.SetLevel(level.zapLevel())
}

// GetLevel returns the current minimum log level.
func GetLevel() Level {
	switch global.level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput redirects log output to w. This is primarily useful for testing.
func SetOutput(w io.Writer) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.output = zapcore.AddSync(w)
	global.rebuild()
}

// SetLogFile opens a log file that receives all messages in addition to the
// current output.
func SetLogFile(path string) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.file != nil {
		global.file.Close()
		global.file = nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	global.file = f
	global.rebuild()
	return nil
}

// Close flushes buffered entries and closes the log file if one is open.
func Close() {
	global.mu.Lock()
	defer global.mu.Unlock()

	global.sugar.Sync()
	if global.file != nil {
		global.file.Close()
		global.file = nil
		global.rebuild()
	}
}

func logf(level Level, format string, args ...interface{}) {
	global.mu.Lock()
	sugar := global.sugar
	global.mu.Unlock()

	switch level {
	case LevelDebug:
		sugar.Debugf(format, args...)
	case LevelWarn:
		sugar.Warnf(format, args...)
	case LevelError:
		sugar.Errorf(format, args...)
	default:
		sugar.Infof(format, args...)
	}
}

// Debug logs at debug level.
func Debug(format string, args ...interface{}) { logf(LevelDebug, format, args...) }

// Info logs at info level.
func Info(format string, args ...interface{}) { logf(LevelInfo, format, args...) }

// Warn logs at warn level.
func Warn(format string, args ...interface{}) { logf(LevelWarn, format, args...) }

// Error logs at error level.
func Error(format string, args ...interface{}) { logf(LevelError, format, args...) }

// ParseLevel converts a string to a Level.
// Accepts: debug, info, warn, error (case-insensitive).
// Returns an error for unknown level strings.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q: valid levels are debug, info, warn, error", s)
	}
}
