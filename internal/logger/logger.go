package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"example.com/h3serve/internal/config"
)

// LogFields carries the structured context attached to one log entry.
type LogFields map[string]interface{}

// Logger is the structured error/diagnostic logger. It wraps a zerolog
// logger configured from config.LoggingConfig; every entry is a single JSON
// line with ts, level and msg plus the entry's fields.
type Logger struct {
	zl     zerolog.Logger
	mu     sync.Mutex
	output io.WriteCloser
	target string
}

func levelFromConfig(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelInfo:
		return zerolog.InfoLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates and configures a Logger from the logging configuration.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	target := cfg.Target
	if target == "" {
		target = "stderr"
	}

	var output io.WriteCloser
	switch {
	case target == "stderr":
		output = os.Stderr
	case target == "stdout":
		output = os.Stdout
	case config.IsFilePath(target):
		file, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", target, err)
		}
		output = file
	default:
		return nil, fmt.Errorf("invalid log target: %s", target)
	}

	zl := zerolog.New(output).
		Level(levelFromConfig(cfg.LogLevel)).
		With().Timestamp().Logger()
	return &Logger{zl: zl, output: output, target: target}, nil
}

// NewTestLogger returns a debug-level logger writing to w. Intended for
// tests; pass io.Discard to silence it.
func NewTestLogger(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()}
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, fields LogFields) {
	l.emit(l.zl.Debug(), msg, fields)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, fields LogFields) {
	l.emit(l.zl.Info(), msg, fields)
}

// Warn logs at WARNING level.
func (l *Logger) Warn(msg string, fields LogFields) {
	l.emit(l.zl.Warn(), msg, fields)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, fields LogFields) {
	l.emit(l.zl.Error(), msg, fields)
}

// CloseLogFiles closes the log output if it is a regular file. Intended for
// shutdown.
func (l *Logger) CloseLogFiles() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.output.(*os.File); ok {
		if f != os.Stdout && f != os.Stderr {
			f.Close()
		}
	}
}

// ReopenLogFiles closes and reopens a file-based log target, for SIGHUP-style
// rotation. Targets stdout/stderr are left alone.
func (l *Logger) ReopenLogFiles() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !config.IsFilePath(l.target) {
		return nil
	}
	f, ok := l.output.(*os.File)
	if !ok || f == os.Stdout || f == os.Stderr {
		return nil
	}
	level := l.zl.GetLevel()
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing log file %s during reopen: %v\n", l.target, err)
	}
	newFile, err := os.OpenFile(l.target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.output = os.Stderr
		l.zl = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
		return fmt.Errorf("failed to reopen log file %s: %w", l.target, err)
	}
	l.output = newFile
	l.zl = zerolog.New(newFile).Level(level).With().Timestamp().Logger()
	return nil
}
