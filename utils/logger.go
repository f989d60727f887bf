package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SystemLogSink receives every WARN-or-worse entry so that failures are
// visible outside the process log.
type SystemLogSink interface {
	AppendSystemLog(level, component, message string, at time.Time) error
}

// sinkHolder is shared by a logger and all of its named children.
type sinkHolder struct {
	mu   sync.RWMutex
	sink SystemLogSink
}

func (h *sinkHolder) hook(entry zapcore.Entry) error {
	if entry.Level < zapcore.WarnLevel {
		return nil
	}
	h.mu.RLock()
	sink := h.sink
	h.mu.RUnlock()
	if sink == nil {
		return nil
	}
	component := entry.LoggerName
	if component == "" {
		component = "main"
	}
	if err := sink.AppendSystemLog(entry.Level.CapitalString(), component, entry.Message, entry.Time); err != nil {
		// must not log through zap here
		fmt.Fprintf(os.Stderr, "system log write failed: %v\n", err)
	}
	return nil
}

// Logger provides logging functionality
type Logger struct {
	zl    *zap.Logger
	sugar *zap.SugaredLogger
	sinks *sinkHolder
	file  *os.File
}

// NewLogger creates a new logger writing to stderr and, if configured, a JSON log file.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEnc zapcore.Encoder
	if cfg.JSON {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	} else {
		devCfg := encCfg
		devCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(devCfg)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), level))
	}

	logger := newLogger(zapcore.NewTee(cores...))
	logger.file = file
	return logger, nil
}

// NewLoggerWithCore wraps an existing zap core. Tests use it with an observer core.
func NewLoggerWithCore(core zapcore.Core) *Logger {
	return newLogger(core)
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return newLogger(zapcore.NewNopCore())
}

func newLogger(core zapcore.Core) *Logger {
	sinks := &sinkHolder{}
	zl := zap.New(core, zap.Hooks(sinks.hook))
	return &Logger{zl: zl, sugar: zl.Sugar(), sinks: sinks}
}

// AttachSystemLog routes WARN-or-worse entries of this logger and every
// child logger to sink.
func (l *Logger) AttachSystemLog(sink SystemLogSink) {
	l.sinks.mu.Lock()
	l.sinks.sink = sink
	l.sinks.mu.Unlock()
}

// Named returns a child logger tagged with the component name
func (l *Logger) Named(component string) *Logger {
	zl := l.zl.Named(component)
	return &Logger{zl: zl, sugar: zl.Sugar(), sinks: l.sinks}
}

// With returns a child logger carrying structured fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.zl.With(fields...)
	return &Logger{zl: zl, sugar: zl.Sugar(), sinks: l.sinks}
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Close flushes buffered entries
func (l *Logger) Close() error {
	// syncing stderr fails on most terminals, nothing useful to report
	_ = l.zl.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// GetLogPath returns the default log path
func GetLogPath() string {
	return filepath.Join(".", "logs", fmt.Sprintf("leadpilot-%s.log", time.Now().Format("2006-01-02")))
}
