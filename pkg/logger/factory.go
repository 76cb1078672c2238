package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus instance plus the log file it owns.
// stdout is reserved for the wire protocol, so the optional console
// mirror always goes to stderr.
type Logger struct {
	logger *logrus.Logger
	file   *os.File
}

// CreateLogger creates a new logger instance with the given configuration.
func CreateLogger(logFile string, level string, format string, enableStderr bool) (Logger, error) {
	logrusLogger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return Logger{}, fmt.Errorf("invalid log level: %w", err)
	}
	logrusLogger.SetLevel(logLevel)

	switch strings.ToLower(format) {
	case "json":
		logrusLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return "", fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	case "text":
		logrusLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return "", fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	default:
		return Logger{}, fmt.Errorf("unsupported log format: %s", format)
	}

	logrusLogger.SetReportCaller(true)

	if logFile == "" {
		logFile = fmt.Sprintf("logs/deskjarvis-agent-%s.log", time.Now().Format("2006-01-02"))
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return Logger{}, fmt.Errorf("failed to create log directory: %w", err)
	}
	//nolint:gosec // G304: logFile comes from configuration, not user input
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return Logger{}, fmt.Errorf("failed to open log file: %w", err)
	}
	logrusLogger.SetOutput(file)

	if enableStderr {
		logrusLogger.SetOutput(io.MultiWriter(file, os.Stderr))
	}

	return Logger{
		logger: logrusLogger,
		file:   file,
	}, nil
}

// CreateTestLogger creates a simplified test logger.
func CreateTestLogger(logFile string, level string) Logger {
	logger, err := CreateLogger(logFile, level, "text", false)
	if err != nil {
		logger, _ = CreateLogger("logs/test-fallback.log", "info", "text", false)
	}
	return logger
}

// CreateDefaultLogger creates a logger with sensible defaults.
func CreateDefaultLogger() Logger {
	return CreateTestLogger("", "info")
}

// CreateDebugLogger creates a debug-level logger mirrored to stderr.
func CreateDebugLogger(logFile string) Logger {
	logger, err := CreateLogger(logFile, "debug", "text", true)
	if err != nil {
		logger, _ = CreateLogger("logs/debug-fallback.log", "debug", "text", true)
	}
	return logger
}

func (l Logger) Infof(format string, v ...any) {
	l.logger.Infof(format, v...)
}

func (l Logger) Errorf(format string, v ...any) {
	l.logger.Errorf(format, v...)
}

func (l Logger) Info(args ...interface{}) {
	l.logger.Info(args...)
}

func (l Logger) Error(args ...interface{}) {
	l.logger.Error(args...)
}

func (l Logger) Debug(args ...interface{}) {
	l.logger.Debug(args...)
}

func (l Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l Logger) Warn(args ...interface{}) {
	l.logger.Warn(args...)
}

func (l Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l Logger) Fatal(args ...interface{}) {
	l.logger.Fatal(args...)
}

func (l Logger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf(format, args...)
}

func (l Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

func (l Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.logger.WithFields(fields)
}

func (l Logger) WithError(err error) *logrus.Entry {
	return l.logger.WithError(err)
}

// SetLevel changes the level at runtime.
func (l Logger) SetLevel(level logrus.Level) {
	l.logger.SetLevel(level)
}

// Close closes the underlying log file.
func (l Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// IsInitialized reports whether the logger was properly constructed.
func (l Logger) IsInitialized() bool {
	return l.logger != nil
}
