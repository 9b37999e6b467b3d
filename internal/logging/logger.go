package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger provides structured logging with optional file output.
// Launcher logs go to stderr; stdout belongs to the delegated daemon.
type Logger struct {
	zl        zerolog.Logger
	logFile   *os.File
	component string
}

// NewLogger creates a logger writing to stderr
func NewLogger(level Level, jsonFormat bool) *Logger {
	return New(os.Stderr, level, jsonFormat)
}

// New creates a logger writing to w
func New(w io.Writer, level Level, jsonFormat bool) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := w
	if !jsonFormat {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "2006-01-02 15:04:05",
			NoColor:    true,
		}
	}

	return &Logger{
		zl: zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger(),
	}
}

// NewFileLogger creates a logger that writes to /var/log/<component>/<component>.log
// and stderr. Falls back to ./logs/<component>/ if /var/log is not writable.
func NewFileLogger(component string, level Level, jsonFormat bool) (*Logger, error) {
	baseDir := "/var/log"
	if !IsWritable(baseDir) {
		baseDir = "./logs"
	}

	logDir := filepath.Join(baseDir, component)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	logPath := filepath.Join(logDir, component+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logger := New(io.MultiWriter(logFile, os.Stderr), level, jsonFormat)
	logger.logFile = logFile
	logger.component = component

	logger.Debug("Logger initialized", map[string]interface{}{"path": logPath})

	return logger, nil
}

func (l *Logger) log(ev *zerolog.Event, message string, fields []map[string]interface{}) {
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(fields[0])
	}
	ev.Msg(message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(l.zl.Debug(), message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(l.zl.Info(), message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(l.zl.Warn(), message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(l.zl.Error(), message, fields)
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		zl:        l.zl.With().Interface(key, value).Logger(),
		component: l.component,
	}
}

// Close closes the log file if opened. Derived loggers never own the file.
func (l *Logger) Close() error {
	if l.logFile != nil {
		err := l.logFile.Close()
		l.logFile = nil
		return err
	}
	return nil
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// IsWritable checks if directory exists (or can be created) and is writable
func IsWritable(path string) bool {
	if err := os.MkdirAll(path, 0755); err != nil {
		return false
	}

	f, err := os.CreateTemp(path, ".write_test")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
