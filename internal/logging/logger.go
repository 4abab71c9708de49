package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log level, format, output and rotation.
type Config struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or text
	Output     string `yaml:"output"` // stdout, stderr or file
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Logger is a structured logger carried through the gateway.
type Logger struct {
	entry *logrus.Entry
}

// New creates a configured logger.
func New(cfg *Config) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	if err := setOutput(base, cfg); err != nil {
		return nil, err
	}

	return &Logger{entry: logrus.NewEntry(base)}, nil
}

func setOutput(base *logrus.Logger, cfg *Config) error {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		base.SetOutput(os.Stderr)
	case "file":
		dir := cfg.LogDir
		if dir == "" {
			dir = "logs"
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		writer := &lumberjack.Logger{
			Filename:   filepath.Join(dir, "tradegate.log"),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		if base.GetLevel() >= logrus.DebugLevel {
			base.SetOutput(io.MultiWriter(writer, os.Stdout))
		} else {
			base.SetOutput(writer)
		}
	default:
		base.SetOutput(os.Stdout)
	}
	return nil
}

// WithField returns a logger with one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a logger with extra fields.
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// Global logger. Set once in main; packages that are not handed a logger
// explicitly log through these.
var (
	globalMu sync.RWMutex
	global   = &Logger{entry: logrus.NewEntry(logrus.StandardLogger())}
)

// SetGlobal replaces the global logger.
func SetGlobal(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = logger
}

func getGlobal() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

func Debug(args ...interface{})                 { getGlobal().Debug(args...) }
func Debugf(format string, args ...interface{}) { getGlobal().Debugf(format, args...) }
func Info(args ...interface{})                  { getGlobal().Info(args...) }
func Infof(format string, args ...interface{})  { getGlobal().Infof(format, args...) }
func Warn(args ...interface{})                  { getGlobal().Warn(args...) }
func Warnf(format string, args ...interface{})  { getGlobal().Warnf(format, args...) }
func Error(args ...interface{})                 { getGlobal().Error(args...) }
func Errorf(format string, args ...interface{}) { getGlobal().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { getGlobal().Fatalf(format, args...) }

// WithField adds a field to the global logger.
func WithField(key string, value interface{}) *Logger {
	return getGlobal().WithField(key, value)
}

// WithFields adds fields to the global logger.
func WithFields(fields logrus.Fields) *Logger {
	return getGlobal().WithFields(fields)
}

// WithError adds an error to the global logger.
func WithError(err error) *Logger {
	return getGlobal().WithError(err)
}
