// Package logger is the structured logging facade shared by the drivers, the
// gateway and the test harness. Processes log through logrus or zap; tests
// usually adapt a zaptest logger with NewZapLogger.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"firestore-driver/internal/shared/contextkeys"

	"github.com/sirupsen/logrus"
)

const (
	BackendLogrus = "logrus"
	BackendZap    = "zap"

	FormatText = "text"
	FormatJSON = "json"

	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Logger is what every component logs through. Errors are returned to the
// caller, so there is no Fatal.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger
}

// Options select how a process logs
type Options struct {
	Level   string
	Format  string
	Backend string
	Output  io.Writer
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_BACKEND. A production
// ENVIRONMENT logs JSON unless LOG_FORMAT says otherwise.
func OptionsFromEnv() Options {
	opts := Options{
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  strings.ToLower(os.Getenv("LOG_FORMAT")),
		Backend: strings.ToLower(os.Getenv("LOG_BACKEND")),
	}
	if opts.Format == "" {
		switch os.Getenv("ENVIRONMENT") {
		case "production", "prod":
			opts.Format = FormatJSON
		default:
			opts.Format = FormatText
		}
	}
	return opts
}

// New builds a logger for opts. An unknown level logs at info.
func New(opts Options) (Logger, error) {
	if opts.Backend == BackendZap {
		return NewProductionZapLogger(opts.Level)
	}
	return newLogrusLogger(opts), nil
}

// NewLogger builds the process logger from the environment, falling back to
// a text logrus logger when the configured backend cannot start
func NewLogger() Logger {
	opts := OptionsFromEnv()
	l, err := New(opts)
	if err != nil {
		fallback := newLogrusLogger(Options{Level: opts.Level, Format: FormatText})
		fallback.Warnf("Could not start %s logger, using logrus: %v", opts.Backend, err)
		return fallback
	}
	return l
}

// LogrusLogger implements Logger on a logrus entry
type LogrusLogger struct {
	entry *logrus.Entry
}

func newLogrusLogger(opts Options) *LogrusLogger {
	l := logrus.New()
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	if opts.Format == FormatJSON {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap:        logrus.FieldMap{logrus.FieldKeyTime: "timestamp", logrus.FieldKeyMsg: "message"},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	}
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stdout)
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *LogrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *LogrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }

func (l *LogrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// WithFields adds structured fields to the logger
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithContext adds the request, run and driver values carried by ctx
func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	return l.WithFields(contextFields(ctx))
}

// WithComponent adds component name to the logger
func (l *LogrusLogger) WithComponent(component string) Logger {
	return &LogrusLogger{entry: l.entry.WithField("component", component)}
}

// contextFieldNames maps context keys to the field names they are logged under
var contextFieldNames = map[interface{}]string{
	contextkeys.UserIDKey:     "user_id",
	contextkeys.ProjectIDKey:  "project_id",
	contextkeys.DatabaseIDKey: "database_id",
	contextkeys.RequestIDKey:  "request_id",
	contextkeys.RunIDKey:      "run_id",
	contextkeys.DriverKey:     "driver",
	contextkeys.CollectionKey: "collection",
}

func contextFields(ctx context.Context) map[string]interface{} {
	fields := make(map[string]interface{}, len(contextFieldNames))
	for key, name := range contextFieldNames {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields[name] = v
		}
	}
	return fields
}
