// Package logging configures the logrus logger shared by every component.
// Production writes JSON lines; development writes readable text.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_member_gate_bot/internal/config"
)

const serviceName = "member-gate-bot"

var base *logrus.Entry

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

// Request identifies the update a log line belongs to. Zero fields are left
// out of the entry.
type Request struct {
	ID     string
	UserID int64
	ChatID int64
}

// Setup builds the base logger for cfg and installs it for Logger. An invalid
// level leaves any previous logger in place.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	base = newEntry(level, cfg.AppEnv)
	return base, nil
}

// Logger returns the base logger. Before Setup it is an info-level production
// logger, so configuration errors are still reported.
func Logger() *logrus.Entry {
	if base == nil {
		base = newEntry(logrus.InfoLevel, config.DefaultAppEnv)
	}
	return base
}

// Enrich scopes entry to one request.
func Enrich(entry *logrus.Entry, req Request) *logrus.Entry {
	if entry == nil {
		entry = Logger()
	}

	fields := Fields{}
	if req.ID != "" {
		fields["request_id"] = req.ID
	}
	if req.UserID != 0 {
		fields["user_id"] = req.UserID
	}
	if req.ChatID != 0 {
		fields["chat_id"] = req.ChatID
	}
	if len(fields) == 0 {
		return entry
	}

	return entry.WithFields(fields)
}

// Info logs through the base logger.
func Info(msg string, fields Fields) {
	Logger().WithFields(fields).Info(msg)
}

// Error logs through the base logger.
func Error(msg string, fields Fields) {
	Logger().WithFields(fields).Error(msg)
}

func newEntry(level logrus.Level, appEnv string) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatter(appEnv))

	return logger.WithFields(Fields{
		"service": serviceName,
		"env":     appEnv,
	})
}

func formatter(appEnv string) logrus.Formatter {
	keys := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyLevel: "level",
		logrus.FieldKeyMsg:   "msg",
	}

	if appEnv != config.EnvDevelopment {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano, FieldMap: keys}
	}

	return &logrus.TextFormatter{
		FullTimestamp:          true,
		TimestampFormat:        time.RFC3339Nano,
		DisableLevelTruncation: true,
		FieldMap:               keys,
	}
}
