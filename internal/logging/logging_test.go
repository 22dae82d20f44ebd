package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"tg_member_gate_bot/internal/config"
)

func useBase(t *testing.T, entry *logrus.Entry) {
	t.Helper()
	prev := base
	base = entry
	t.Cleanup(func() { base = prev })
}

func TestSetupFormatsPerEnvironment(t *testing.T) {
	useBase(t, nil)

	prod, err := Setup(config.Config{AppEnv: config.EnvProduction, LogLevel: " INFO "})
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	json, ok := prod.Logger.Formatter.(*logrus.JSONFormatter)
	if !ok {
		t.Fatalf("expected JSON formatter in production, got %T", prod.Logger.Formatter)
	}
	if json.FieldMap[logrus.FieldKeyTime] != "ts" {
		t.Fatalf("expected timestamps under ts, got %q", json.FieldMap[logrus.FieldKeyTime])
	}
	if prod.Data["service"] != serviceName || prod.Data["env"] != config.EnvProduction {
		t.Fatalf("expected service and env fields, got %v", prod.Data)
	}
	if Logger() != prod {
		t.Fatalf("expected Setup to install the base logger")
	}

	dev, err := Setup(config.Config{AppEnv: config.EnvDevelopment, LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if _, ok := dev.Logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected text formatter in development, got %T", dev.Logger.Formatter)
	}
	if dev.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", dev.Logger.Level)
	}
}

func TestSetupRejectsInvalidLevelAndKeepsPreviousLogger(t *testing.T) {
	useBase(t, nil)

	if _, err := Setup(config.Config{AppEnv: config.EnvDevelopment, LogLevel: "loud"}); err == nil {
		t.Fatalf("expected error for invalid log level")
	}
	if base != nil {
		t.Fatalf("expected no base logger after a failed Setup")
	}

	fallback := Logger()
	if fallback.Logger.Level != logrus.InfoLevel || fallback.Data["env"] != config.DefaultAppEnv {
		t.Fatalf("expected info-level default logger, got %s %v", fallback.Logger.Level, fallback.Data)
	}
}

func TestPackageHelpersUseBaseLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	useBase(t, logger.WithField("service", serviceName))

	Info("configuration check", Fields{"event": "config_only"})
	Error("configuration error", nil)

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != logrus.InfoLevel || entries[0].Data["event"] != "config_only" {
		t.Fatalf("unexpected info entry: %s %v", entries[0].Level, entries[0].Data)
	}
	if entries[1].Level != logrus.ErrorLevel || entries[1].Data["service"] != serviceName {
		t.Fatalf("unexpected error entry: %s %v", entries[1].Level, entries[1].Data)
	}
}

func TestEnrichScopesEntryToRequest(t *testing.T) {
	logger, hook := test.NewNullLogger()
	entry := logger.WithField("component", "dispatch")

	Enrich(entry, Request{ID: "req-1", UserID: 7}).Info("enriched")

	last := hook.LastEntry()
	if last == nil {
		t.Fatalf("expected an entry to be logged")
	}
	if last.Data["component"] != "dispatch" {
		t.Fatalf("expected existing field to be preserved, got %v", last.Data)
	}
	if last.Data["user_id"] != int64(7) || last.Data["request_id"] != "req-1" {
		t.Fatalf("expected user_id and request_id, got %v", last.Data)
	}
	if _, ok := last.Data["chat_id"]; ok {
		t.Fatalf("expected zero chat_id to be omitted, got %v", last.Data)
	}

	if got := Enrich(entry, Request{}); got != entry {
		t.Fatalf("expected an empty request to return the same entry")
	}
}
