package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/config"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configFile, logLevel, verbose = "config.yaml", "", false
		maxConcurrentSymbols, maxChunkDays, minRequestInterval = 0, 0, ""
		storageDriver, postgresDSN, sqlitePath = "", "", ""
	})
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	resetFlags(t)
	configFile = filepath.Join(t.TempDir(), "missing.yaml")
	maxConcurrentSymbols = 4
	maxChunkDays = 90
	minRequestInterval = "250ms"
	sqlitePath = filepath.Join(t.TempDir(), "h.db")
	verbose = true

	cfg, logger, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Pipeline.MaxConcurrentSymbols != 4 || cfg.Pipeline.MaxChunkDays != 90 {
		t.Errorf("flags not applied: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.MinRequestInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", cfg.Pipeline.MinRequestInterval)
	}
	if cfg.Storage.SQLitePath != sqlitePath {
		t.Errorf("expected sqlite path override, got %s", cfg.Storage.SQLitePath)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level with --verbose, got %s", logger.GetLevel())
	}
}

func TestLoadConfigRejectsInvalidFlags(t *testing.T) {
	resetFlags(t)
	configFile = filepath.Join(t.TempDir(), "missing.yaml")

	minRequestInterval = "soon"
	if _, _, err := loadConfig(); err == nil {
		t.Error("expected duration parse error")
	}

	minRequestInterval = ""
	maxConcurrentSymbols = 31
	if _, _, err := loadConfig(); err == nil {
		t.Error("expected validation error for more than 30 symbol workers")
	}
}

func TestNewLoggerFormats(t *testing.T) {
	l, err := newLogger(config.LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected json formatter, got %T", l.Formatter)
	}
	if l.GetLevel() != logrus.WarnLevel {
		t.Errorf("expected warn level, got %s", l.GetLevel())
	}
	if _, err := newLogger(config.LogConfig{Level: "chatty"}); err == nil {
		t.Error("expected invalid level error")
	}
}
