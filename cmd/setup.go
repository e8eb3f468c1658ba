package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/config"
)

// loadConfig reads the config file and environment, applies command-line
// overrides and validates the result.
func loadConfig() (config.Config, *logrus.Logger, error) {
	bootstrap := logrus.New()
	bootstrap.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig(configFile, logrus.NewEntry(bootstrap))
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("error loading configuration: %w", err)
	}

	// Override configuration with command-line flags
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if postgresDSN != "" {
		cfg.Storage.PostgresDSN = postgresDSN
	}
	if sqlitePath != "" {
		cfg.Storage.SQLitePath = sqlitePath
	}
	if maxConcurrentSymbols > 0 {
		cfg.Pipeline.MaxConcurrentSymbols = maxConcurrentSymbols
	}
	if maxChunkDays > 0 {
		cfg.Pipeline.MaxChunkDays = maxChunkDays
	}
	if minRequestInterval != "" {
		d, err := time.ParseDuration(minRequestInterval)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("invalid --min-request-interval: %w", err)
		}
		cfg.Pipeline.MinRequestInterval = d
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
