package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/historical"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store persists records keyed by (symbol, date).
type Store interface {
	// LastDate returns the most recent persisted day of symbol. ok is false when nothing is stored.
	LastDate(ctx context.Context, symbol string) (last time.Time, ok bool, err error)
	// UpsertBatch inserts or overwrites records. Repeating a call has no further effect.
	UpsertBatch(ctx context.Context, records []historical.Record) error
	// Symbols lists every symbol with persisted records.
	Symbols(ctx context.Context) ([]string, error)
	// Records returns the persisted records of symbol between from and to inclusive, ordered by date.
	// A zero to means no upper bound.
	Records(ctx context.Context, symbol string, from, to time.Time) ([]historical.Record, error)
	Close() error
}

// Config selects and configures the store implementation
type Config struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// Open connects to the configured store and ensures its schema exists.
func Open(ctx context.Context, cfg Config, log *logrus.Entry) (Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN, log)
	case DriverSQLite, "":
		return NewSQLiteStore(ctx, cfg.SQLitePath, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// lastDay bounds open-ended range queries.
var lastDay = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func dateRange(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = lastDay
	}
	return historical.Day(from), historical.Day(to)
}
