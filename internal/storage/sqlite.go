package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/sabarim/stockharvest/internal/historical"
)

// SQLiteStore persists records to a local SQLite database.
// Days are stored as YYYY-MM-DD text so that ordering and MAX work lexically.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Entry
}

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
func NewSQLiteStore(ctx context.Context, path string, log *logrus.Entry) (*SQLiteStore, error) {
	if path == "" {
		path = "stockharvest.db"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.WithField("path", path).Info("SQLite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS stock_history (
		symbol            TEXT NOT NULL,
		date              TEXT NOT NULL,
		last_trade_price  REAL,
		max_price         REAL,
		min_price         REAL,
		avg_price         REAL,
		change_percentage REAL,
		volume            INTEGER,
		turnover_best     REAL,
		total_turnover    REAL,
		updated_at        INTEGER NOT NULL,
		PRIMARY KEY (symbol, date)
	)`)
	return err
}

// LastDate implements Store.
func (s *SQLiteStore) LastDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM stock_history WHERE symbol = ?`, symbol).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last date: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(historical.DateLayout, last.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last date %q: %w", last.String, err)
	}
	return t, true, nil
}

const sqliteUpsert = `
	INSERT INTO stock_history (symbol, date, last_trade_price, max_price, min_price, avg_price,
		change_percentage, volume, turnover_best, total_turnover, updated_at)
	VALUES (?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT (symbol, date) DO UPDATE SET
		last_trade_price  = excluded.last_trade_price,
		max_price         = excluded.max_price,
		min_price         = excluded.min_price,
		avg_price         = excluded.avg_price,
		change_percentage = excluded.change_percentage,
		volume            = excluded.volume,
		turnover_best     = excluded.turnover_best,
		total_turnover    = excluded.total_turnover,
		updated_at        = excluded.updated_at`

// UpsertBatch implements Store. The batch is applied in one transaction.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, records []historical.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Symbol,
			historical.Day(r.Date).Format(historical.DateLayout),
			r.LastTradePrice,
			r.MaxPrice,
			r.MinPrice,
			r.AvgPrice,
			r.ChangePercentage,
			r.Volume,
			r.TurnoverBest,
			r.TotalTurnover,
			now,
		)
		if err != nil {
			return fmt.Errorf("upsert %s %s: %w", r.Symbol, r.Date.Format(historical.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Symbols implements Store.
func (s *SQLiteStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM stock_history ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// Records implements Store.
func (s *SQLiteStore) Records(ctx context.Context, symbol string, from, to time.Time) ([]historical.Record, error) {
	from, to = dateRange(from, to)
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, last_trade_price, max_price, min_price, avg_price,
			change_percentage, volume, turnover_best, total_turnover
		FROM stock_history
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		symbol, from.Format(historical.DateLayout), to.Format(historical.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []historical.Record
	for rows.Next() {
		var r historical.Record
		var day string
		if err := rows.Scan(&r.Symbol, &day, &r.LastTradePrice, &r.MaxPrice, &r.MinPrice, &r.AvgPrice,
			&r.ChangePercentage, &r.Volume, &r.TurnoverBest, &r.TotalTurnover); err != nil {
			return nil, err
		}
		if r.Date, err = time.Parse(historical.DateLayout, day); err != nil {
			return nil, fmt.Errorf("parse date %q: %w", day, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
