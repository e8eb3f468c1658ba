package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/historical"
)

// PostgresStore persists records to PostgreSQL through a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// NewPostgresStore connects to dsn, verifies the connection and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string, log *logrus.Entry) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.WithField("host", cfg.ConnConfig.Host).Info("Postgres store opened")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS stock_history (
		symbol            TEXT NOT NULL,
		date              DATE NOT NULL,
		last_trade_price  DOUBLE PRECISION,
		max_price         DOUBLE PRECISION,
		min_price         DOUBLE PRECISION,
		avg_price         DOUBLE PRECISION,
		change_percentage DOUBLE PRECISION,
		volume            BIGINT,
		turnover_best     DOUBLE PRECISION,
		total_turnover    DOUBLE PRECISION,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (symbol, date)
	)`)
	return err
}

// LastDate implements Store.
func (s *PostgresStore) LastDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var last pgtype.Date
	err := s.pool.QueryRow(ctx, `SELECT MAX(date) FROM stock_history WHERE symbol = $1`, symbol).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last date: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return historical.Day(last.Time), true, nil
}

var recordColumns = []string{
	"symbol", "date", "last_trade_price", "max_price", "min_price", "avg_price",
	"change_percentage", "volume", "turnover_best", "total_turnover",
}

const mergeStaged = `
	INSERT INTO stock_history (symbol, date, last_trade_price, max_price, min_price, avg_price,
		change_percentage, volume, turnover_best, total_turnover, updated_at)
	SELECT symbol, date, last_trade_price, max_price, min_price, avg_price,
		change_percentage, volume, turnover_best, total_turnover, now()
	FROM stock_history_stage
	ON CONFLICT (symbol, date) DO UPDATE SET
		last_trade_price  = EXCLUDED.last_trade_price,
		max_price         = EXCLUDED.max_price,
		min_price         = EXCLUDED.min_price,
		avg_price         = EXCLUDED.avg_price,
		change_percentage = EXCLUDED.change_percentage,
		volume            = EXCLUDED.volume,
		turnover_best     = EXCLUDED.turnover_best,
		total_turnover    = EXCLUDED.total_turnover,
		updated_at        = EXCLUDED.updated_at`

// UpsertBatch implements Store. Records are copied into a transaction scoped
// staging table and merged with a single INSERT ... ON CONFLICT.
func (s *PostgresStore) UpsertBatch(ctx context.Context, records []historical.Record) error {
	if len(records) == 0 {
		return nil
	}
	// ON CONFLICT cannot touch the same row twice in one statement
	records = historical.Dedupe(records)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `CREATE TEMP TABLE stock_history_stage
		(LIKE stock_history INCLUDING DEFAULTS) ON COMMIT DROP`)
	if err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.Symbol,
			historical.Day(r.Date),
			r.LastTradePrice,
			r.MaxPrice,
			r.MinPrice,
			r.AvgPrice,
			r.ChangePercentage,
			r.Volume,
			r.TurnoverBest,
			r.TotalTurnover,
		})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"stock_history_stage"}, recordColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy into staging table: %w", err)
	}

	if _, err := tx.Exec(ctx, mergeStaged); err != nil {
		return fmt.Errorf("merge staged records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Symbols implements Store.
func (s *PostgresStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM stock_history ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Records implements Store.
func (s *PostgresStore) Records(ctx context.Context, symbol string, from, to time.Time) ([]historical.Record, error) {
	from, to = dateRange(from, to)
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, date, last_trade_price, max_price, min_price, avg_price,
			change_percentage, volume, turnover_best, total_turnover
		FROM stock_history
		WHERE symbol = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC`,
		symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []historical.Record
	for rows.Next() {
		var r historical.Record
		var day pgtype.Date
		if err := rows.Scan(&r.Symbol, &day, &r.LastTradePrice, &r.MaxPrice, &r.MinPrice, &r.AvgPrice,
			&r.ChangePercentage, &r.Volume, &r.TurnoverBest, &r.TotalTurnover); err != nil {
			return nil, err
		}
		r.Date = historical.Day(day.Time)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
