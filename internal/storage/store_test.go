package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/historical"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func openSQLite(t *testing.T) Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "test.db")}, testLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// openPostgres returns a store for HARVEST_TEST_POSTGRES_DSN, skipping when unset.
func openPostgres(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("HARVEST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HARVEST_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), Config{Driver: DriverPostgres, PostgresDSN: dsn}, testLogger())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, openSQLite(t), "SQL")
}

func TestPostgresStore(t *testing.T) {
	exerciseStore(t, openPostgres(t), "PGTEST"+time.Now().Format("150405"))
}

func exerciseStore(t *testing.T, s Store, symbol string) {
	ctx := context.Background()

	if _, ok, err := s.LastDate(ctx, symbol); err != nil || ok {
		t.Fatalf("expected no last date for empty store, got ok=%v err=%v", ok, err)
	}

	batch := []historical.Record{
		{Symbol: symbol, Date: day(2024, 1, 2), LastTradePrice: 10, Volume: 5},
		{Symbol: symbol, Date: day(2024, 1, 3), LastTradePrice: 11, Volume: 6},
		{Symbol: symbol, Date: day(2024, 1, 4), LastTradePrice: 12, Volume: 7},
	}
	if err := s.UpsertBatch(ctx, batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// repeating the batch must not create duplicates
	if err := s.UpsertBatch(ctx, batch); err != nil {
		t.Fatalf("repeat upsert: %v", err)
	}

	last, ok, err := s.LastDate(ctx, symbol)
	if err != nil || !ok {
		t.Fatalf("expected last date, got ok=%v err=%v", ok, err)
	}
	if !last.Equal(day(2024, 1, 4)) {
		t.Errorf("expected last date 2024-01-04, got %s", last)
	}

	// overlapping batch overwrites measurements
	overlap := []historical.Record{
		{Symbol: symbol, Date: day(2024, 1, 4), LastTradePrice: 99, Volume: 1},
		{Symbol: symbol, Date: day(2024, 1, 5), LastTradePrice: 13, Volume: 8},
	}
	if err := s.UpsertBatch(ctx, overlap); err != nil {
		t.Fatalf("overlapping upsert: %v", err)
	}

	records, err := s.Records(ctx, symbol, day(2024, 1, 1), day(2024, 1, 31))
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[2].LastTradePrice != 99 || records[2].Volume != 1 {
		t.Errorf("expected overwritten values, got %+v", records[2])
	}
	if !records[0].Date.Equal(day(2024, 1, 2)) {
		t.Errorf("expected ascending dates, first is %s", records[0].Date)
	}

	open, err := s.Records(ctx, symbol, day(2024, 1, 4), time.Time{})
	if err != nil {
		t.Fatalf("open ended records: %v", err)
	}
	if len(open) != 2 {
		t.Errorf("expected 2 records from 2024-01-04 on, got %d", len(open))
	}

	symbols, err := s.Symbols(ctx)
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	found := false
	for _, sym := range symbols {
		found = found || sym == symbol
	}
	if !found {
		t.Errorf("expected %s in %v", symbol, symbols)
	}
}

func TestSQLiteSymbolsSorted(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	err := s.UpsertBatch(ctx, []historical.Record{
		{Symbol: "TEL", Date: day(2024, 1, 2)},
		{Symbol: "ALK", Date: day(2024, 1, 2)},
		{Symbol: "KMB", Date: day(2024, 1, 2)},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.Symbols(ctx)
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"ALK", "KMB", "TEL"}) {
		t.Errorf("unexpected symbols %v", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "oracle"}, testLogger()); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}
