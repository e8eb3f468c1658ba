package export

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/historical"
)

// Supported formats.
const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
)

// Source reads persisted records.
type Source interface {
	Symbols(ctx context.Context) ([]string, error)
	Records(ctx context.Context, symbol string, from, to time.Time) ([]historical.Record, error)
}

// Config defines the export destination
type Config struct {
	Format string `mapstructure:"format" yaml:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

// Result lists what an export produced
type Result struct {
	Symbols int
	Records int
	Files   []string
}

// Exporter copies persisted history to files
type Exporter struct {
	cfg    Config
	source Source
	log    *logrus.Entry
}

// New creates an exporter.
func New(cfg Config, source Source, log *logrus.Entry) (*Exporter, error) {
	switch cfg.Format {
	case FormatParquet, FormatCSV:
	default:
		return nil, fmt.Errorf("unsupported export format %q", cfg.Format)
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	return &Exporter{cfg: cfg, source: source, log: log}, nil
}

// Export writes the records of symbols between from and to. An empty symbol
// list exports every persisted symbol.
func (e *Exporter) Export(ctx context.Context, symbols []string, from, to time.Time) (Result, error) {
	var res Result

	if len(symbols) == 0 {
		var err error
		if symbols, err = e.source.Symbols(ctx); err != nil {
			return res, fmt.Errorf("list symbols: %w", err)
		}
	}

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		records, err := e.source.Records(ctx, symbol, from, to)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", symbol, err)
		}
		if len(records) == 0 {
			e.log.WithField("symbol", symbol).Debug("No records to export")
			continue
		}

		var files []string
		switch e.cfg.Format {
		case FormatParquet:
			files, err = writeParquetPartitions(e.cfg.Dir, symbol, records)
		case FormatCSV:
			var file string
			file, err = writeCSV(e.cfg.Dir, symbol, records)
			files = []string{file}
		}
		if err != nil {
			return res, fmt.Errorf("export %s: %w", symbol, err)
		}

		res.Symbols++
		res.Records += len(records)
		res.Files = append(res.Files, files...)
		e.log.WithFields(logrus.Fields{
			"symbol":  symbol,
			"records": len(records),
			"files":   len(files),
		}).Info("Exported symbol")
	}
	return res, nil
}
