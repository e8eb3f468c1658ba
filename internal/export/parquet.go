package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/sabarim/stockharvest/internal/historical"
)

// writeParquet writes records to a single gzip compressed parquet file
func writeParquet(filename string, records []historical.Record) error {
	fw, err := local.NewLocalFileWriter(filename)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(DataPoint), 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	pw.CompressionType = parquet.CompressionCodec_GZIP
	// daily rows are small, so one row group per monthly file is the norm
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024

	for _, r := range records {
		if err := pw.Write(toDataPoint(r)); err != nil {
			return fmt.Errorf("failed to write parquet data: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// writeParquetPartitions groups records of one symbol by month and writes
// {dir}/{symbol}/{symbol}_{YYYY-MM}.parquet for each group.
func writeParquetPartitions(dir, symbol string, records []historical.Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	byMonth := make(map[string][]historical.Record)
	for _, r := range records {
		ym := r.Date.Format("2006-01")
		byMonth[ym] = append(byMonth[ym], r)
	}

	months := make([]string, 0, len(byMonth))
	for ym := range byMonth {
		months = append(months, ym)
	}
	sort.Strings(months)

	symbolDir := filepath.Join(dir, symbol)
	if err := os.MkdirAll(symbolDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory structure: %w", err)
	}

	files := make([]string, 0, len(months))
	for _, ym := range months {
		filename := filepath.Join(symbolDir, fmt.Sprintf("%s_%s.parquet", symbol, ym))
		if err := writeParquet(filename, byMonth[ym]); err != nil {
			return files, fmt.Errorf("failed to write %s: %w", filename, err)
		}
		files = append(files, filename)
	}
	return files, nil
}
