package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sabarim/stockharvest/internal/historical"
)

var csvHeader = []string{
	"symbol", "date", "last_trade_price", "max_price", "min_price", "avg_price",
	"change_percentage", "volume", "turnover_best", "total_turnover",
}

// writeCSV writes {dir}/{symbol}/{symbol}_historical.csv
func writeCSV(dir, symbol string, records []historical.Record) (string, error) {
	symbolDir := filepath.Join(dir, symbol)
	if err := os.MkdirAll(symbolDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := filepath.Join(symbolDir, fmt.Sprintf("%s_historical.csv", symbol))
	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.Symbol,
			r.Date.Format(historical.DateLayout),
			formatFloat(r.LastTradePrice),
			formatFloat(r.MaxPrice),
			formatFloat(r.MinPrice),
			formatFloat(r.AvgPrice),
			formatFloat(r.ChangePercentage),
			strconv.FormatInt(r.Volume, 10),
			formatFloat(r.TurnoverBest),
			formatFloat(r.TotalTurnover),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write data: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return filename, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
