package fetcher

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sabarim/stockharvest/internal/historical"
)

// rowDateLayout is the date format used by the source, e.g. 7/15/2023 or 07/15/2023.
const rowDateLayout = "1/2/2006"

var columns = []string{
	"date",
	"last_trade_price",
	"max_price",
	"min_price",
	"avg_price",
	"change_percentage",
	"volume",
	"turnover_best",
	"total_turnover",
}

var errShortRow = errors.New("not enough cells")

// ToRecord converts one table row into a record for symbol.
func ToRecord(symbol string, index int, row Row) (historical.Record, error) {
	if len(row) < len(columns) {
		return historical.Record{}, &RowError{Index: index, Err: errShortRow}
	}

	date, err := time.Parse(rowDateLayout, strings.TrimSpace(row[0]))
	if err != nil {
		return historical.Record{}, &RowError{Index: index, Column: columns[0], Value: row[0], Err: err}
	}

	nums := make([]float64, len(columns)-1)
	for i := range nums {
		v, err := parseNumber(row[i+1])
		if err != nil {
			return historical.Record{}, &RowError{Index: index, Column: columns[i+1], Value: row[i+1], Err: err}
		}
		nums[i] = v
	}

	return historical.Record{
		Symbol:           symbol,
		Date:             historical.Day(date),
		LastTradePrice:   nums[0],
		MaxPrice:         nums[1],
		MinPrice:         nums[2],
		AvgPrice:         nums[3],
		ChangePercentage: nums[4],
		Volume:           int64(nums[5]),
		TurnoverBest:     nums[6],
		TotalTurnover:    nums[7],
	}, nil
}

// parseNumber accepts thousands separators and a trailing percent sign. Blank cells read as zero.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
