package export

import "github.com/sabarim/stockharvest/internal/historical"

// DataPoint is the parquet row of one persisted record
type DataPoint struct {
	Symbol           string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Timestamp        int64   `parquet:"name=timestamp, type=INT64, encoding=DELTA_BINARY_PACKED"`
	Date             string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Year             int32   `parquet:"name=year, type=INT32, encoding=PLAIN_DICTIONARY"`
	Month            int32   `parquet:"name=month, type=INT32, encoding=PLAIN_DICTIONARY"`
	Day              int32   `parquet:"name=day, type=INT32, encoding=PLAIN_DICTIONARY"`
	LastTradePrice   float64 `parquet:"name=last_trade_price, type=DOUBLE, encoding=PLAIN"`
	MaxPrice         float64 `parquet:"name=max_price, type=DOUBLE, encoding=PLAIN"`
	MinPrice         float64 `parquet:"name=min_price, type=DOUBLE, encoding=PLAIN"`
	AvgPrice         float64 `parquet:"name=avg_price, type=DOUBLE, encoding=PLAIN"`
	ChangePercentage float64 `parquet:"name=change_percentage, type=DOUBLE, encoding=PLAIN"`
	Volume           int64   `parquet:"name=volume, type=INT64, encoding=DELTA_BINARY_PACKED"`
	TurnoverBest     float64 `parquet:"name=turnover_best, type=DOUBLE, encoding=PLAIN"`
	TotalTurnover    float64 `parquet:"name=total_turnover, type=DOUBLE, encoding=PLAIN"`
}

func toDataPoint(r historical.Record) DataPoint {
	return DataPoint{
		Symbol:           r.Symbol,
		Timestamp:        r.Date.Unix(),
		Date:             r.Date.Format(historical.DateLayout),
		Year:             int32(r.Date.Year()),
		Month:            int32(r.Date.Month()),
		Day:              int32(r.Date.Day()),
		LastTradePrice:   r.LastTradePrice,
		MaxPrice:         r.MaxPrice,
		MinPrice:         r.MinPrice,
		AvgPrice:         r.AvgPrice,
		ChangePercentage: r.ChangePercentage,
		Volume:           r.Volume,
		TurnoverBest:     r.TurnoverBest,
		TotalTurnover:    r.TotalTurnover,
	}
}
