package historical

import (
	"fmt"
	"time"
)

// DateLayout is the canonical layout used for days in logs and exports.
const DateLayout = "2006-01-02"

// Record represents a single trading day of one symbol
type Record struct {
	Symbol           string
	Date             time.Time
	LastTradePrice   float64
	MaxPrice         float64
	MinPrice         float64
	AvgPrice         float64
	ChangePercentage float64
	Volume           int64
	TurnoverBest     float64
	TotalTurnover    float64
}

// Key returns the natural key of the record.
func (r Record) Key() Key {
	return Key{Symbol: r.Symbol, Date: Day(r.Date)}
}

// Key identifies a record in persistence.
type Key struct {
	Symbol string
	Date   time.Time
}

// DateChunk is a bounded, inclusive date range fetched as one request
type DateChunk struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

// Days returns the number of calendar days covered by the chunk, both ends included.
func (c DateChunk) Days() int {
	return int(Day(c.End).Sub(Day(c.Start)).Hours()/24) + 1
}

func (c DateChunk) String() string {
	return fmt.Sprintf("%s[%s..%s]", c.Symbol, c.Start.Format(DateLayout), c.End.Format(DateLayout))
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextDay returns the day after t.
func NextDay(t time.Time) time.Time {
	return Day(t).AddDate(0, 0, 1)
}

// Dedupe collapses records sharing a key. The last value wins and keys keep
// the position of their first occurrence.
func Dedupe(records []Record) []Record {
	index := make(map[Key]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
