package pipeline

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the terminal state of one symbol within a run
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// RunSummary describes a completed run. Skipped symbols also count as succeeded.
type RunSummary struct {
	RunID            string         `json:"run_id"`
	StartedAt        time.Time      `json:"started_at"`
	Duration         time.Duration  `json:"duration"`
	SymbolsTotal     int            `json:"symbols_total"`
	SymbolsSucceeded int            `json:"symbols_succeeded"`
	SymbolsSkipped   int            `json:"symbols_skipped"`
	SymbolsFailed    []string       `json:"symbols_failed"`
	RecordsTotal     int64          `json:"records_total"`
	RecordsWritten   int64          `json:"records_written"`
	RecordsDropped   int64          `json:"records_dropped"`
	RecordsPending   int64          `json:"records_pending"`
	ChunksTotal      int            `json:"chunks_total"`
	ChunksFailed     int            `json:"chunks_failed"`
	PerSymbol        map[string]int `json:"per_symbol"`
	Cancelled        bool           `json:"cancelled"`
}

// RecordsPerSecond is the throughput of records handed to the writer.
func (s RunSummary) RecordsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.RecordsTotal) / s.Duration.Seconds()
}

type symbolResult struct {
	symbol       string
	status       Status
	records      int
	chunks       int
	chunksFailed int
	err          error
}

type summaryBuilder struct {
	s RunSummary
}

func newSummaryBuilder(runID string, started time.Time, total int) *summaryBuilder {
	return &summaryBuilder{s: RunSummary{
		RunID:        runID,
		StartedAt:    started,
		SymbolsTotal: total,
		PerSymbol:    make(map[string]int, total),
	}}
}

func (b *summaryBuilder) add(r symbolResult) {
	b.s.ChunksTotal += r.chunks
	b.s.ChunksFailed += r.chunksFailed
	b.s.PerSymbol[r.symbol] = r.records
	b.s.RecordsTotal += int64(r.records)

	switch r.status {
	case StatusFailed:
		b.s.SymbolsFailed = append(b.s.SymbolsFailed, r.symbol)
	case StatusSkipped:
		b.s.SymbolsSkipped++
		b.s.SymbolsSucceeded++
	default:
		b.s.SymbolsSucceeded++
	}
}

func (b *summaryBuilder) build() RunSummary {
	sort.Strings(b.s.SymbolsFailed)
	if b.s.SymbolsFailed == nil {
		b.s.SymbolsFailed = []string{}
	}
	return b.s
}

func (s RunSummary) log(log *logrus.Entry) {
	log.WithFields(logrus.Fields{
		"duration":          s.Duration.Round(time.Millisecond),
		"symbols_total":     s.SymbolsTotal,
		"symbols_succeeded": s.SymbolsSucceeded,
		"symbols_skipped":   s.SymbolsSkipped,
		"symbols_failed":    len(s.SymbolsFailed),
		"records_total":     s.RecordsTotal,
		"records_written":   s.RecordsWritten,
		"records_dropped":   s.RecordsDropped,
		"chunks_failed":     s.ChunksFailed,
		"records_per_sec":   s.RecordsPerSecond(),
	}).Info("Pipeline execution summary")

	if len(s.SymbolsFailed) > 0 {
		log.WithField("symbols", s.SymbolsFailed).Warn("Failed symbols")
	}
}
