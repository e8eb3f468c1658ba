package historical

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultLookbackYears is the horizon used for symbols that have nothing persisted yet.
	DefaultLookbackYears = 10
	// DefaultMaxChunkDays is the widest range requested from the source in one call.
	DefaultMaxChunkDays = 365
)

// LastDater reports the most recent persisted day for a symbol.
type LastDater interface {
	LastDate(ctx context.Context, symbol string) (time.Time, bool, error)
}

// PlanError is returned when the persisted state of a symbol cannot be read.
type PlanError struct {
	Symbol string
	Err    error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan %s: %v", e.Symbol, e.Err)
}

func (e *PlanError) Unwrap() error { return e.Err }

// Planner computes the date chunks still missing for a symbol
type Planner struct {
	store         LastDater
	maxChunkDays  int
	lookbackYears int
	now           func() time.Time
}

// NewPlanner creates a planner backed by store. Non-positive limits fall back to the defaults.
func NewPlanner(store LastDater, maxChunkDays, lookbackYears int) *Planner {
	if maxChunkDays <= 0 {
		maxChunkDays = DefaultMaxChunkDays
	}
	if lookbackYears <= 0 {
		lookbackYears = DefaultLookbackYears
	}
	return &Planner{
		store:         store,
		maxChunkDays:  maxChunkDays,
		lookbackYears: lookbackYears,
		now:           time.Now,
	}
}

// WithClock replaces the clock used to determine today.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

// Plan returns the ordered chunks needed to bring symbol up to today.
// An empty result means nothing new is needed.
func (p *Planner) Plan(ctx context.Context, symbol string) ([]DateChunk, error) {
	today := Day(p.now().UTC())

	last, ok, err := p.store.LastDate(ctx, symbol)
	if err != nil {
		return nil, &PlanError{Symbol: symbol, Err: err}
	}

	start := today.AddDate(-p.lookbackYears, 0, 0)
	if ok {
		start = NextDay(last)
	}

	return Chunks(symbol, start, today, p.maxChunkDays), nil
}

// Chunks partitions the days start..today into contiguous chunks spanning at most
// maxDays calendar days each. The last chunk always ends on today.
func Chunks(symbol string, start, today time.Time, maxDays int) []DateChunk {
	start, today = Day(start), Day(today)
	if !start.Before(today) {
		return nil
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxChunkDays
	}

	var chunks []DateChunk
	for chunkStart := start; !chunkStart.After(today); {
		chunkEnd := chunkStart.AddDate(0, 0, maxDays-1)
		if chunkEnd.After(today) {
			chunkEnd = today
		}
		chunks = append(chunks, DateChunk{Symbol: symbol, Start: chunkStart, End: chunkEnd})
		chunkStart = NextDay(chunkEnd)
	}
	return chunks
}
