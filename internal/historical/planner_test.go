package historical

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLastDater struct {
	last time.Time
	ok   bool
	err  error
}

func (f fakeLastDater) LastDate(context.Context, string) (time.Time, bool, error) {
	return f.last, f.ok, f.err
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPlanFreshSymbol(t *testing.T) {
	today := date(2024, 1, 10)
	p := NewPlanner(fakeLastDater{}, 365, 10).WithClock(fixedClock(today.Add(15 * time.Hour)))

	chunks, err := p.Plan(context.Background(), "ALK")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 11 {
		t.Fatalf("expected 11 chunks, got %d", len(chunks))
	}
	if !chunks[0].Start.Equal(date(2014, 1, 10)) {
		t.Errorf("expected first chunk to start on 2014-01-10, got %s", chunks[0].Start)
	}
	if last := chunks[len(chunks)-1]; !last.End.Equal(today) {
		t.Errorf("expected last chunk to end on today, got %s", last.End)
	}
	assertContiguous(t, chunks, 365)
}

func TestPlanIncremental(t *testing.T) {
	today := date(2024, 1, 10)
	p := NewPlanner(fakeLastDater{last: date(2024, 1, 5), ok: true}, 365, 10).WithClock(fixedClock(today))

	chunks, err := p.Plan(context.Background(), "ALK")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
	if !chunks[0].Start.Equal(date(2024, 1, 6)) || !chunks[0].End.Equal(today) {
		t.Errorf("unexpected chunk %s", chunks[0])
	}
}

func TestPlanNoNewData(t *testing.T) {
	today := date(2024, 1, 10)
	for _, last := range []time.Time{date(2024, 1, 9), today, date(2024, 2, 1)} {
		p := NewPlanner(fakeLastDater{last: last, ok: true}, 365, 10).WithClock(fixedClock(today))
		chunks, err := p.Plan(context.Background(), "ALK")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(chunks) != 0 {
			t.Errorf("last=%s: expected no chunks, got %d", last.Format(DateLayout), len(chunks))
		}
	}
}

func TestPlanStoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	p := NewPlanner(fakeLastDater{err: boom}, 365, 10)

	_, err := p.Plan(context.Background(), "ALK")
	var planErr *PlanError
	if !errors.As(err, &planErr) || planErr.Symbol != "ALK" {
		t.Fatalf("expected *PlanError for ALK, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}

func TestChunksCoverage(t *testing.T) {
	tests := []struct {
		name    string
		start   time.Time
		today   time.Time
		maxDays int
		want    int
	}{
		{"two days", date(2024, 1, 9), date(2024, 1, 10), 365, 1},
		{"exact multiple", date(2024, 1, 1), date(2024, 1, 20), 10, 2},
		{"one day over", date(2024, 1, 1), date(2024, 1, 21), 10, 3},
		{"single day chunks", date(2024, 1, 1), date(2024, 1, 5), 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunks("ALK", tt.start, tt.today, tt.maxDays)
			if len(chunks) != tt.want {
				t.Fatalf("expected %d chunks, got %d", tt.want, len(chunks))
			}
			if !chunks[0].Start.Equal(tt.start) || !chunks[len(chunks)-1].End.Equal(tt.today) {
				t.Errorf("chunks do not cover %s..%s", tt.start, tt.today)
			}
			assertContiguous(t, chunks, tt.maxDays)
		})
	}
}

func TestDedupeLastWins(t *testing.T) {
	records := []Record{
		{Symbol: "ALK", Date: date(2024, 1, 1), LastTradePrice: 1},
		{Symbol: "ALK", Date: date(2024, 1, 2), LastTradePrice: 2},
		{Symbol: "ALK", Date: date(2024, 1, 1), LastTradePrice: 3},
		{Symbol: "KMB", Date: date(2024, 1, 1), LastTradePrice: 4},
	}
	out := Dedupe(records)
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if out[0].LastTradePrice != 3 {
		t.Errorf("expected later value to win, got %v", out[0].LastTradePrice)
	}
}

func assertContiguous(t *testing.T, chunks []DateChunk, maxDays int) {
	t.Helper()
	for i, c := range chunks {
		if c.Start.After(c.End) {
			t.Errorf("chunk %d starts after it ends: %s", i, c)
		}
		if c.Days() > maxDays {
			t.Errorf("chunk %d spans %d days, more than %d", i, c.Days(), maxDays)
		}
		if i > 0 && !c.Start.Equal(NextDay(chunks[i-1].End)) {
			t.Errorf("chunk %d does not start the day after chunk %d ends", i, i-1)
		}
	}
}
