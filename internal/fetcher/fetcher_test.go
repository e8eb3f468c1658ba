package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/historical"
	"github.com/sabarim/stockharvest/internal/metrics"
	"github.com/sabarim/stockharvest/internal/retry"
)

const historyPage = `<html><body>
<table id="resultsTable">
  <thead><tr><th>Date</th><th>Last trade price</th><th>Max</th><th>Min</th><th>Avg. Price</th><th>%chg.</th><th>Volume</th><th>Turnover in BEST in denars</th><th>Total turnover in denars</th></tr></thead>
  <tbody>
    <tr><td>1/9/2024</td><td>21,500.00</td><td>21,600.00</td><td>21,400.00</td><td>21,512.34</td><td>0.47%</td><td>120</td><td>2,581,480.00</td><td>2,581,480.00</td></tr>
    <tr><td>not a date</td><td>1</td><td>1</td><td>1</td><td>1</td><td>1</td><td>1</td><td>1</td><td>1</td></tr>
    <tr><td>1/8/2024</td><td>21,400.00</td><td></td><td></td><td>21,400.00</td><td>-0.12</td><td>15</td><td>321,000.00</td><td>321,000.00</td></tr>
  </tbody>
</table>
</body></html>`

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testChunk() historical.DateChunk {
	return historical.DateChunk{
		Symbol: "ALK",
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

func newTestFetcher(url string, attempts int, rec *metrics.Recorder) *Fetcher {
	return New(Config{
		BaseURL:        url,
		UserAgent:      "stockharvest-test",
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		Retry:          retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Multiplier: 2},
	}, nil, rec, testLogger())
}

func TestFetchParsesRecords(t *testing.T) {
	var gotPath, gotFrom, gotTo, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFrom = r.URL.Query().Get("fromDate")
		gotTo = r.URL.Query().Get("toDate")
		gotUA = r.UserAgent()
		io.WriteString(w, historyPage)
	}))
	defer srv.Close()

	records, err := newTestFetcher(srv.URL, 3, nil).Fetch(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/ALK" {
		t.Errorf("expected path /ALK, got %s", gotPath)
	}
	if gotFrom != "01/01/2024" || gotTo != "01/10/2024" {
		t.Errorf("unexpected date params %s..%s", gotFrom, gotTo)
	}
	if gotUA != "stockharvest-test" {
		t.Errorf("unexpected user agent %q", gotUA)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records (malformed row skipped), got %d", len(records))
	}
	first := records[0]
	if !first.Date.Equal(time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected date %v", first.Date)
	}
	if first.LastTradePrice != 21500 || first.ChangePercentage != 0.47 || first.Volume != 120 {
		t.Errorf("unexpected values %+v", first)
	}
	if records[1].MaxPrice != 0 || records[1].ChangePercentage != -0.12 {
		t.Errorf("blank cells should read as zero: %+v", records[1])
	}
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, historyPage)
	}))
	defer srv.Close()

	rec := metrics.NewRecorder()
	records, err := newTestFetcher(srv.URL, 5, rec).Fetch(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if s := rec.Summary()[metrics.NetworkRequests]; s.Total != 3 || s.Successful != 1 {
		t.Errorf("expected every attempt to be observed, got %+v", s)
	}
}

func TestFetchExhaustedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	records, err := newTestFetcher(srv.URL, 3, nil).Fetch(context.Background(), testChunk())
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fetchErr.Attempts != 3 || calls != 3 {
		t.Errorf("expected 3 attempts, got %d (calls %d)", fetchErr.Attempts, calls)
	}
	var status *StatusError
	if !errors.As(err, &status) || status.Code != http.StatusBadGateway {
		t.Errorf("expected wrapped 502 status, got %v", err)
	}
}

func TestFetchNonRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	records, err := newTestFetcher(srv.URL, 5, nil).Fetch(context.Background(), testChunk())
	if err != nil || len(records) != 0 {
		t.Fatalf("expected empty result without error, got %d records, %v", len(records), err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestFetchNoTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html><body><p>No data</p></body></html>")
	}))
	defer srv.Close()

	records, err := newTestFetcher(srv.URL, 3, nil).Fetch(context.Background(), testChunk())
	if err != nil || len(records) != 0 {
		t.Fatalf("expected empty result without error, got %d records, %v", len(records), err)
	}
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Config{
		BaseURL: srv.URL,
		Retry:   retry.Policy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2},
	}, nil, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, testChunk())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestURL(t *testing.T) {
	f := New(Config{BaseURL: "https://www.mse.mk/en/stats/symbolhistory/"}, nil, nil, testLogger())
	got := f.URL(testChunk())
	want := "https://www.mse.mk/en/stats/symbolhistory/ALK?fromDate=01%2F01%2F2024&toDate=01%2F10%2F2024"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
