package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/historical"
	"github.com/sabarim/stockharvest/internal/metrics"
	"github.com/sabarim/stockharvest/internal/retry"
)

// queryDateLayout is the MM/DD/YYYY format expected by fromDate and toDate.
const queryDateLayout = "01/02/2006"

// Config defines how the source is reached
type Config struct {
	BaseURL        string
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Retry          retry.Policy
}

// Fetcher downloads and converts the records of one chunk
type Fetcher struct {
	cfg     Config
	client  *http.Client
	parser  Parser
	metrics *metrics.Recorder
	log     *logrus.Entry
}

// New creates a fetcher. A nil parser falls back to TableParser.
func New(cfg Config, parser Parser, rec *metrics.Recorder, log *logrus.Entry) *Fetcher {
	if parser == nil {
		parser = TableParser{}
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Transport: transport},
		parser:  parser,
		metrics: rec,
		log:     log,
	}
}

// Fetch returns the records of chunk. Non-retryable outcomes yield an empty
// result and no error; exhausted retries yield an empty result and a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, chunk historical.DateChunk) ([]historical.Record, error) {
	log := f.log.WithFields(logrus.Fields{
		"symbol":      chunk.Symbol,
		"chunk_start": chunk.Start.Format(historical.DateLayout),
		"chunk_end":   chunk.End.Format(historical.DateLayout),
	})

	attempts := 0
	var body []byte
	err := retry.Do(ctx, f.cfg.Retry, func(attempt int) error {
		attempts = attempt + 1
		start := time.Now()
		b, err := f.get(ctx, chunk)
		f.metrics.Observe(metrics.NetworkRequests, "fetch_chunk", time.Since(start), err == nil)
		if err != nil {
			return err
		}
		body = b
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		log.WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).WithError(err).Warn("Request failed, retrying")
	})

	if err != nil {
		var status *StatusError
		if errors.As(err, &status) && !status.Retryable() {
			log.WithError(err).Warn("Source rejected request, skipping chunk")
			return nil, nil
		}
		return nil, &FetchError{Chunk: chunk, Attempts: attempts, Err: err}
	}

	rows, err := f.parser.Parse(body)
	if err != nil {
		if errors.Is(err, ErrNoTable) {
			log.Info("No data table for chunk")
		} else {
			log.WithError(err).Warn("Malformed response, skipping chunk")
		}
		return nil, nil
	}

	records := make([]historical.Record, 0, len(rows))
	for i, row := range rows {
		rec, err := ToRecord(chunk.Symbol, i, row)
		if err != nil {
			log.WithError(err).Debug("Skipping malformed row")
			continue
		}
		records = append(records, rec)
	}

	log.WithFields(logrus.Fields{"rows": len(rows), "records": len(records)}).Debug("Chunk fetched")
	return records, nil
}

// URL returns the request URL for chunk.
func (f *Fetcher) URL(chunk historical.DateChunk) string {
	q := url.Values{}
	q.Set("fromDate", chunk.Start.Format(queryDateLayout))
	q.Set("toDate", chunk.End.Format(queryDateLayout))
	return fmt.Sprintf("%s/%s?%s", strings.TrimRight(f.cfg.BaseURL, "/"), url.PathEscape(chunk.Symbol), q.Encode())
}

func (f *Fetcher) get(ctx context.Context, chunk historical.DateChunk) ([]byte, error) {
	if f.cfg.ConnectTimeout+f.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.ConnectTimeout+f.cfg.ReadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(chunk), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		status := &StatusError{Code: resp.StatusCode}
		if status.Retryable() {
			return nil, status
		}
		return nil, retry.Permanent(status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
