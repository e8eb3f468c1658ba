package writer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/historical"
	"github.com/sabarim/stockharvest/internal/metrics"
	"github.com/sabarim/stockharvest/internal/retry"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("writer closed")

// Upserter is the persistence side of the writer.
type Upserter interface {
	UpsertBatch(ctx context.Context, records []historical.Record) error
}

// Config holds the writer settings
type Config struct {
	FlushSize     int
	QueueCapacity int
	IdleTimeout   time.Duration
	Retry         retry.Policy
}

// Stats counts records by outcome. Enqueued always equals Written + Dropped + Pending.
type Stats struct {
	Enqueued      int64 `json:"enqueued"`
	Written       int64 `json:"written"`
	Dropped       int64 `json:"dropped"`
	Pending       int64 `json:"pending"`
	Flushes       int64 `json:"flushes"`
	FailedFlushes int64 `json:"failed_flushes"`
}

// Writer is the single consumer that coalesces queued batches and upserts them
type Writer struct {
	cfg     Config
	store   Upserter
	metrics *metrics.Recorder
	log     *logrus.Entry

	queue chan []historical.Record
	done  chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool

	enqueued      atomic.Int64
	written       atomic.Int64
	dropped       atomic.Int64
	flushes       atomic.Int64
	failedFlushes atomic.Int64
}

// New creates a writer. Start must be called before records are enqueued.
func New(cfg Config, store Upserter, rec *metrics.Recorder, log *logrus.Entry) *Writer {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 5000
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Second
	}
	return &Writer{
		cfg:     cfg,
		store:   store,
		metrics: rec,
		log:     log,
		queue:   make(chan []historical.Record, cfg.QueueCapacity),
		done:    make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Flushes run on a context detached from
// ctx cancellation so that buffered records are still persisted during shutdown.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errors.New("writer already started")
	}
	if w.closed {
		return ErrClosed
	}
	w.started = true

	go w.run(context.WithoutCancel(ctx))
	w.log.WithFields(logrus.Fields{
		"flush_size":     w.cfg.FlushSize,
		"queue_capacity": w.cfg.QueueCapacity,
	}).Info("Batch writer started")
	return nil
}

// Enqueue hands a batch to the writer. It blocks while the queue is full and
// fails only when ctx is done or the writer is closed.
func (w *Writer) Enqueue(ctx context.Context, batch []historical.Record) error {
	if len(batch) == 0 {
		return nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrClosed
	}
	select {
	case w.queue <- batch:
		w.enqueued.Add(int64(len(batch)))
		w.metrics.SetQueueDepth(len(w.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting batches, waits for the queue to drain and returns the
// final counters. When ctx expires first the drain continues in the background
// and the returned stats report what is still pending.
func (w *Writer) Close(ctx context.Context) (Stats, error) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	started := w.started
	w.mu.Unlock()

	if !started {
		return w.Stats(), nil
	}

	select {
	case <-w.done:
		return w.Stats(), nil
	case <-ctx.Done():
		stats := w.Stats()
		w.log.WithField("pending", stats.Pending).Error("Writer drain timed out")
		return stats, fmt.Errorf("drain writer: %w", ctx.Err())
	}
}

// Stats returns the current counters.
func (w *Writer) Stats() Stats {
	s := Stats{
		Enqueued:      w.enqueued.Load(),
		Written:       w.written.Load(),
		Dropped:       w.dropped.Load(),
		Flushes:       w.flushes.Load(),
		FailedFlushes: w.failedFlushes.Load(),
	}
	s.Pending = s.Enqueued - s.Written - s.Dropped
	return s
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	idle := time.NewTicker(w.cfg.IdleTimeout)
	defer idle.Stop()

	var buf []historical.Record
	lastActivity := time.Now()

	for {
		select {
		case batch, ok := <-w.queue:
			if !ok {
				for len(buf) > 0 {
					buf = w.flushHead(ctx, buf)
				}
				w.log.WithFields(w.statsFields()).Info("Batch writer drained")
				return
			}
			w.metrics.SetQueueDepth(len(w.queue))
			lastActivity = time.Now()
			buf = append(buf, batch...)

			for len(buf) >= w.cfg.FlushSize {
				buf = w.flushHead(ctx, buf)
			}
			// queue observed empty: flush what is pending instead of waiting for more
			if len(buf) > 0 && len(w.queue) == 0 {
				buf = w.flushHead(ctx, buf)
			}

		case <-idle.C:
			if len(buf) > 0 && time.Since(lastActivity) >= w.cfg.IdleTimeout {
				buf = w.flushHead(ctx, buf)
			}
		}
	}
}

// flushHead flushes at most FlushSize records from the front of buf and returns the rest.
func (w *Writer) flushHead(ctx context.Context, buf []historical.Record) []historical.Record {
	n := len(buf)
	if n > w.cfg.FlushSize {
		n = w.cfg.FlushSize
	}
	w.flush(ctx, buf[:n])

	rest := buf[n:]
	if len(rest) == 0 {
		return nil
	}
	return rest
}

func (w *Writer) flush(ctx context.Context, records []historical.Record) {
	batch := historical.Dedupe(records)

	err := retry.Do(ctx, w.cfg.Retry, func(attempt int) error {
		return w.metrics.Time(metrics.DatabaseOperations, "upsert_batch", func() error {
			return w.store.UpsertBatch(ctx, batch)
		})
	}, func(err error, attempt int, wait time.Duration) {
		w.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"records": len(batch),
			"wait":    wait,
		}).WithError(err).Warn("Flush failed, retrying")
	})

	w.flushes.Add(1)
	if err != nil {
		w.failedFlushes.Add(1)
		w.dropped.Add(int64(len(records)))
		w.metrics.AddRecords("dropped", len(records))
		w.log.WithFields(logrus.Fields{
			"records": len(records),
			"symbols": symbolsOf(records),
		}).WithError(err).Error("batch dropped")
		return
	}

	w.written.Add(int64(len(records)))
	w.metrics.AddRecords("written", len(records))
	w.metrics.ObserveBatch(len(batch))
	w.log.WithFields(logrus.Fields{
		"records": len(records),
		"unique":  len(batch),
	}).Debug("Batch flushed")
}

func (w *Writer) statsFields() logrus.Fields {
	s := w.Stats()
	return logrus.Fields{
		"enqueued":       s.Enqueued,
		"written":        s.Written,
		"dropped":        s.Dropped,
		"flushes":        s.Flushes,
		"failed_flushes": s.FailedFlushes,
	}
}

func symbolsOf(records []historical.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		if _, ok := seen[r.Symbol]; !ok {
			seen[r.Symbol] = struct{}{}
			out = append(out, r.Symbol)
		}
	}
	sort.Strings(out)
	return out
}
