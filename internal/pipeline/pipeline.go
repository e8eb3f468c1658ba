package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sabarim/stockharvest/internal/historical"
	"github.com/sabarim/stockharvest/internal/metrics"
	"github.com/sabarim/stockharvest/internal/ratelimit"
	"github.com/sabarim/stockharvest/internal/symbols"
	"github.com/sabarim/stockharvest/internal/writer"
)

// MaxSymbolWorkers is the absolute ceiling on symbols processed concurrently.
const MaxSymbolWorkers = 30

// DefaultSymbolWorkers returns min(2 x GOMAXPROCS, MaxSymbolWorkers).
func DefaultSymbolWorkers() int {
	return min(2*runtime.GOMAXPROCS(0), MaxSymbolWorkers)
}

// Planner computes missing chunks for a symbol.
type Planner interface {
	Plan(ctx context.Context, symbol string) ([]historical.DateChunk, error)
}

// Fetcher retrieves the records of one chunk.
type Fetcher interface {
	Fetch(ctx context.Context, chunk historical.DateChunk) ([]historical.Record, error)
}

// Limiter admits requests to the source.
type Limiter interface {
	Admit(ctx context.Context, symbol string) (*ratelimit.Ticket, error)
}

// Sink receives the records of each symbol.
type Sink interface {
	Start(ctx context.Context) error
	Enqueue(ctx context.Context, batch []historical.Record) error
	Close(ctx context.Context) (writer.Stats, error)
}

// Config holds the orchestration settings
type Config struct {
	MaxConcurrentSymbols         int
	MaxConcurrentChunksPerSymbol int
	EnqueueBatchSize             int
	LivenessWindow               time.Duration
	DrainTimeout                 time.Duration
}

// Deps are the collaborators of a pipeline
type Deps struct {
	Discoverer symbols.Discoverer
	Planner    Planner
	Limiter    Limiter
	Fetcher    Fetcher
	Sink       Sink
	Metrics    *metrics.Recorder
	Log        *logrus.Entry
}

// Pipeline runs one harvest across all discovered symbols
type Pipeline struct {
	cfg Config
	Deps
}

// New creates a pipeline, filling unset limits with defaults.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.MaxConcurrentSymbols <= 0 {
		cfg.MaxConcurrentSymbols = DefaultSymbolWorkers()
	}
	if cfg.MaxConcurrentSymbols > MaxSymbolWorkers {
		cfg.MaxConcurrentSymbols = MaxSymbolWorkers
	}
	if cfg.MaxConcurrentChunksPerSymbol <= 0 {
		cfg.MaxConcurrentChunksPerSymbol = 3
	}
	if cfg.EnqueueBatchSize <= 0 {
		cfg.EnqueueBatchSize = 2500
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Minute
	}
	return &Pipeline{cfg: cfg, Deps: deps}
}

// Run harvests every discovered symbol. Per-symbol and per-chunk failures are
// reported in the summary; an error is returned only when no work could start.
func (p *Pipeline) Run(ctx context.Context) (RunSummary, error) {
	runID := uuid.NewString()
	started := time.Now()
	log := p.Log.WithField("run_id", runID)

	log.Info("Starting pipeline, fetching symbols")
	syms, err := p.Discoverer.Discover(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("discover symbols: %w", err)
	}
	syms = symbols.Normalize(syms)

	if err := p.Sink.Start(ctx); err != nil {
		return RunSummary{}, fmt.Errorf("start writer: %w", err)
	}

	workers := min(p.cfg.MaxConcurrentSymbols, len(syms))
	log.WithFields(logrus.Fields{"symbols": len(syms), "workers": workers}).Info("Processing symbols")

	results := make(chan symbolResult, len(syms))
	if len(syms) > 0 {
		go func() {
			var g errgroup.Group
			g.SetLimit(workers)
			for _, symbol := range syms {
				g.Go(func() error {
					results <- p.processSymbol(ctx, log, symbol)
					return nil
				})
			}
			g.Wait()
		}()
	}

	b := newSummaryBuilder(runID, started, len(syms))
	liveness := time.NewTimer(p.cfg.LivenessWindow)
	defer liveness.Stop()

	for completed := 0; completed < len(syms); {
		select {
		case r := <-results:
			completed++
			b.add(r)
			entry := log.WithFields(logrus.Fields{
				"symbol":    r.symbol,
				"records":   r.records,
				"completed": completed,
				"total":     len(syms),
			})
			if r.status == StatusFailed {
				entry.WithError(r.err).Error("Symbol failed")
			} else {
				entry.Info("Symbol processed")
			}
		case <-liveness.C:
			log.WithFields(logrus.Fields{
				"window":    p.cfg.LivenessWindow,
				"completed": completed,
				"total":     len(syms),
			}).Warn("No results received within liveness window")
		}
		if !liveness.Stop() {
			select {
			case <-liveness.C:
			default:
			}
		}
		liveness.Reset(p.cfg.LivenessWindow)
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DrainTimeout)
	stats, err := p.Sink.Close(drainCtx)
	cancel()
	if err != nil {
		log.WithError(err).Error("Writer did not drain cleanly")
	}

	summary := b.build()
	summary.RecordsWritten = stats.Written
	summary.RecordsDropped = stats.Dropped
	summary.RecordsPending = stats.Pending
	summary.Duration = time.Since(started)
	summary.Cancelled = ctx.Err() != nil

	summary.log(log)
	p.Metrics.Observe(metrics.TotalExecution, "pipeline_run", summary.Duration, len(summary.SymbolsFailed) == 0)
	p.Metrics.RunFinished(summary.Duration, summary.SymbolsSucceeded, summary.SymbolsSkipped, len(summary.SymbolsFailed))
	p.Metrics.LogSummary(log)
	return summary, nil
}

// processSymbol never panics; a panic fails only this symbol.
func (p *Pipeline) processSymbol(ctx context.Context, runLog *logrus.Entry, symbol string) (res symbolResult) {
	log := runLog.WithField("symbol", symbol)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("Recovered panic: %v", r)
			res.symbol, res.status, res.err = symbol, StatusFailed, fmt.Errorf("panic: %v", r)
		}
		p.Metrics.Observe(metrics.SymbolProcessing, "process_symbol", time.Since(start), res.status != StatusFailed)
	}()

	res = symbolResult{symbol: symbol}

	if err := ctx.Err(); err != nil {
		res.status, res.err = StatusFailed, fmt.Errorf("cancelled before start: %w", err)
		return res
	}

	chunks, err := p.Planner.Plan(ctx, symbol)
	if err != nil {
		res.status, res.err = StatusFailed, err
		return res
	}
	if len(chunks) == 0 {
		log.Debug("No new data needed")
		res.status = StatusSkipped
		return res
	}
	res.chunks = len(chunks)
	log.WithField("chunks", len(chunks)).Debug("Fetching chunks")

	chunkRecords := make([][]historical.Record, len(chunks))
	chunkErrs := make([]error, len(chunks))

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrentChunksPerSymbol)
	for i, chunk := range chunks {
		g.Go(func() error {
			chunkRecords[i], chunkErrs[i] = p.fetchChunk(ctx, chunk)
			return nil
		})
	}
	g.Wait()

	var firstErr error
	total := 0
	for i, err := range chunkErrs {
		if err != nil {
			res.chunksFailed++
			if firstErr == nil {
				firstErr = err
			}
			log.WithFields(logrus.Fields{
				"chunk_start": chunks[i].Start.Format(historical.DateLayout),
				"chunk_end":   chunks[i].End.Format(historical.DateLayout),
			}).WithError(err).Warn("Chunk failed")
			continue
		}
		total += len(chunkRecords[i])
	}
	if res.chunksFailed == len(chunks) {
		res.status, res.err = StatusFailed, fmt.Errorf("all %d chunks failed: %w", len(chunks), firstErr)
		return res
	}

	// ascending chunk order makes the later chunk win on overlapping dates
	all := make([]historical.Record, 0, total)
	for _, recs := range chunkRecords {
		all = append(all, recs...)
	}

	for start := 0; start < len(all); start += p.cfg.EnqueueBatchSize {
		end := min(start+p.cfg.EnqueueBatchSize, len(all))
		if err := p.Sink.Enqueue(ctx, all[start:end]); err != nil {
			res.status, res.err = StatusFailed, fmt.Errorf("enqueue records: %w", err)
			return res
		}
		res.records = end
	}

	res.status = StatusSucceeded
	return res
}

func (p *Pipeline) fetchChunk(ctx context.Context, chunk historical.DateChunk) (records []historical.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic fetching %s: %v", chunk, r)
		}
	}()

	admitStart := time.Now()
	ticket, err := p.Limiter.Admit(ctx, chunk.Symbol)
	p.Metrics.Observe(metrics.RateLimiting, "admit", time.Since(admitStart), err == nil)
	if err != nil {
		return nil, fmt.Errorf("admit %s: %w", chunk, err)
	}
	defer ticket.Release()

	return p.Fetcher.Fetch(ctx, chunk)
}
