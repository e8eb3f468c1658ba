package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the limiter settings
type Config struct {
	// MinInterval is the minimum spacing between two requests for the same symbol.
	MinInterval time.Duration
	// AdmissionLimit caps requests in flight across all symbols. Zero disables the gate.
	AdmissionLimit int64
	// RequestRate caps issued requests per second across all symbols. Zero disables it.
	RequestRate float64
}

// Ticket is the admission granted to one request. Release must be called once the request completes.
type Ticket struct {
	Symbol   string
	IssuedAt time.Time

	once    sync.Once
	release func()
}

// Release returns the admission permit. Calling it more than once is a no-op.
func (t *Ticket) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

type slot struct {
	mu     sync.Mutex
	last   time.Time
	issued bool
}

// Limiter spaces requests per symbol and bounds global admission
type Limiter struct {
	interval time.Duration
	gate     *semaphore.Weighted
	bucket   *rate.Limiter
	log      *logrus.Entry

	mu    sync.Mutex
	slots map[string]*slot

	now func() time.Time
}

// New creates a limiter from cfg.
func New(cfg Config, log *logrus.Entry) *Limiter {
	l := &Limiter{
		interval: cfg.MinInterval,
		slots:    make(map[string]*slot),
		log:      log,
		now:      time.Now,
	}
	if cfg.AdmissionLimit > 0 {
		l.gate = semaphore.NewWeighted(cfg.AdmissionLimit)
	}
	if cfg.RequestRate > 0 {
		burst := int(cfg.RequestRate)
		if burst < 1 {
			burst = 1
		}
		l.bucket = rate.NewLimiter(rate.Limit(cfg.RequestRate), burst)
	}
	return l
}

func (l *Limiter) slotFor(symbol string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[symbol]
	if !ok {
		s = &slot{}
		l.slots[symbol] = s
	}
	return s
}

// Admit blocks until a request for symbol may be issued. Requests for the same
// symbol are serialised so that issuance instants are at least MinInterval apart.
func (l *Limiter) Admit(ctx context.Context, symbol string) (*Ticket, error) {
	s := l.slotFor(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.issued {
		if wait := s.last.Add(l.interval).Sub(l.now()); wait > 0 {
			if l.log != nil {
				l.log.WithFields(logrus.Fields{"symbol": symbol, "wait": wait}).Debug("Spacing request")
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	release := func() {}
	if l.gate != nil {
		if err := l.gate.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		release = func() { l.gate.Release(1) }
	}

	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}

	issued := l.now()
	s.last = issued
	s.issued = true

	return &Ticket{Symbol: symbol, IssuedAt: issued, release: release}, nil
}
