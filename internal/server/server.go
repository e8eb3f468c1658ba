package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/metrics"
	"github.com/sabarim/stockharvest/internal/pipeline"
)

// RunHistory tracks the run in progress and the last completed run
type RunHistory struct {
	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	last      *pipeline.RunSummary
	lastErr   string
}

// Begin marks a run as started.
func (h *RunHistory) Begin() {
	h.mu.Lock()
	h.running = true
	h.startedAt = time.Now()
	h.mu.Unlock()
}

// Finish records the outcome of the run in progress.
func (h *RunHistory) Finish(summary pipeline.RunSummary, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.lastErr = ""
	if err != nil {
		h.lastErr = err.Error()
		return
	}
	h.last = &summary
}

// Last returns the most recent completed run.
func (h *RunHistory) Last() (pipeline.RunSummary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return pipeline.RunSummary{}, false
	}
	return *h.last, true
}

type status struct {
	Status    string     `json:"status"`
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

func (h *RunHistory) status() status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := status{Status: "ok", Running: h.running, LastError: h.lastErr}
	if h.running {
		started := h.startedAt
		s.StartedAt = &started
	}
	return s
}

// Server exposes health, the last run summary and Prometheus metrics over HTTP
type Server struct {
	router  *gin.Engine
	http    *http.Server
	history *RunHistory
	metrics *metrics.Recorder
	log     *logrus.Entry
}

// New creates a status server listening on addr.
func New(addr string, history *RunHistory, rec *metrics.Recorder, log *logrus.Entry) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:  router,
		history: history,
		metrics: rec,
		log:     log,
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/runs/last", s.lastRun)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.history.status())
}

func (s *Server) lastRun(c *gin.Context) {
	summary, ok := s.history.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no completed run yet"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.WithField("addr", s.http.Addr).Info("Status server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Status server stopped")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
