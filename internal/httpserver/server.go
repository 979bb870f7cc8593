// Package httpserver exposes persisted runs over a read-only JSON API.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/runmerge/internal/model"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = "127.0.0.1:3000"

// DefaultRowLimit applies when a rows request carries no limit.
const DefaultRowLimit = 500

// DefaultRateField is the merged-table column summarized by /api/rates.
const DefaultRateField = "ue_dl_brate"

// ErrNotFound is matched with errors.Is against store errors to map them
// to 404 responses. Stores signal a missing run by wrapping it.
var ErrNotFound = errors.New("not found")

// QueryStore is the store contract required by the API.
type QueryStore interface {
	model.ReadAPI
	SchemaDescription() string
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer exposes gatherer at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNotFound registers an additional store error that maps to 404.
func WithNotFound(err error) Option {
	return func(s *Server) { s.notFound = append(s.notFound, err) }
}

// Server serves the run API.
type Server struct {
	addr      string
	store     QueryStore
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	notFound  []error
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates an API server for store.
func NewServer(addr string, store QueryStore, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:     addr,
		store:    store,
		logger:   slog.Default(),
		notFound: []error{ErrNotFound},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/schema", s.handleSchema)
	api.POST("/query", s.handleQuery)
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/:id", s.handleRun)
	api.GET("/runs/:id/rows", s.handleRows)
	api.GET("/rates", s.handleRates)

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.startTime = time.Now()
	s.logger.Info("httpserver: listening", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("httpserver: serve failed", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) isNotFound(err error) bool {
	for _, nf := range s.notFound {
		if errors.Is(err, nf) {
			return true
		}
	}
	return false
}

func (s *Server) storeError(c *gin.Context, op string, err error) {
	if s.isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error("httpserver: store error", "op", op, "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
}

func (s *Server) handleHealth(c *gin.Context) {
	counts, err := s.store.TableRowCounts()
	if err != nil {
		s.storeError(c, "read health metrics", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"run_count": counts["runs"],
		"row_count": counts["run_rows"],
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		s.storeError(c, "read schema metadata", err)
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		s.storeError(c, "read table row counts", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": s.store.SchemaDescription(),
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}

type runJSON struct {
	RunID       string    `json:"run_id"`
	BatchID     string    `json:"batch_id"`
	PrimaryLog  string    `json:"primary_log"`
	ToolLog     string    `json:"tool_log"`
	ProcessedAt time.Time `json:"processed_at"`
	RowCount    int64     `json:"row_count"`
}

func (s *Server) handleRuns(c *gin.Context) {
	runs, err := s.store.ListRuns(c.Request.Context())
	if err != nil {
		s.storeError(c, "list runs", err)
		return
	}

	out := make([]runJSON, 0, len(runs))
	for _, r := range runs {
		out = append(out, runJSON(r))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out, "count": len(out)})
}

func (s *Server) handleRun(c *gin.Context) {
	id := c.Param("id")
	pairs, err := s.store.RunMetadata(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "read run metadata", err)
		return
	}

	metadata := make([]gin.H, 0, len(pairs))
	for _, p := range pairs {
		metadata = append(metadata, gin.H{"key": p.Key, "value": p.Value})
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "metadata": metadata})
}

func (s *Server) handleRows(c *gin.Context) {
	id := c.Param("id")
	tableName := c.DefaultQuery("table", "merged")

	limit := DefaultRowLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	rows, err := s.store.RunRows(c.Request.Context(), id, tableName, limit)
	if err != nil {
		s.storeError(c, "read run rows", err)
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		row := gin.H{"index": r.Index, "fields": r.Fields}
		if !r.Time.IsZero() {
			row["time"] = r.Time
		}
		out = append(out, row)
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":    id,
		"table":     tableName,
		"rows":      out,
		"row_count": len(out),
	})
}

type rateJSON struct {
	RunID   string  `json:"run_id"`
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean_mbps"`
	Max     float64 `json:"max_mbps"`
}

func (s *Server) handleRates(c *gin.Context) {
	tableName := c.DefaultQuery("table", "merged")
	field := c.DefaultQuery("field", DefaultRateField)

	rates, err := s.store.RateByRun(c.Request.Context(), tableName, field)
	if err != nil {
		s.storeError(c, "aggregate rates", err)
		return
	}

	out := make([]rateJSON, 0, len(rates))
	for _, r := range rates {
		out = append(out, rateJSON(r))
	}
	c.JSON(http.StatusOK, gin.H{"table": tableName, "field": field, "runs": out})
}
