// Package server exposes run status, launch and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/diffuservo/internal/logging"
	"github.com/danielpatrickdp/diffuservo/internal/orchestrator"
	"github.com/danielpatrickdp/diffuservo/internal/session"
)

// #region interfaces

// RunStore is the read side of the session store.
type RunStore interface {
	GetRun(runID string) (session.Run, error)
	ListRuns(limit int) ([]session.Run, error)
	ListIterations(runID string) ([]session.Iteration, error)
	ListDecisions(runID string) ([]logging.DecisionEntry, error)
}

// Launcher starts and steers background runs. orchestrator.Pool satisfies it.
type Launcher interface {
	Start(theme string) (string, error)
	Suggest(runID, text string) bool
	Live() int
}

// Prober reports render backend health.
type Prober interface {
	IsHealthy(ctx context.Context) bool
}

// #endregion interfaces

// #region types

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// StartRequest launches a run.
type StartRequest struct {
	Theme string `json:"theme" binding:"required"`
}

// SuggestRequest carries creative direction to a live run.
type SuggestRequest struct {
	Text string `json:"text" binding:"required"`
}

// RunDetail is a run with its iterations and decisions.
type RunDetail struct {
	Run        session.Run             `json:"run"`
	Iterations []session.Iteration     `json:"iterations"`
	Decisions  []logging.DecisionEntry `json:"decisions"`
}

// #endregion types

// #region server

// Server wires the HTTP routes. Launcher and Prober may be nil.
type Server struct {
	store    RunStore
	launcher Launcher
	prober   Prober
	gatherer prometheus.Gatherer
}

// New creates a server over store. gatherer backs /metrics.
func New(store RunStore, launcher Launcher, prober Prober, gatherer prometheus.Gatherer) *Server {
	return &Server{store: store, launcher: launcher, prober: prober, gatherer: gatherer}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/runs", s.handleListRuns)
	r.GET("/runs/:id", s.handleGetRun)
	r.POST("/runs", s.handleStartRun)
	r.POST("/runs/:id/suggest", s.handleSuggest)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Printf("[SERVER] listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[SERVER] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// #endregion server

// #region handlers

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	status := http.StatusOK
	if s.prober != nil {
		healthy := s.prober.IsHealthy(c.Request.Context())
		resp["backend"] = healthy
		if !healthy {
			resp["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if s.launcher != nil {
		resp["live_runs"] = s.launcher.Live()
	}
	c.JSON(status, resp)
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be 1..1000", Code: "INVALID_LIMIT"})
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		log.Printf("[SERVER] list runs: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	if runs == nil {
		runs = []session.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	id := c.Param("id")
	run, err := s.store.GetRun(id)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "NOT_FOUND"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}

	detail := RunDetail{Run: run}
	if detail.Iterations, err = s.store.ListIterations(id); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	if detail.Decisions, err = s.store.ListDecisions(id); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleStartRun(c *gin.Context) {
	if s.launcher == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "run launching disabled", Code: "NO_LAUNCHER"})
		return
	}
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Theme) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "theme is required", Code: "INVALID_REQUEST"})
		return
	}

	id, err := s.launcher.Start(strings.TrimSpace(req.Theme))
	if errors.Is(err, orchestrator.ErrStartupUnhealthy) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "BACKEND_UNHEALTHY"})
		return
	}
	if err != nil {
		log.Printf("[SERVER] start run: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "START_FAILED"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

func (s *Server) handleSuggest(c *gin.Context) {
	if s.launcher == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "run launching disabled", Code: "NO_LAUNCHER"})
		return
	}
	var req SuggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "text is required", Code: "INVALID_REQUEST"})
		return
	}
	if !s.launcher.Suggest(c.Param("id"), req.Text) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run is not live", Code: "NOT_LIVE"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// #endregion handlers
