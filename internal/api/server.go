// Package api serves the pipeline over HTTP: runs are submitted as pair
// lists, executed in the background and read back from the result store.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mminte/internal/diet"
	"mminte/internal/metrics"
	"mminte/internal/pipeline"
	"mminte/internal/store"
)

// Deps are the collaborators of a Server. Metrics may be nil.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Store    store.Store
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// LoadDiet reads a diet file named in a request. Defaults to diet.Load.
	LoadDiet func(path string) (diet.Diet, error)
}

// Server owns the router and the background runs it started.
type Server struct {
	deps   Deps
	router *gin.Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]time.Time
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.LoadDiet == nil {
		deps.LoadDiet = diet.Load
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]time.Time),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger))
	r.GET("/health", s.health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	runs := r.Group("/api/v1/runs")
	runs.POST("", s.createRun)
	runs.GET("", s.listRuns)
	runs.GET("/:id", s.getRun)
	runs.GET("/:id/growth", s.getGrowth)
	runs.GET("/:id/interactions", s.getInteractions)
	runs.GET("/:id/failures", s.getFailures)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close cancels background runs and waits for them to record their end.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every background run has finished.
func (s *Server) Wait() { s.wg.Wait() }

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
