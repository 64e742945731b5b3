package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/pipeline"
	"mminte/internal/store"
	"mminte/internal/tables"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": "healthy"})
}

func parsePairs(raw [][]string) ([]tables.Pair, error) {
	if len(raw) == 0 {
		return nil, errors.New("pairs is empty")
	}
	pairs := make([]tables.Pair, 0, len(raw))
	for i, p := range raw {
		if len(p) != 2 {
			return nil, fmt.Errorf("pair %d: want 2 model files, got %d", i, len(p))
		}
		a, b := strings.TrimSpace(p[0]), strings.TrimSpace(p[1])
		for _, name := range []string{a, b} {
			if !filepath.IsLocal(name) {
				return nil, fmt.Errorf("pair %d: %q is not a file in the models directory", i, name)
			}
		}
		pairs = append(pairs, tables.Pair{A: a, B: b})
	}
	return pairs, nil
}

func (s *Server) createRun(c *gin.Context) {
	var req createRunReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}
	pairs, err := parsePairs(req.Pairs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	p := *s.deps.Pipeline
	if req.Diet != "" {
		if !filepath.IsLocal(req.Diet) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "diet must be a relative path"})
			return
		}
		d, err := s.deps.LoadDiet(req.Diet)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		if p.Evaluator == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "no evaluator configured"})
			return
		}
		ev := *p.Evaluator
		ev.Diet = &d
		p.Evaluator = &ev
	}

	runID := uuid.NewString()
	s.mu.Lock()
	s.pending[runID] = time.Now().UTC()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(&p, runID, pairs)

	c.JSON(http.StatusAccepted, gin.H{"ok": true, "run_id": runID})
}

func (s *Server) execute(p *pipeline.Pipeline, runID string, pairs []tables.Pair) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.pending, runID)
		s.mu.Unlock()
	}()

	sum, err := p.Run(s.ctx, runID, pairs, pipeline.Discard[growth.Record](), pipeline.Discard[interaction.Record]())
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunFinished(sum, err)
	}
	fields := []zap.Field{zap.String("run", runID), zap.Int("succeeded", sum.Succeeded), zap.Int("failed", sum.Failed)}
	if err != nil {
		s.deps.Logger.Error("run failed", append(fields, zap.Error(err))...)
		return
	}
	s.deps.Logger.Info("run complete", fields...)
}

func (s *Server) listRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid limit"})
			return
		}
		limit = n
	}
	runs, err := s.deps.Store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "runs": runs})
}

// lookupRun writes the error response and returns false when the run is
// unknown. A submitted run that has not reached the store yet is reported
// as queued.
func (s *Server) lookupRun(c *gin.Context) (store.Run, bool) {
	id := c.Param("id")
	run, err := s.deps.Store.GetRun(c.Request.Context(), id)
	if err == nil {
		return run, true
	}
	if errors.Is(err, store.ErrNotFound) {
		s.mu.Lock()
		at, queued := s.pending[id]
		s.mu.Unlock()
		if queued {
			c.JSON(http.StatusOK, gin.H{"ok": true, "run": gin.H{"id": id, "status": "queued", "started_at": at}})
			return store.Run{}, false
		}
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "run not found"})
		return store.Run{}, false
	}
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	return store.Run{}, false
}

func (s *Server) getRun(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	recs, err := s.deps.Store.Interactions(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	var tally interaction.Tally
	for _, r := range recs {
		tally.Add(r.Type)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "run": runDTO{Run: run, Interactions: tally.Map()}})
}

func (s *Server) getGrowth(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	recs, err := s.deps.Store.Growth(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	out := make([]growthDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, toGrowthDTO(r))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "growth": out})
}

func (s *Server) getInteractions(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	recs, err := s.deps.Store.Interactions(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	out := make([]interactionDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, toInteractionDTO(r))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "interactions": out})
}

func (s *Server) getFailures(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	failures, err := s.deps.Store.Failures(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if failures == nil {
		failures = []store.Failure{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "failures": failures})
}
