package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/modelio"
)

// DefaultDebounce is how long a file must stay quiet before it is evaluated.
const DefaultDebounce = 500 * time.Millisecond

// Watcher evaluates and classifies community model files as they appear in
// a directory that backs a filesystem blob store. Each settled set of files
// is one run.
type Watcher struct {
	pipeline     *Pipeline
	dir          string
	growth       Sink[growth.Record]
	interactions Sink[interaction.Record]
	logger       *zap.Logger

	mu          sync.Mutex
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stats       WatchStats
}

// WatchStats counts watcher activity.
type WatchStats struct {
	Events    int
	Runs      int
	Evaluated int
	Failed    int
	Errors    int
}

// NewWatcher returns a watcher of dir. Keys handed to the pipeline are paths
// relative to dir, so dir must be the blob store root.
func NewWatcher(p *Pipeline, dir string, growthSink Sink[growth.Record], interactionSink Sink[interaction.Record], logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		pipeline:     p,
		dir:          dir,
		growth:       growthSink,
		interactions: interactionSink,
		logger:       logger,
		debounceMap:  make(map[string]time.Time),
		debounceDur:  DefaultDebounce,
	}
}

// SetDebounce changes the quiet period. Call before Watch.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounceDur = d }

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() WatchStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Watch blocks until ctx is done. A batch error (as opposed to a skipped
// model) stops the watcher and is returned.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching community models", zap.String("dir", w.dir), zap.Duration("debounce", w.debounceDur))

	tick := w.debounceDur / 5
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			if err := w.processSettled(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || !modelio.IsModelFile(base) {
		return
	}
	w.logger.Debug("model file changed", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
	w.mu.Lock()
	w.stats.Events++
	w.debounceMap[ev.Name] = time.Now()
	w.mu.Unlock()
}

// processSettled runs one Evaluate batch over the files that have been
// quiet for the debounce period.
func (w *Watcher) processSettled(ctx context.Context) error {
	w.mu.Lock()
	now := time.Now()
	var keys []string
	for path, at := range w.debounceMap {
		if now.Sub(at) < w.debounceDur {
			continue
		}
		delete(w.debounceMap, path)
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			continue
		}
		keys = append(keys, filepath.ToSlash(rel))
	}
	w.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	sum, err := w.pipeline.Evaluate(ctx, "", keys, w.growth, w.interactions)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	w.mu.Lock()
	w.stats.Runs++
	w.stats.Evaluated += sum.Succeeded
	w.stats.Failed += sum.Failed
	w.mu.Unlock()
	if err != nil {
		return err
	}
	w.logger.Info("watch batch complete", zap.String("run", sum.RunID),
		zap.Int("evaluated", sum.Succeeded), zap.Int("failed", sum.Failed))
	return nil
}
