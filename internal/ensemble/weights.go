// Package ensemble fuses per-model outcomes into a single classification.
// Aggregation is a pure function over outcomes and a weight table; the
// weight table itself is the only runtime-mutable piece, swapped atomically
// on file changes.
package ensemble

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/verilens/detection-engine/internal/logger"
)

// Table maps model name to vote weight. Weights are relative: only ratios
// matter to the weighted mean.
type Table map[string]float64

// DefaultTable returns the shipped weights. The food specialist outranks
// the primary because it only ever votes on imagery it was built for.
func DefaultTable() Table {
	return Table{
		"primary-detector": 3.0,
		"food-detector":    4.0,
		"backup-detector":  1.0,
	}
}

// weightFor returns the model's vote weight. Models absent from the table
// vote with neutral weight rather than being silenced.
func (t Table) weightFor(model string) float64 {
	if w, ok := t[model]; ok {
		return w
	}
	return 1.0
}

// WeightProvider serves the active weight table and hot-reloads it when the
// backing file changes. Readers always see either the old table or the new
// one, never a mix.
type WeightProvider struct {
	value   atomic.Value // Table
	path    string
	watcher *fsnotify.Watcher
}

// NewWeightProvider creates a provider serving only the default table.
func NewWeightProvider() *WeightProvider {
	p := &WeightProvider{}
	p.value.Store(DefaultTable())
	return p
}

// NewWeightProviderFromFile loads the table from path and watches the file
// for changes. The file holds a JSON object of model name to weight;
// entries merge over the defaults so a partial file cannot silence a model.
func NewWeightProviderFromFile(path string) (*WeightProvider, error) {
	p := &WeightProvider{path: path}
	p.value.Store(DefaultTable())

	if err := p.reload(); err != nil {
		return nil, fmt.Errorf("loading ensemble weights from %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting weights watcher: %w", err)
	}
	// Watch the directory: editors and config pushers replace files by
	// rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching weights directory: %w", err)
	}
	p.watcher = watcher
	go p.watch()
	return p, nil
}

// Current returns the active table.
func (p *WeightProvider) Current() Table {
	return p.value.Load().(Table)
}

// Close stops the file watcher, if any.
func (p *WeightProvider) Close() error {
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

func (p *WeightProvider) watch() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := p.reload(); err != nil {
				logger.WithError(err).WithField("path", p.path).
					Warn("Ensemble weights reload failed; keeping previous table")
				continue
			}
			logger.WithField("path", p.path).Info("Ensemble weights reloaded")
		case _, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload parses the file and swaps the table in one atomic store. Any
// parse or validation error leaves the previous table in place.
func (p *WeightProvider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	var loaded map[string]float64
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing weights file: %w", err)
	}
	for model, weight := range loaded {
		if weight <= 0 {
			return fmt.Errorf("weight for %s must be > 0 (got %g)", model, weight)
		}
	}

	merged := DefaultTable()
	for model, weight := range loaded {
		merged[model] = weight
	}
	p.value.Store(merged)
	return nil
}
