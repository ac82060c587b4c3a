// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the catalog file and reloads the registry when it
// changes. Editors write via temp-file-and-rename, so bursts of events are
// debounced before a reload fires. A reload that fails validation leaves
// the previous catalog in place.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	registry  *Registry
	logger    *slog.Logger

	path          string
	debounceDelay time.Duration

	mu      sync.Mutex
	pending *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures the catalog watcher.
type WatcherConfig struct {
	// Registry receives reloaded catalogs.
	Registry *Registry

	// Path is the catalog file to watch.
	Path string

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// DebounceDelay is the quiet period before a reload (defaults to 200ms).
	DebounceDelay time.Duration
}

// NewWatcher creates a watcher for the catalog file and starts its event
// loop. The parent directory is watched so rename-based saves are seen.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.Path, err)
	}
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		registry:      cfg.Registry,
		logger:        logger,
		path:          absPath,
		debounceDelay: debounceDelay,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// processEvents filters filesystem events down to the catalog file and
// schedules debounced reloads.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.scheduleReload()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("catalog watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// scheduleReload resets the debounce timer; the reload fires after the
// quiet period.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, w.reload)
}

// reload re-reads the catalog and swaps it into the registry. Parse or
// validation failures keep the previous catalog.
func (w *Watcher) reload() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()

	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Error("catalog reload failed, keeping previous catalog",
			"path", w.path,
			"error", err,
		)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error("catalog reload rejected, keeping previous catalog",
			"path", w.path,
			"error", err,
		)
		return
	}

	if err := w.registry.Replace(cfg.Descriptors()); err != nil {
		w.logger.Error("catalog replace failed", "error", err)
		return
	}
	w.logger.Info("tool server catalog reloaded", "path", w.path, "servers", len(cfg.Servers))
}

// Close shuts down the watcher.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}
