// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package registry

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadCallback is invoked after each reload attempt with the error from
// LoadOverrides, nil on success.
type ReloadCallback func(path string, err error)

// WatchConfig configures override hot reload.
type WatchConfig struct {
	// DebounceMs coalesces rapid-fire editor writes (default 500ms).
	DebounceMs int

	// Logger for reload events. Defaults to a nop logger.
	Logger *zap.Logger

	// OnReload is an optional callback after each reload attempt.
	OnReload ReloadCallback
}

// Watcher hot-reloads the tier override file into a registry.
type Watcher struct {
	registry *Registry
	path     string
	watcher  *fsnotify.Watcher
	config   WatchConfig
	logger   *zap.Logger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopMu  sync.Mutex
	stopped bool
}

// NewWatcher creates a watcher for the given override file. The parent
// directory is watched so atomic-rename saves are seen.
func NewWatcher(r *Registry, path string, config WatchConfig) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("hot reload requires an override file path")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.DebounceMs == 0 {
		config.DebounceMs = 500
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		registry: r,
		path:     path,
		watcher:  fw,
		config:   config,
		logger:   config.Logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for override file changes.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.logger.Info("Watching tier overrides", zap.String("path", w.path))
	go w.loop()
	return nil
}

// Stop terminates the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopMu.Lock()
	if w.stopped {
		w.stopMu.Unlock()
		return
	}
	w.stopped = true
	w.stopMu.Unlock()

	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Override watcher error", zap.Error(err))
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(time.Duration(w.config.DebounceMs)*time.Millisecond, func() {
		err := w.registry.LoadOverrides(w.path)
		if err != nil {
			w.logger.Warn("Tier override reload failed; keeping previous catalog",
				zap.String("path", w.path),
				zap.Error(err))
		}
		if w.config.OnReload != nil {
			w.config.OnReload(w.path, err)
		}
	})
}
