// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// Watcher reloads the config file when it changes on disk. Editors often
// produce bursts of writes (or write-rename sequences), so changes are
// debounced before a reload fires.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending time.Time

	// onReload is invoked with the freshly loaded config after every
	// successful reload.
	onReload func(*Config)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, debounce time.Duration, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if onReload == nil {
		onReload = func(*Config) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  fsw,
		debounce: debounce,
		onReload: onReload,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching for changes to the config file. The parent
// directory is watched rather than the file itself, so rename-based saves
// keep being observed.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents()
	go w.processPending()
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

// processEvents collects change events for the config file.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
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
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		}
	}
}

// processPending fires a reload once the debounce window has passed with
// no further changes.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		// Keep the previous config; a half-written file must not take
		// the client down.
		log.Printf("config reload failed: %v", err)
		return
	}
	SetGlobal(cfg)
	log.Printf("config reloaded from %s", w.path)
	w.onReload(cfg)
}
