// Copyright 2015 The Avalon Authors
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

package avconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches a config file for changes, reloading and
// re-validating it and invoking a callback with the new Config on
// success. Grounded on erfianugrah-gloryhole/pkg/config's fsnotify
// debounce-then-reload loop.
type Watcher struct {
	path     string
	log      *zap.Logger
	onChange func(*Config)
	fsw      *fsnotify.Watcher
}

// NewWatcher returns a Watcher over path. It does not start watching
// until Start is called.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("avconfig: creating file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("avconfig: watching %s: %w", path, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{path: path, log: log, fsw: fsw}, nil
}

// OnChange registers the callback invoked after each successful
// reload. It must be set before Start.
func (w *Watcher) OnChange(fn func(*Config)) { w.onChange = fn }

// Start runs the watch loop until ctx is cancelled, debouncing rapid
// write/create events (editors and atomic-rename deploy tools often
// fire more than one per logical save).
func (w *Watcher) Start(ctx context.Context) error {
	const debounce = 150 * time.Millisecond
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return w.fsw.Close()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("avconfig: watcher events channel closed")
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("avconfig: watcher errors channel closed")
			}
			w.log.Warn("config watcher error", zap.Error(err))

		case <-timer.C:
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Error("config reload failed, keeping prior generation", zap.Error(err))
				continue
			}
			w.log.Info("config reloaded", zap.String("path", w.path))
			if w.onChange != nil {
				w.onChange(cfg)
			}
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }
