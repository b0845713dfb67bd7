/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	applog "certcanvas/internal/log"
)

// DefaultWatchDebounce coalesces the burst of events a single save produces.
const DefaultWatchDebounce = 150 * time.Millisecond

// Watch calls fn with the changed path whenever one of paths is written, created or renamed
// into place. Parent directories are watched so atomic replace-by-rename is seen. Events for
// the same path within debounce collapse into one call. Watch blocks until ctx is done.
func Watch(ctx context.Context, paths []string, debounce time.Duration, fn func(path string)) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	l := applog.WithOperation(applog.WithComponent("storage"), "watch")
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	wanted := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		wanted[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}

	timers := make(map[string]*time.Timer)
	fire := make(chan string, len(paths)+1)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !wanted[abs] {
				continue
			}
			if t, ok := timers[abs]; ok {
				t.Reset(debounce)
				continue
			}
			timers[abs] = time.AfterFunc(debounce, func() {
				select {
				case fire <- abs:
				case <-ctx.Done():
				}
			})
		case p := <-fire:
			delete(timers, p)
			fn(p)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.Warn("watch error", slog.Any("err", err))
		}
	}
}
