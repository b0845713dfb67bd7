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
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReportsDebouncedWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a"+LayoutExt)
	if err := WriteLayoutFile(path, sampleLayout("A", 0)); err != nil {
		t.Fatalf("WriteLayoutFile: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan string, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, []string{path}, 30*time.Millisecond, func(p string) { changed <- p })
	}()
	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := WriteLayoutFile(path, sampleLayout("A", i)); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
	}
	select {
	case p := <-changed:
		if filepath.Base(p) != filepath.Base(path) {
			t.Fatalf("unexpected path %s", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no change reported")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not stop on cancel")
	}
}
