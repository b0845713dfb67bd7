/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package history implements bounded undo/redo over whole-document snapshots.
// Every mutation records the state it is about to change; keystroke bursts are
// coalesced by a trailing debounce timer so that one undo rewinds the burst.
package history

import (
	"sync"
	"time"

	"certcanvas/internal/domain"
	clog "certcanvas/internal/log"
)

const (
	DefaultMaxDepth = 50
	DefaultDebounce = 300 * time.Millisecond
)

// State is the model the manager snapshots and restores.
type State interface {
	Capture() domain.Snapshot
	Restore(domain.Snapshot)
}

// Config controls depth cap and burst coalescing.
type Config struct {
	// MaxDepth bounds each stack; the oldest entries are dropped on overflow.
	MaxDepth int
	// Debounce is the quiet period after which a burst of debounced records closes.
	Debounce time.Duration
}

// Manager keeps the undo and redo stacks. It is safe for concurrent use; the
// debounce timer runs on its own goroutine and only ever closes the burst.
type Manager struct {
	cfg   Config
	state State

	mu        sync.Mutex
	undo      []domain.Snapshot
	redo      []domain.Snapshot
	replaying bool
	burstOpen bool
	burstGen  uint64
	timer     *time.Timer
}

// NewManager returns a manager snapshotting state.
func NewManager(state State, cfg Config) *Manager {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Manager{cfg: cfg, state: state}
}

// RecordBeforeChange snapshots the current state onto the undo stack and clears
// redo. It must be called before every mutation; calls made while an undo or
// redo is being applied are ignored.
func (m *Manager) RecordBeforeChange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaying {
		return
	}
	m.closeBurstLocked()
	m.pushLocked()
}

// RecordBeforeChangeDebounced records like RecordBeforeChange on the first call of
// a burst. Further calls within the debounce window only extend the burst.
func (m *Manager) RecordBeforeChangeDebounced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaying {
		return
	}
	if !m.burstOpen {
		m.pushLocked()
		m.burstOpen = true
	}
	m.armLocked()
}

func (m *Manager) pushLocked() {
	m.undo = pushBounded(m.undo, m.state.Capture(), m.cfg.MaxDepth)
	m.redo = nil
}

func (m *Manager) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.burstGen++
	gen := m.burstGen
	m.timer = time.AfterFunc(m.cfg.Debounce, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen == m.burstGen {
			m.burstOpen = false
			m.timer = nil
		}
	})
}

func (m *Manager) closeBurstLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.burstGen++
	m.burstOpen = false
}

// CloseBurst ends the current debounce burst immediately.
func (m *Manager) CloseBurst() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeBurstLocked()
}

// BurstOpen reports whether a debounced burst is in progress.
func (m *Manager) BurstOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.burstOpen
}

// Undo restores the most recent snapshot. It reports false (and does nothing)
// when there is nothing to undo.
func (m *Manager) Undo() bool { return m.step(true) }

// Redo re-applies the most recently undone snapshot. It reports false (and does
// nothing) when there is nothing to redo.
func (m *Manager) Redo() bool { return m.step(false) }

func (m *Manager) step(undo bool) bool {
	m.mu.Lock()
	from, to := &m.undo, &m.redo
	if !undo {
		from, to = &m.redo, &m.undo
	}
	if m.replaying || len(*from) == 0 {
		m.mu.Unlock()
		return false
	}
	m.closeBurstLocked()
	s := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	*to = pushBounded(*to, m.state.Capture(), m.cfg.MaxDepth)
	m.replaying = true
	du, dr := len(m.undo), len(m.redo)
	m.mu.Unlock()

	// Restore may call back into the model's mutation paths; the guard makes
	// those calls skip recording until the replay has finished.
	defer func() {
		m.mu.Lock()
		m.replaying = false
		m.mu.Unlock()
	}()
	m.state.Restore(s)
	op := "redo"
	if undo {
		op = "undo"
	}
	clog.WithComponent("history").Debug(op, "undo_depth", du, "redo_depth", dr)
	return true
}

// Replaying reports whether an undo or redo is currently being applied.
func (m *Manager) Replaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaying
}

// Clear drops both stacks and any open burst, e.g. after loading a new document.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeBurstLocked()
	m.undo = nil
	m.redo = nil
}

// CanUndo reports whether Undo would do anything.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0 && !m.replaying
}

// CanRedo reports whether Redo would do anything.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0 && !m.replaying
}

// Depths returns the current stack sizes for diagnostics.
func (m *Manager) Depths() (undo, redo int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo), len(m.redo)
}

func pushBounded(stack []domain.Snapshot, s domain.Snapshot, max int) []domain.Snapshot {
	stack = append(stack, s)
	if excess := len(stack) - max; excess > 0 {
		// copy so the evicted snapshots can be collected
		stack = append([]domain.Snapshot(nil), stack[excess:]...)
	}
	return stack
}
