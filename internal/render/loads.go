/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"certcanvas/internal/assets"
)

// Warning is a dismissible, non-fatal problem surfaced to the user.
type Warning struct {
	ID        string
	ElementID string // "" for the background
	Src       string
	Err       error
	Time      time.Time
}

func (w Warning) Error() string {
	target := "background"
	if w.ElementID != "" {
		target = "element " + w.ElementID
	}
	return fmt.Sprintf("%s: %v", target, w.Err)
}

// loadSlot tracks the newest load for one image target. Only a completion
// carrying the current token may commit.
type loadSlot struct {
	token uint64
	stop  context.CancelFunc
	good  image.Image
	src   string
}

func (s *loadSlot) cancel() {
	s.token = 0
	s.src = ""
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// startLoadLocked supersedes any load in flight for slot and fetches src in
// the background. apply runs under the engine lock with the decoded image, the
// last good image, or nil.
func (e *Engine) startLoadLocked(slot *loadSlot, src, elementID string, apply func(image.Image)) {
	slot.cancel()
	e.seq++
	tok := e.seq
	ctx, stop := context.WithTimeout(e.ctx, e.opts.LoadTimeout)
	slot.token, slot.stop, slot.src = tok, stop, src
	if e.pending == 0 {
		e.idle = make(chan struct{})
	}
	e.pending++

	go func() {
		defer stop()
		img, err := e.opts.Loader.Load(ctx, src)
		if err == nil {
			err = verify(img)
		}
		var warn *Warning
		loaded := false
		e.mu.Lock()
		switch {
		case slot.token != tok:
			e.log.Debug("stale image load discarded", "src", shortSrc(src), "token", tok)
		case err != nil:
			slot.token, slot.stop = 0, nil
			apply(slot.good)
			if e.ctx.Err() == nil {
				warn = e.addWarningLocked(elementID, src, err)
			}
		default:
			slot.token, slot.stop = 0, nil
			slot.good = img
			apply(img)
			loaded = true
		}
		e.mu.Unlock()

		// hooks run before the load counts as settled so Settle covers them
		if warn != nil {
			e.notify([]Warning{*warn})
		}
		if loaded && e.opts.Hooks.OnLoaded != nil {
			e.opts.Hooks.OnLoaded(elementID)
		}
		e.mu.Lock()
		e.pending--
		if e.pending == 0 {
			close(e.idle)
		}
		e.mu.Unlock()
	}()
}

// verify rejects images that decoded to nothing usable.
func verify(img image.Image) error {
	if img == nil {
		return assets.ErrMalformedImage
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: zero dimensions", assets.ErrMalformedImage)
	}
	return nil
}

func (e *Engine) addWarningLocked(elementID, src string, err error) *Warning {
	e.seq++
	w := Warning{
		ID:        fmt.Sprintf("w%d", e.seq),
		ElementID: elementID,
		Src:       src,
		Err:       err,
		Time:      time.Now(),
	}
	if errors.Is(err, context.DeadlineExceeded) {
		w.Err = fmt.Errorf("load timed out after %s: %w", e.opts.LoadTimeout, err)
	}
	e.warnings = append(e.warnings, w)
	e.log.Warn("image load failed", "element", elementID, "src", shortSrc(src), "err", err)
	return &w
}

func (e *Engine) notify(warns []Warning) {
	if e.opts.Hooks.OnWarning == nil {
		return
	}
	for _, w := range warns {
		e.opts.Hooks.OnWarning(w)
	}
}

// Warnings returns the undismissed warnings, oldest first.
func (e *Engine) Warnings() []Warning {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Warning(nil), e.warnings...)
}

// DismissWarning removes a warning by id.
func (e *Engine) DismissWarning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, w := range e.warnings {
		if w.ID == id {
			e.warnings = append(e.warnings[:i], e.warnings[i+1:]...)
			return true
		}
	}
	return false
}

// Settle blocks until no image load is in flight or ctx is done.
func (e *Engine) Settle(ctx context.Context) error {
	for {
		e.mu.Lock()
		idle, busy := e.idle, e.pending > 0
		e.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func shortSrc(src string) string {
	if len(src) > 64 {
		return src[:61] + "..."
	}
	return src
}
