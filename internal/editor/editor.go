/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package editor is the surface collaborators drive: element CRUD, selection,
// typing, undo/redo and the read-only row preview. Every mutation is recorded
// by the history manager before it lands and is followed by a reconcile pass.
//
// An Editor is not safe for concurrent use. Call it from one goroutine (the
// UI thread); engine hooks arriving from load goroutines are forwarded only.
package editor

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"certcanvas/internal/domain"
	"certcanvas/internal/history"
	clog "certcanvas/internal/log"
	"certcanvas/internal/render"
	"certcanvas/internal/textlayout"
)

var (
	ErrNotFound      = errors.New("element not found")
	ErrLocked        = errors.New("element is locked")
	ErrPreviewActive = errors.New("preview is active; the document is read-only")
	ErrNotText       = errors.New("element is not a text element")
	ErrUnknownPreset = errors.New("unknown text preset")
	ErrEmptyClip     = errors.New("clipboard is empty")
)

// Options configures an Editor.
type Options struct {
	Width, Height int
	History       history.Config
	// Render configures the interactive engine. Its Hooks are owned by the
	// editor; use OnWarning and OnChange below instead.
	Render  render.Options
	Presets textlayout.Presets
	// NewID generates element ids; defaults to random UUIDs.
	NewID func() string
	Now   func() time.Time

	OnWarning func(render.Warning)
	// OnChange runs after every reconcile and after an image load lands on
	// the surface. Loads complete on their own goroutine.
	OnChange func()
}

// Editor owns the canonical document, its history and the interactive engine.
type Editor struct {
	opts    Options
	doc     *domain.Document
	hist    *history.Manager
	engine  *render.Engine
	preview *previewState
	clip    *domain.Element
	log     *slog.Logger

	highlight bool // overlay in edit mode; previews never show it
}

// docState adapts the editor's current document to the history manager. The
// document pointer is read at call time because mutations swap it.
type docState struct{ ed *Editor }

func (s docState) Capture() domain.Snapshot { return s.ed.doc.Snapshot() }

func (s docState) Restore(snap domain.Snapshot) { s.ed.doc.Restore(snap) }

// New returns an editor on an empty document.
func New(opts Options) *Editor {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1123, 794 // A4 landscape at 96 dpi
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ed := &Editor{
		opts:      opts,
		doc:       domain.NewDocument(opts.Width, opts.Height),
		log:       clog.WithComponent("editor"),
		highlight: true,
	}
	ed.hist = history.NewManager(docState{ed}, opts.History)
	ro := opts.Render
	ro.Highlight = true
	ro.Hooks = render.Hooks{
		OnSelect:   ed.onSelect,
		OnGeometry: ed.onGeometry,
		OnWarning:  opts.OnWarning,
		OnLoaded:   ed.onLoaded,
	}
	ed.engine = render.New(ro)
	if err := ed.sync(); err != nil {
		ed.log.Error("initial reconcile failed", "err", err)
	}
	return ed
}

// Close stops the engine and any pending history timer.
func (ed *Editor) Close() {
	ed.hist.CloseBurst()
	ed.engine.Close()
}

// SetHighlight turns the variable overlay on or off for edit mode. It is
// always off while a preview is active.
func (ed *Editor) SetHighlight(on bool) error {
	ed.highlight = on
	if ed.preview != nil {
		return nil
	}
	ed.engine.SetHighlight(on)
	return ed.sync()
}

// Highlight reports whether the overlay is on in edit mode.
func (ed *Editor) Highlight() bool { return ed.highlight }

// Presets returns the text style presets new text elements may use.
func (ed *Editor) Presets() textlayout.Presets { return ed.opts.Presets }

// Engine exposes the interactive engine for gestures and hit testing.
func (ed *Editor) Engine() *render.Engine { return ed.engine }

// History exposes undo/redo state for UI affordances.
func (ed *Editor) History() *history.Manager { return ed.hist }

// Document returns a deep copy of the canonical document.
func (ed *Editor) Document() *domain.Document { return ed.doc.Clone() }

// Element returns a copy of the element with id.
func (ed *Editor) Element(id string) (domain.Element, error) {
	el, _ := ed.doc.Find(id)
	if el == nil {
		return domain.Element{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return el.Clone(), nil
}

// Surface renders what the engine currently shows: the document, or the
// preview row while a preview is active.
func (ed *Editor) Surface() *image.RGBA { return ed.engine.Render() }

// displayed is the document the engine should show.
func (ed *Editor) displayed() *domain.Document {
	if ed.preview != nil {
		d := ed.preview.doc
		d.SelectedElementID = ed.doc.SelectedElementID
		return d
	}
	return ed.doc
}

func (ed *Editor) sync() error {
	if err := ed.engine.Reconcile(ed.displayed()); err != nil {
		return err
	}
	if ed.opts.OnChange != nil {
		ed.opts.OnChange()
	}
	return nil
}

// mutate applies fn to a copy of the document. Only when fn succeeds and the
// result is structurally valid is history recorded and the copy installed.
func (ed *Editor) mutate(op string, debounced bool, fn func(doc *domain.Document) error) error {
	if ed.preview != nil {
		return ErrPreviewActive
	}
	next := ed.doc.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if debounced {
		ed.hist.RecordBeforeChangeDebounced()
	} else {
		ed.hist.RecordBeforeChange()
	}
	ed.doc = next
	clog.WithOperation(ed.log, op).Debug("document changed", "elements", len(next.Elements))
	return ed.sync()
}

// Undo rewinds one history step. It reports false when there was nothing to
// undo.
func (ed *Editor) Undo() (bool, error) {
	if ed.preview != nil {
		return false, ErrPreviewActive
	}
	if !ed.hist.Undo() {
		return false, nil
	}
	return true, ed.sync()
}

// Redo re-applies one undone step.
func (ed *Editor) Redo() (bool, error) {
	if ed.preview != nil {
		return false, ErrPreviewActive
	}
	if !ed.hist.Redo() {
		return false, nil
	}
	return true, ed.sync()
}

// LoadLayout replaces the whole document and clears history. An active preview
// is closed.
func (ed *Editor) LoadLayout(l domain.Layout) error {
	doc := l.Document()
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("load layout %q: %w", l.Name, err)
	}
	ed.preview = nil
	ed.engine.SetHighlight(ed.highlight)
	ed.doc = doc
	ed.hist.Clear()
	ed.log.Info("layout loaded", "name", l.Name, "elements", len(doc.Elements))
	return ed.sync()
}

// Layout packages the canonical document for persistence.
func (ed *Editor) Layout(name string) domain.Layout {
	return ed.doc.Layout(name, ed.opts.Now())
}

// Select sets the selection; "" clears it. Selection is not an undoable change
// and is allowed during preview.
func (ed *Editor) Select(id string) error {
	if id != "" {
		if el, _ := ed.doc.Find(id); el == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	if ed.doc.SelectedElementID == id {
		return nil
	}
	ed.doc.SelectedElementID = id
	return ed.sync()
}

// Selected returns the selected element id or "".
func (ed *Editor) Selected() string { return ed.doc.SelectedElementID }

func (ed *Editor) onSelect(id string) {
	if err := ed.Select(id); err != nil {
		ed.log.Warn("surface selection ignored", "id", id, "err", err)
	}
}

// onLoaded runs on the load goroutine; the document is not touched.
func (ed *Editor) onLoaded(elementID string) {
	ed.log.Debug("image landed", "element", elementID)
	if ed.opts.OnChange != nil {
		ed.opts.OnChange()
	}
}

// CommitGeometry writes settled geometry from the surface into the model as
// one undoable step.
func (ed *Editor) CommitGeometry(c render.GeometryChange) error {
	return ed.mutate("geometry", false, func(doc *domain.Document) error {
		el, _ := doc.Find(c.ID)
		if el == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
		}
		c.Apply(el)
		return nil
	})
}

func (ed *Editor) onGeometry(c render.GeometryChange) {
	if err := ed.CommitGeometry(c); err != nil {
		ed.log.Warn("geometry not committed", "id", c.ID, "err", err)
		// put the surface back in line with the model
		if err := ed.sync(); err != nil {
			ed.log.Error("reconcile failed", "err", err)
		}
	}
}
