/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package render keeps the mutable scene in step with the document model.
// The Engine owns one scene exclusively: callers that need an isolated
// rendering (export, thumbnails) construct their own Engine.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sort"
	"sync"
	"time"

	"certcanvas/internal/assets"
	"certcanvas/internal/domain"
	clog "certcanvas/internal/log"
	"certcanvas/internal/overlay"
	"certcanvas/internal/scene"
	"certcanvas/internal/textlayout"
	"certcanvas/internal/variables"
)

var (
	ErrNotFound = errors.New("element not rendered")
	ErrLocked   = errors.New("element is locked")
	ErrNotText  = errors.New("element is not a text element")
	ErrNoEdit   = errors.New("no edit session")
)

// placeholderColor fills image elements whose source is missing or unresolved.
var placeholderColor = color.NRGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}

// Hooks report engine-originated events upward. All hooks are optional and are
// never called with the engine lock held.
type Hooks struct {
	// OnSelect reports a selection the user made on the surface ("" clears).
	// The engine does not change its own selection; it mirrors the model.
	OnSelect func(id string)
	// OnGeometry reports settled geometry to be committed to the model.
	OnGeometry func(GeometryChange)
	// OnWarning reports a non-fatal problem such as a failed image load.
	OnWarning func(Warning)
	// OnLoaded reports that an asynchronous image load changed the scene.
	// elementID is "" for the background. Stale loads are never reported.
	OnLoaded func(elementID string)
}

// GeometryChange is settled geometry for one element.
type GeometryChange struct {
	ID                         string
	X, Y, Width, Height, Angle float64
	FixedHeight                float64 // text only; 0 = auto
}

// Apply writes the change into el, resetting scale to unit.
func (g GeometryChange) Apply(el *domain.Element) {
	el.X, el.Y, el.Width, el.Height, el.Angle = g.X, g.Y, g.Width, g.Height, g.Angle
	el.ScaleX, el.ScaleY = 1, 1
	if el.Type == domain.TypeText {
		el.FixedHeight = g.FixedHeight
	}
}

// Options configures an Engine.
type Options struct {
	Provider textlayout.Provider // nil uses the embedded Go fonts
	Loader   assets.Loader       // nil uses a default fetcher
	Palette  overlay.Palette
	// Highlight enables the variable highlight overlay (editing). Preview and
	// export engines leave it off.
	Highlight bool
	// LoadTimeout bounds each asynchronous image load.
	LoadTimeout time.Duration
	Hooks       Hooks
}

type nodeState struct {
	el          domain.Element
	text        *scene.TextNode
	img         *scene.ImageNode
	fixedHeight float64
	load        *loadSlot
}

func (ns *nodeState) node() scene.Node {
	if ns.text != nil {
		return ns.text
	}
	return ns.img
}

// Engine reconciles documents against its scene.
type Engine struct {
	opts     Options
	layouter textlayout.Layouter
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	scene    *scene.Scene
	nodes    map[string]*nodeState
	selected string
	edit     *editSession
	bg       loadSlot
	bgSrc    string
	seq      uint64
	pending  int
	idle     chan struct{}
	warnings []Warning
}

// New returns an engine with an empty scene.
func New(opts Options) *Engine {
	if opts.Provider == nil {
		opts.Provider = textlayout.NewGoFontProvider(72)
	}
	if opts.Loader == nil {
		opts.Loader = assets.NewFetcher(assets.Options{CacheSize: 32})
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = assets.DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Engine{
		opts:     opts,
		layouter: textlayout.NewWordWrap(opts.Provider),
		log:      clog.WithComponent("render"),
		ctx:      ctx,
		cancel:   cancel,
		scene:    scene.New(1, 1),
		nodes:    make(map[string]*nodeState),
		idle:     idle,
	}
}

// SetHighlight toggles the variable highlight overlay. It takes effect on the
// next Reconcile.
func (e *Engine) SetHighlight(on bool) {
	e.mu.Lock()
	e.opts.Highlight = on
	e.mu.Unlock()
}

// Close abandons in-flight loads. Their results are discarded.
func (e *Engine) Close() { e.cancel() }

// Reconcile brings the scene into agreement with doc: nodes are created for
// new ids, removed for vanished ids and updated in place otherwise. A
// structurally invalid document aborts the pass; a single element that cannot
// be rendered is logged and skipped.
func (e *Engine) Reconcile(doc *domain.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	e.mu.Lock()
	e.scene.Width, e.scene.Height = doc.CanvasSize.Width, doc.CanvasSize.Height
	e.scene.Background = scene.MustColor(doc.Background.Color, scene.White)
	e.syncBackgroundLocked(doc.Background.Src)

	seen := make(map[string]bool, len(doc.Elements))
	for i := range doc.Elements {
		el := &doc.Elements[i]
		if err := e.syncElementLocked(el); err != nil {
			clog.WithElement(e.log, el.ID).Warn("element skipped", "err", err)
			continue
		}
		seen[el.ID] = true
	}
	for id, ns := range e.nodes {
		if !seen[id] {
			e.removeLocked(id, ns)
		}
	}
	e.orderLocked(doc.Elements, seen)

	e.selected = ""
	if _, ok := e.nodes[doc.SelectedElementID]; ok {
		e.selected = doc.SelectedElementID
	}
	e.scene.Selected = e.selected
	e.mu.Unlock()
	return nil
}

func (e *Engine) syncElementLocked(el *domain.Element) error {
	ns, ok := e.nodes[el.ID]
	if ok && ns.el.Type != el.Type {
		// a type change cannot be updated in place
		e.removeLocked(el.ID, ns)
		ok = false
	}
	if !ok {
		switch el.Type {
		case domain.TypeText:
			ns = &nodeState{text: scene.NewText(el.ID, e.layouter)}
		case domain.TypeImage:
			ns = &nodeState{img: scene.NewImage(el.ID), load: &loadSlot{}}
			ns.img.Placeholder = placeholderColor
		default:
			return fmt.Errorf("unknown element type %q", el.Type)
		}
		e.nodes[el.ID] = ns
		e.scene.Add(ns.node())
	}
	prev := ns.el
	ns.el = el.Clone()
	geo := ns.node().Geometry()
	if e.edit == nil || e.edit.id != el.ID {
		geo.X, geo.Y = el.X, el.Y
	}
	geo.Angle = el.Angle
	geo.Opacity = el.Alpha()
	if ns.text != nil {
		e.syncTextLocked(ns, el)
		return nil
	}
	geo.ScaleX, geo.ScaleY = el.Scale()
	geo.W, geo.H = el.Width, el.Height
	if prev.Src != el.Src || prev.ID == "" {
		e.syncImageSourceLocked(ns)
	} else if ns.img.Img != nil && (geo.W <= 0 || geo.H <= 0) {
		b := ns.img.Img.Bounds()
		geo.W, geo.H = float64(b.Dx()), float64(b.Dy())
	}
	return nil
}

func (e *Engine) syncTextLocked(ns *nodeState, el *domain.Element) {
	geo := ns.text.Geometry()
	// text never keeps a transform scale
	geo.ScaleX, geo.ScaleY = 1, 1
	ns.text.Align = textlayout.ParseAlign(el.TextAlign)
	// a resize inside the edit session owns the box until EndEdit reports it
	resized := e.edit != nil && e.edit.id == el.ID && e.edit.resized
	if !resized {
		ns.fixedHeight = el.FixedHeight
		ns.text.SetWidth(el.Width)
	}
	ns.text.SetSpans(buildSpans(el, displayStyles(el, e.opts.Highlight, e.opts.Palette)))
	if !resized && el.Width <= 0 {
		geo.W = float64(ns.text.Box().Width)
	}
	e.reassertHeightLocked(ns)
}

// reassertHeightLocked undoes the layout primitive's automatic height when the
// user has fixed it.
func (e *Engine) reassertHeightLocked(ns *nodeState) {
	if ns.text == nil {
		return
	}
	if ns.fixedHeight > 0 {
		ns.text.Geometry().H = ns.fixedHeight
	}
}

func (e *Engine) syncImageSourceLocked(ns *nodeState) {
	src := ns.el.Src
	if _, isToken := variables.SingleToken(src); src == "" || isToken {
		ns.load.cancel()
		e.applyImageLocked(ns, nil)
		return
	}
	id := ns.el.ID
	e.startLoadLocked(ns.load, src, id, func(img image.Image) {
		if cur, ok := e.nodes[id]; ok && cur == ns {
			e.applyImageLocked(ns, img)
		}
	})
}

func (e *Engine) applyImageLocked(ns *nodeState, img image.Image) {
	ns.img.Img = img
	geo := ns.img.Geometry()
	if img != nil && (geo.W <= 0 || geo.H <= 0) {
		b := img.Bounds()
		geo.W, geo.H = float64(b.Dx()), float64(b.Dy())
	}
}

func (e *Engine) syncBackgroundLocked(src string) {
	if src == e.bgSrc {
		return
	}
	e.bgSrc = src
	// a token background only resolves in preview and export
	if _, isToken := variables.SingleToken(src); src == "" || isToken {
		e.bg.cancel()
		e.scene.BackgroundImage = nil
		return
	}
	e.startLoadLocked(&e.bg, src, "", func(img image.Image) {
		e.scene.BackgroundImage = img
	})
}

func (e *Engine) removeLocked(id string, ns *nodeState) {
	if ns.load != nil {
		ns.load.cancel()
	}
	e.scene.Remove(id)
	delete(e.nodes, id)
	if e.edit != nil && e.edit.id == id {
		e.edit = nil
	}
}

// orderLocked stacks nodes by ZIndex ascending; ties keep document order.
func (e *Engine) orderLocked(elements []domain.Element, rendered map[string]bool) {
	order := make([]*domain.Element, 0, len(elements))
	for i := range elements {
		if rendered[elements[i].ID] {
			order = append(order, &elements[i])
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].ZIndex < order[j].ZIndex })
	for _, el := range order {
		e.scene.BringToFront(el.ID)
	}
}

// Render rasterizes the current scene.
func (e *Engine) Render() *image.RGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scene.Render()
}

// Order returns element ids bottom to top.
func (e *Engine) Order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scene.IDs()
}

// Selected returns the mirrored selection.
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// Geometry returns a copy of the node geometry for id.
func (e *Engine) Geometry(id string) (scene.Geometry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, ok := e.nodes[id]
	if !ok {
		return scene.Geometry{}, false
	}
	return *ns.node().Geometry(), true
}

// FixedHeight returns the fixed-height side value of a text node (0 = auto).
func (e *Engine) FixedHeight(id string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ns, ok := e.nodes[id]; ok {
		return ns.fixedHeight
	}
	return 0
}

// TextLines returns the laid out lines of a text node.
func (e *Engine) TextLines(id string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, ok := e.nodes[id]
	if !ok || ns.text == nil {
		return nil
	}
	var out []string
	for _, l := range ns.text.Box().Lines {
		out = append(out, l.Text())
	}
	return out
}

// ImageOf returns the image currently shown by an image node.
func (e *Engine) ImageOf(id string) image.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ns, ok := e.nodes[id]; ok && ns.img != nil {
		return ns.img.Img
	}
	return nil
}

// BackgroundImage returns the background image currently shown, if any.
func (e *Engine) BackgroundImage() image.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scene.BackgroundImage
}

// PointerDown hit-tests (x, y) and reports the element under the pointer, or
// "" for empty canvas, through Hooks.OnSelect.
func (e *Engine) PointerDown(x, y float64) string {
	e.mu.Lock()
	id := ""
	if n, ok := e.scene.HitTest(scene.Pt{X: x, Y: y}); ok {
		id = n.ID()
	}
	e.mu.Unlock()
	if e.opts.Hooks.OnSelect != nil {
		e.opts.Hooks.OnSelect(id)
	}
	return id
}

// SelectNext reports the element after (or before) the current selection in
// stacking order through Hooks.OnSelect, wrapping around.
func (e *Engine) SelectNext(forward bool) string {
	e.mu.Lock()
	ids := e.scene.IDs()
	cur := e.selected
	e.mu.Unlock()
	if len(ids) == 0 {
		return ""
	}
	idx := -1
	for i, id := range ids {
		if id == cur {
			idx = i
		}
	}
	switch {
	case idx < 0 && forward:
		idx = 0
	case idx < 0:
		idx = len(ids) - 1
	case forward:
		idx = (idx + 1) % len(ids)
	default:
		idx = (idx - 1 + len(ids)) % len(ids)
	}
	if e.opts.Hooks.OnSelect != nil {
		e.opts.Hooks.OnSelect(ids[idx])
	}
	return ids[idx]
}
