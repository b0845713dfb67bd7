/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"math"

	"certcanvas/internal/domain"
	"certcanvas/internal/variables"
)

// editSession remembers where an inline-edited text node sat when editing
// began so transient surface adjustments can be undone.
type editSession struct {
	id          string
	x, y, w, h  float64
	fixedHeight float64
	resized     bool
}

func (e *Engine) lookupLocked(id string) (*nodeState, error) {
	ns, ok := e.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if ns.el.Locked {
		return nil, ErrLocked
	}
	return ns, nil
}

// MoveGesture repositions an element on the surface.
func (e *Engine) MoveGesture(id string, x, y float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, err := e.lookupLocked(id)
	if err != nil {
		return err
	}
	geo := ns.node().Geometry()
	geo.X, geo.Y = x, y
	return nil
}

// RotateGesture sets the rotation in degrees.
func (e *Engine) RotateGesture(id string, angle float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, err := e.lookupLocked(id)
	if err != nil {
		return err
	}
	ns.node().Geometry().Angle = angle
	return nil
}

// ResizeGesture sets literal dimensions. For text, width re-wraps and a
// positive height becomes the fixed height that later relayouts keep.
func (e *Engine) ResizeGesture(id string, w, h float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, err := e.lookupLocked(id)
	if err != nil {
		return err
	}
	if ns.text != nil {
		if w > 0 {
			ns.text.SetWidth(w)
		}
		if h > 0 {
			ns.fixedHeight = h
		}
		e.reassertHeightLocked(ns)
	} else {
		geo := ns.img.Geometry()
		if w > 0 {
			geo.W = w
		}
		if h > 0 {
			geo.H = h
		}
	}
	if e.edit != nil && e.edit.id == id {
		e.edit.resized = true
	}
	return nil
}

// ScaleGesture applies a transform scale. Text is normalized at once into a
// wider box and a taller fixed height so glyphs never stretch; images keep
// the scale until SettleTransform.
func (e *Engine) ScaleGesture(id string, sx, sy float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, err := e.lookupLocked(id)
	if err != nil {
		return err
	}
	geo := ns.node().Geometry()
	if ns.text == nil {
		geo.ScaleX, geo.ScaleY = sx, sy
		return nil
	}
	if sx > 0 && sx != 1 {
		ns.text.SetWidth(math.Round(geo.W * sx))
	}
	if sy > 0 && sy != 1 {
		base := ns.fixedHeight
		if base <= 0 {
			base = ns.text.IntrinsicHeight()
		}
		ns.fixedHeight = math.Round(base * sy)
	}
	geo.ScaleX, geo.ScaleY = 1, 1
	e.reassertHeightLocked(ns)
	return nil
}

// SettleTransform ends a gesture: any scale is flattened into whole-pixel
// dimensions and the result is reported through Hooks.OnGeometry.
func (e *Engine) SettleTransform(id string) (GeometryChange, error) {
	e.mu.Lock()
	ns, ok := e.nodes[id]
	if !ok {
		e.mu.Unlock()
		return GeometryChange{}, ErrNotFound
	}
	geo := ns.node().Geometry()
	if ns.img != nil {
		geo.W = math.Round(geo.W * geo.ScaleX)
		geo.H = math.Round(geo.H * geo.ScaleY)
		geo.ScaleX, geo.ScaleY = 1, 1
	} else {
		geo.ScaleX, geo.ScaleY = 1, 1
		if w := math.Round(geo.W); w != geo.W {
			ns.text.SetWidth(w)
		}
		ns.fixedHeight = math.Round(ns.fixedHeight)
		e.reassertHeightLocked(ns)
	}
	geo.X, geo.Y = math.Round(geo.X), math.Round(geo.Y)
	change := e.changeLocked(ns)
	e.mu.Unlock()
	if e.opts.Hooks.OnGeometry != nil {
		e.opts.Hooks.OnGeometry(change)
	}
	return change, nil
}

func (e *Engine) changeLocked(ns *nodeState) GeometryChange {
	geo := ns.node().Geometry()
	c := GeometryChange{ID: ns.el.ID, X: geo.X, Y: geo.Y, Width: geo.W, Height: geo.H, Angle: geo.Angle}
	if ns.text != nil {
		c.FixedHeight = ns.fixedHeight
		// auto-width text reports the width it was given, not the measured one
		if ns.el.Width <= 0 && ns.text.Geometry().W == float64(ns.text.Box().Width) {
			c.Width = 0
		}
	}
	return c
}

// EditText re-lays out a text node for live typing ahead of the model commit.
// The fixed height, if any, survives.
func (e *Engine) EditText(id, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, err := e.lookupLocked(id)
	if err != nil {
		return err
	}
	if ns.text == nil {
		return ErrNotText
	}
	el := ns.el.Clone()
	if el.Styles != nil {
		el.Styles = el.Styles.ApplyEdit(ns.el.Content, content)
	}
	el.Content = content
	el.HasVariables = variables.HasVariables(content)
	ns.el = el
	ns.text.SetSpans(buildSpans(&el, displayStyles(&el, e.opts.Highlight, e.opts.Palette)))
	if el.Width <= 0 {
		ns.text.Geometry().W = float64(ns.text.Box().Width)
	}
	e.reassertHeightLocked(ns)
	return nil
}

// BeginEdit opens an inline edit session on a text node.
func (e *Engine) BeginEdit(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, err := e.lookupLocked(id)
	if err != nil {
		return err
	}
	if ns.text == nil {
		return ErrNotText
	}
	geo := ns.text.Geometry()
	e.edit = &editSession{id: id, x: geo.X, y: geo.Y, w: geo.W, h: geo.H, fixedHeight: ns.fixedHeight}
	ns.text.Editing = true
	return nil
}

// ShiftEditSurface nudges the node under edit, e.g. to keep the caret in
// view. The shift is undone by EndEdit.
func (e *Engine) ShiftEditSurface(dx, dy float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.edit == nil {
		return ErrNoEdit
	}
	ns := e.nodes[e.edit.id]
	geo := ns.text.Geometry()
	geo.X += dx
	geo.Y += dy
	return nil
}

// EndEdit closes the edit session. Position and size return to where they
// were unless the user resized inside the session, in which case the new
// geometry is reported and returned with ok set.
func (e *Engine) EndEdit() (GeometryChange, bool) {
	e.mu.Lock()
	s := e.edit
	e.edit = nil
	if s == nil {
		e.mu.Unlock()
		return GeometryChange{}, false
	}
	ns, alive := e.nodes[s.id]
	if !alive {
		e.mu.Unlock()
		return GeometryChange{}, false
	}
	ns.text.Editing = false
	geo := ns.text.Geometry()
	if !s.resized {
		geo.X, geo.Y = s.x, s.y
		if geo.W != s.w {
			ns.text.SetWidth(s.w)
		}
		ns.fixedHeight = s.fixedHeight
		e.reassertHeightLocked(ns)
		e.mu.Unlock()
		return GeometryChange{}, false
	}
	geo.X, geo.Y = s.x, s.y
	change := e.changeLocked(ns)
	e.mu.Unlock()
	if e.opts.Hooks.OnGeometry != nil {
		e.opts.Hooks.OnGeometry(change)
	}
	return change, true
}

// Element returns the element as last reconciled or edited.
func (e *Engine) Element(id string) (domain.Element, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, ok := e.nodes[id]
	if !ok {
		return domain.Element{}, false
	}
	return ns.el.Clone(), true
}
