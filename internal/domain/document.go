/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the canvas document model: elements, their geometry and
// paint, and the document that orders them. The structures serialize to the
// JSON layout blob used by storage.

import (
	"errors"
	"fmt"
	"time"
)

// ElementType distinguishes text containers from images.
type ElementType string

const (
	TypeText  ElementType = "text"
	TypeImage ElementType = "image"
)

// ErrInvariant signals a structural violation of the document model (duplicate id,
// missing required field). It is a programming error, not a user error.
var ErrInvariant = errors.New("document invariant violated")

// Element is a single item on the canvas.
type Element struct {
	ID     string      `json:"id"`
	Type   ElementType `json:"type"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Width  float64     `json:"width,omitempty"`
	Height float64     `json:"height,omitempty"`
	Angle  float64     `json:"angle,omitempty"`
	ScaleX float64     `json:"scaleX,omitempty"` // 0 reads as 1
	ScaleY float64     `json:"scaleY,omitempty"`

	Fill    string  `json:"fill,omitempty"`    // hex color, e.g. "#1a1a1a"
	Opacity float64 `json:"opacity,omitempty"` // 0 reads as 1
	Locked  bool    `json:"locked,omitempty"`
	ZIndex  int     `json:"zIndex"`

	// text
	Content        string           `json:"content,omitempty"`
	FontFamily     string           `json:"fontFamily,omitempty"`
	FontSize       float64          `json:"fontSize,omitempty"`
	FontWeight     string           `json:"fontWeight,omitempty"`
	FontStyle      string           `json:"fontStyle,omitempty"`
	Underline      bool             `json:"underline,omitempty"`
	TextAlign      string           `json:"textAlign,omitempty"` // left | center | right
	Styles         CharStyleMap     `json:"styles,omitempty"`
	VariableStyles VariableStyleMap `json:"variableStyles,omitempty"`
	HasVariables   bool             `json:"hasVariables,omitempty"`
	FixedHeight    float64          `json:"fixedHeight,omitempty"` // 0 = height follows the text

	// image
	Src string `json:"src,omitempty"`
}

// Scale returns the effective scale factors, treating zero as unit scale.
func (e *Element) Scale() (float64, float64) {
	sx, sy := e.ScaleX, e.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	return sx, sy
}

// Alpha returns the effective opacity, treating zero as fully opaque.
func (e *Element) Alpha() float64 {
	if e.Opacity <= 0 || e.Opacity > 1 {
		return 1
	}
	return e.Opacity
}

// BaseStyle returns the element's default text attributes as a fragment.
func (e *Element) BaseStyle() StyleFragment {
	return StyleFragment{
		Fill:       e.Fill,
		FontWeight: e.FontWeight,
		FontStyle:  e.FontStyle,
		Underline:  Bool(e.Underline),
		FontSize:   e.FontSize,
		FontFamily: e.FontFamily,
	}
}

// Clone returns a deep copy of the element.
func (e Element) Clone() Element {
	e.Styles = e.Styles.Clone()
	e.VariableStyles = e.VariableStyles.Clone()
	return e
}

// Background is the canvas backdrop: an optional image over a solid color.
type Background struct {
	Src   string `json:"src,omitempty"`
	Color string `json:"color,omitempty"`
}

// CanvasSize is the document's pixel size.
type CanvasSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Document is the canonical editable model.
type Document struct {
	Elements          []Element  `json:"elements"`
	Background        Background `json:"background"`
	CanvasSize        CanvasSize `json:"canvasSize"`
	SelectedElementID string     `json:"-"`
}

// NewDocument returns an empty document with the given canvas size.
func NewDocument(w, h int) *Document {
	return &Document{Elements: []Element{}, CanvasSize: CanvasSize{Width: w, Height: h}, Background: Background{Color: "#ffffff"}}
}

// Find returns the element with the given id and its index, or nil and -1.
func (d *Document) Find(id string) (*Element, int) {
	for i := range d.Elements {
		if d.Elements[i].ID == id {
			return &d.Elements[i], i
		}
	}
	return nil, -1
}

// MaxZ returns the highest stacking value in the document, or 0 when empty.
func (d *Document) MaxZ() int {
	z := 0
	for i, el := range d.Elements {
		if i == 0 || el.ZIndex > z {
			z = el.ZIndex
		}
	}
	return z
}

// Validate reports structural violations as errors wrapping ErrInvariant.
func (d *Document) Validate() error {
	seen := make(map[string]bool, len(d.Elements))
	for i, el := range d.Elements {
		if el.ID == "" {
			return fmt.Errorf("element %d: missing id: %w", i, ErrInvariant)
		}
		if el.Type == "" {
			return fmt.Errorf("element %q: missing type: %w", el.ID, ErrInvariant)
		}
		if seen[el.ID] {
			return fmt.Errorf("element %q: duplicate id: %w", el.ID, ErrInvariant)
		}
		seen[el.ID] = true
	}
	return nil
}

// Clone returns a deep copy of the document, selection included.
func (d *Document) Clone() *Document {
	out := *d
	out.Elements = CloneElements(d.Elements)
	return &out
}

// CloneElements deep-copies an element slice. A nil slice clones to an empty one.
func CloneElements(in []Element) []Element {
	out := make([]Element, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// Snapshot is the state captured by the history manager.
type Snapshot struct {
	Elements   []Element
	Background Background
	CanvasSize CanvasSize
}

// Snapshot captures the undoable part of the document as a deep copy.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{Elements: CloneElements(d.Elements), Background: d.Background, CanvasSize: d.CanvasSize}
}

// Restore replaces the undoable part of the document with a deep copy of s.
// A selection pointing at an element that no longer exists is cleared.
func (d *Document) Restore(s Snapshot) {
	d.Elements = CloneElements(s.Elements)
	d.Background = s.Background
	d.CanvasSize = s.CanvasSize
	if d.SelectedElementID != "" {
		if el, _ := d.Find(d.SelectedElementID); el == nil {
			d.SelectedElementID = ""
		}
	}
}

// Layout is the persisted blob exchanged with storage collaborators.
type Layout struct {
	Name       string     `json:"name"`
	Elements   []Element  `json:"elements"`
	CanvasSize CanvasSize `json:"canvasSize"`
	Background Background `json:"background"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Layout packages the document under name, stamped with now.
func (d *Document) Layout(name string, now time.Time) Layout {
	return Layout{Name: name, Elements: CloneElements(d.Elements), CanvasSize: d.CanvasSize, Background: d.Background, Timestamp: now.UTC()}
}

// Document expands a layout into a fresh document with no selection.
func (l Layout) Document() *Document {
	return &Document{Elements: CloneElements(l.Elements), CanvasSize: l.CanvasSize, Background: l.Background}
}
