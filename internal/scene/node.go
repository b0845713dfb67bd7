/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package scene

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"certcanvas/internal/textlayout"
)

// Node is a positioned item of the scene. Geometry is expressed in the node's
// local frame (0,0)-(W,H) placed by Transform.
type Node interface {
	ID() string
	Geometry() *Geometry
	Bounds() Rect
	Hit(p Pt) bool
	// Raster draws the node's local content, W by H pixels, or returns nil
	// if there is nothing to draw.
	Raster() *image.RGBA
}

// Geometry holds the placement shared by every node kind.
type Geometry struct {
	X, Y           float64
	W, H           float64
	Angle          float64 // degrees
	ScaleX, ScaleY float64
	Opacity        float64
	Hidden         bool
}

// Transform places the local frame on the canvas: scale, then rotate, then
// translate to (X, Y).
func (g *Geometry) Transform() Affine2D {
	sx, sy := g.ScaleX, g.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	return Translate(g.X, g.Y).Mul(Rotate(g.Angle)).Mul(Scale(sx, sy))
}

func (g *Geometry) local() Rect { return Rect{W: g.W, H: g.H} }

type baseNode struct {
	id  string
	geo Geometry
}

func (b *baseNode) ID() string          { return b.id }
func (b *baseNode) Geometry() *Geometry { return &b.geo }
func (b *baseNode) Bounds() Rect        { return TransformRect(b.geo.Transform(), b.geo.local()) }

func (b *baseNode) Hit(p Pt) bool {
	if b.geo.Hidden {
		return false
	}
	q := b.geo.Transform().Invert().Apply(p)
	return b.geo.local().Contains(q)
}

func newLocal(w, h float64) *image.RGBA {
	iw, ih := int(math.Ceil(w)), int(math.Ceil(h))
	if iw <= 0 || ih <= 0 {
		return nil
	}
	return image.NewRGBA(image.Rect(0, 0, iw, ih))
}

// TextNode is the text-layout primitive: it wraps its spans to W and, like
// most layout engines, resets H to the intrinsic text height every time the
// text or the wrap width changes. Callers that need a stable height must
// re-assert it afterwards.
type TextNode struct {
	baseNode
	Layouter textlayout.Layouter
	Align    textlayout.Align
	spans    []textlayout.Span
	box      textlayout.TextBox
	// Editing is set while an inline edit session is active.
	Editing bool
}

func NewText(id string, layouter textlayout.Layouter) *TextNode {
	if layouter == nil {
		layouter = textlayout.NewWordWrap(textlayout.BasicProvider{})
	}
	return &TextNode{baseNode: baseNode{id: id, geo: Geometry{ScaleX: 1, ScaleY: 1, Opacity: 1}}, Layouter: layouter}
}

// SetSpans replaces the text and re-lays it out.
func (n *TextNode) SetSpans(spans []textlayout.Span) {
	n.spans = append(n.spans[:0], spans...)
	n.relayout()
}

// SetWidth changes the wrap width and re-lays out.
func (n *TextNode) SetWidth(w float64) {
	n.geo.W = w
	n.relayout()
}

func (n *TextNode) relayout() {
	box, err := n.Layouter.Layout(n.spans, float32(n.geo.W))
	if err != nil {
		return
	}
	n.box = box
	n.geo.H = float64(box.Height)
}

// IntrinsicHeight is the height the laid out text needs.
func (n *TextNode) IntrinsicHeight() float64 { return float64(n.box.Height) }

// Box returns the current layout.
func (n *TextNode) Box() textlayout.TextBox { return n.box }

// Text returns the plain text of the spans.
func (n *TextNode) Text() string {
	s := ""
	for _, sp := range n.spans {
		s += sp.Text
	}
	return s
}

func (n *TextNode) Raster() *image.RGBA {
	img := newLocal(n.geo.W, n.geo.H)
	if img == nil {
		return nil
	}
	textlayout.Draw(img, n.box, 0, 0, float32(n.geo.W), n.Align)
	return img
}

// ImageNode draws a decoded image stretched to W by H.
type ImageNode struct {
	baseNode
	Img image.Image
	// Placeholder is painted when Img is nil.
	Placeholder color.Color
}

func NewImage(id string) *ImageNode {
	return &ImageNode{baseNode: baseNode{id: id, geo: Geometry{ScaleX: 1, ScaleY: 1, Opacity: 1}}}
}

func (n *ImageNode) Raster() *image.RGBA {
	img := newLocal(n.geo.W, n.geo.H)
	if img == nil {
		return nil
	}
	if n.Img == nil {
		if n.Placeholder != nil {
			draw.Draw(img, img.Bounds(), image.NewUniform(n.Placeholder), image.Point{}, draw.Src)
		}
		return img
	}
	sb := n.Img.Bounds()
	if sb.Dx() == img.Bounds().Dx() && sb.Dy() == img.Bounds().Dy() {
		draw.Draw(img, img.Bounds(), n.Img, sb.Min, draw.Over)
		return img
	}
	draw.CatmullRom.Scale(img, img.Bounds(), n.Img, sb, draw.Over, nil)
	return img
}
