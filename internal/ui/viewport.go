/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package ui

import (
	"math"

	"certcanvas/internal/scene"
)

// DragMode is the interaction a drag performs, decided where it starts.
type DragMode int

const (
	DragNone DragMode = iota
	DragPan
	DragMove
	DragResize // bottom-right handle
	DragRotate
)

const (
	handleSize = 10.0 // screen pixels
	rotateGap  = 24.0
	minZoom    = 0.1
	maxZoom    = 4.0
)

// Viewport maps between widget (screen) and canvas coordinates.
type Viewport struct {
	Zoom             float64
	OffsetX, OffsetY float64 // screen position of the canvas origin
}

// Fit centers a canvas of cw x ch in a widget of ww x wh at the largest zoom that shows it whole.
func (v *Viewport) Fit(cw, ch, ww, wh float64) {
	if cw <= 0 || ch <= 0 || ww <= 0 || wh <= 0 {
		v.Zoom = 1
		return
	}
	v.Zoom = clamp(math.Min(ww/cw, wh/ch)*0.95, minZoom, maxZoom)
	v.OffsetX = (ww - cw*v.Zoom) / 2
	v.OffsetY = (wh - ch*v.Zoom) / 2
}

// ToCanvas converts a screen point to canvas coordinates.
func (v Viewport) ToCanvas(sx, sy float64) (float64, float64) {
	z := v.zoom()
	return (sx - v.OffsetX) / z, (sy - v.OffsetY) / z
}

// ToScreen converts a canvas point to screen coordinates.
func (v Viewport) ToScreen(cx, cy float64) (float64, float64) {
	z := v.zoom()
	return cx*z + v.OffsetX, cy*z + v.OffsetY
}

// ZoomAt changes the zoom by step keeping the canvas point under (sx, sy) fixed.
func (v *Viewport) ZoomAt(step, sx, sy float64) {
	cx, cy := v.ToCanvas(sx, sy)
	v.Zoom = clamp(v.zoom()+step, minZoom, maxZoom)
	v.OffsetX = sx - cx*v.Zoom
	v.OffsetY = sy - cy*v.Zoom
}

func (v Viewport) zoom() float64 {
	if v.Zoom <= 0 {
		return 1
	}
	return v.Zoom
}

// Rect is a screen-space rectangle.
type Rect struct{ X, Y, W, H float64 }

func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// Handles returns the screen bounding box of a selected element (ignoring rotation), its
// resize handle and the rotate handle above the top edge.
func (v Viewport) Handles(g scene.Geometry) (box, resize, rotate Rect) {
	sx, sy := g.ScaleX, g.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	x0, y0 := v.ToScreen(g.X, g.Y)
	z := v.zoom()
	box = Rect{X: x0, Y: y0, W: g.W * sx * z, H: g.H * sy * z}
	resize = Rect{X: box.X + box.W - handleSize/2, Y: box.Y + box.H - handleSize/2, W: handleSize, H: handleSize}
	rotate = Rect{X: box.X + box.W/2 - handleSize/2, Y: box.Y - rotateGap - handleSize/2, W: handleSize, H: handleSize}
	return box, resize, rotate
}

// ModeAt decides what a drag starting at (sx, sy) does. selected is false when nothing is
// selected; locked elements can only be panned past.
func (v Viewport) ModeAt(g scene.Geometry, selected, locked bool, sx, sy float64) DragMode {
	if !selected || locked {
		return DragPan
	}
	box, resize, rotate := v.Handles(g)
	switch {
	case rotate.Contains(sx, sy):
		return DragRotate
	case resize.Contains(sx, sy):
		return DragResize
	case box.Contains(sx, sy):
		return DragMove
	default:
		return DragPan
	}
}

// Drag tracks one gesture from its start geometry.
type Drag struct {
	Mode           DragMode
	Start          scene.Geometry
	StartX, StartY float64 // canvas coordinates of the press
}

// Move returns the element position for the pointer at canvas (cx, cy).
func (d Drag) Move(cx, cy float64) (float64, float64) {
	return d.Start.X + (cx - d.StartX), d.Start.Y + (cy - d.StartY)
}

// Resize returns the box size for the pointer at canvas (cx, cy), at least one pixel each way.
func (d Drag) Resize(cx, cy float64) (float64, float64) {
	w := math.Max(1, d.Start.W+(cx-d.StartX))
	h := math.Max(1, d.Start.H+(cy-d.StartY))
	return w, h
}

// Rotate returns the angle in degrees for the pointer at canvas (cx, cy), measured around
// the element center; snapping to 15 degree steps when snap is set.
func (d Drag) Rotate(cx, cy float64, snap bool) float64 {
	mx, my := d.Start.X+d.Start.W/2, d.Start.Y+d.Start.H/2
	a0 := math.Atan2(d.StartY-my, d.StartX-mx)
	a1 := math.Atan2(cy-my, cx-mx)
	deg := d.Start.Angle + (a1-a0)*180/math.Pi
	if snap {
		deg = math.Round(deg/15) * 15
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// IntoView returns the shift that brings the span [pos, pos+size) inside [0, limit). When the
// span is longer than the limit its leading edge wins.
func IntoView(pos, size, limit float64) float64 {
	d := 0.0
	if end := pos + size; end > limit {
		d = limit - end
	}
	if pos+d < 0 {
		d = -pos
	}
	return d
}
