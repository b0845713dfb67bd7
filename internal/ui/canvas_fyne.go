//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"image/color"
	"log/slog"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"certcanvas/internal/domain"
	"certcanvas/internal/editor"
	applog "certcanvas/internal/log"
)

// settleWait bounds how long the canvas waits for pending image loads before repainting.
const settleWait = 30 * time.Second

// CertCanvas shows the editor's rendered surface and turns pointer gestures into engine
// gestures. Geometry reaches the model only when a gesture ends.
type CertCanvas struct {
	widget.BaseWidget

	ed   *editor.Editor
	log  *slog.Logger
	view Viewport

	fitted bool
	drag   Drag
	dragID string
	editID string

	// SnapRotation rounds rotate gestures to 15 degree steps.
	SnapRotation bool
	// OnEditText is called on double tap over the selected text element.
	OnEditText func(id string)
	// OnKey handles keys the canvas does not use itself.
	OnKey func(*fyne.KeyEvent)
}

var (
	_ fyne.Tappable       = (*CertCanvas)(nil)
	_ fyne.DoubleTappable = (*CertCanvas)(nil)
	_ fyne.Draggable      = (*CertCanvas)(nil)
	_ fyne.Scrollable     = (*CertCanvas)(nil)
	_ fyne.Focusable      = (*CertCanvas)(nil)
	_ desktop.Hoverable   = (*CertCanvas)(nil)
)

func NewCertCanvas(ed *editor.Editor) *CertCanvas {
	c := &CertCanvas{ed: ed, log: applog.WithComponent("ui.canvas")}
	c.ExtendBaseWidget(c)
	return c
}

// Reload repaints now and again once pending image loads have settled.
func (c *CertCanvas) Reload() {
	c.Refresh()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), settleWait)
		defer cancel()
		if err := c.ed.Engine().Settle(ctx); err != nil {
			c.log.Warn("image loads did not settle", slog.Any("err", err))
		}
		fyne.Do(c.Refresh)
	}()
}

// FitToWindow recenters the canvas on the next layout.
func (c *CertCanvas) FitToWindow() {
	c.fitted = false
	c.Refresh()
}

func (c *CertCanvas) MinSize() fyne.Size { return fyne.NewSize(480, 360) }

func (c *CertCanvas) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(color.RGBA{R: 30, G: 30, B: 34, A: 255})
	page := canvas.NewImageFromImage(nil)
	page.FillMode = canvas.ImageFillStretch
	page.ScaleMode = canvas.ImageScaleSmooth

	frame := canvas.NewRectangle(color.Transparent)
	frame.StrokeColor = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	frame.StrokeWidth = 1

	bbox := canvas.NewRectangle(color.Transparent)
	bbox.StrokeColor = color.RGBA{R: 0, G: 170, B: 255, A: 255}
	bbox.StrokeWidth = 1
	resize := canvas.NewRectangle(color.RGBA{R: 0, G: 170, B: 255, A: 255})
	rot := canvas.NewCircle(color.RGBA{R: 255, G: 170, B: 0, A: 255})
	for _, o := range []fyne.CanvasObject{bbox, resize, rot} {
		o.Hide()
	}
	return &certCanvasRenderer{c: c, bg: bg, page: page, frame: frame, bbox: bbox, resize: resize, rot: rot,
		objects: []fyne.CanvasObject{bg, page, frame, bbox, resize, rot}}
}

func (c *CertCanvas) canvasPoint(pos fyne.Position) (float64, float64) {
	return c.view.ToCanvas(float64(pos.X), float64(pos.Y))
}

func (c *CertCanvas) Tapped(e *fyne.PointEvent) {
	c.requestFocus()
	x, y := c.canvasPoint(e.Position)
	c.ed.Engine().PointerDown(x, y)
	c.Refresh()
}

func (c *CertCanvas) DoubleTapped(e *fyne.PointEvent) {
	x, y := c.canvasPoint(e.Position)
	id := c.ed.Engine().PointerDown(x, y)
	if id != "" && c.OnEditText != nil {
		c.OnEditText(id)
	}
}

// BeginTextEdit opens an inline edit session on a text element. A box hanging off the
// page is shifted into view until the session ends.
func (c *CertCanvas) BeginTextEdit(id string) error {
	c.EndTextEdit()
	if _, previewing := c.ed.PreviewRow(); previewing {
		return editor.ErrPreviewActive
	}
	eng := c.ed.Engine()
	if err := eng.BeginEdit(id); err != nil {
		return err
	}
	c.editID = id
	if g, ok := eng.Geometry(id); ok {
		size := c.ed.Document().CanvasSize
		dx := IntoView(g.X, g.W, float64(size.Width))
		dy := IntoView(g.Y, g.H, float64(size.Height))
		if dx != 0 || dy != 0 {
			if err := eng.ShiftEditSurface(dx, dy); err != nil {
				c.log.Warn("edit surface not shifted", slog.String("element", id), slog.Any("err", err))
			}
		}
	}
	c.Refresh()
	return nil
}

// EditText lays typed content out on the surface ahead of the model commit.
func (c *CertCanvas) EditText(id, content string) {
	if c.editID == "" || c.editID != id {
		return
	}
	if err := c.ed.Engine().EditText(id, content); err != nil {
		c.log.Warn("live edit rejected", slog.String("element", id), slog.Any("err", err))
	}
	c.Refresh()
}

// EndTextEdit closes the edit session. A resize made during the session reaches the model
// through the engine's geometry hook; anything else snaps back.
func (c *CertCanvas) EndTextEdit() {
	if c.editID == "" {
		return
	}
	id := c.editID
	c.editID = ""
	if change, resized := c.ed.Engine().EndEdit(); resized {
		c.log.Debug("edit session resized", slog.String("element", id),
			slog.Float64("w", change.Width), slog.Float64("h", change.Height))
	}
	c.Refresh()
}

// Editing returns the id of the text element under inline edit, or "".
func (c *CertCanvas) Editing() string { return c.editID }

func (c *CertCanvas) Dragged(e *fyne.DragEvent) {
	eng := c.ed.Engine()
	if c.drag.Mode == DragNone {
		// the press happened one delta ago
		px, py := float64(e.Position.X-e.Dragged.DX), float64(e.Position.Y-e.Dragged.DY)
		id := c.ed.Selected()
		g, ok := eng.Geometry(id)
		locked := false
		if el, found := eng.Element(id); found {
			locked = el.Locked
		}
		c.drag = Drag{Mode: c.view.ModeAt(g, ok && !g.Hidden, locked, px, py), Start: g}
		c.drag.StartX, c.drag.StartY = c.view.ToCanvas(px, py)
		c.dragID = id
	}

	x, y := c.canvasPoint(e.Position)
	var err error
	switch c.drag.Mode {
	case DragPan:
		c.view.OffsetX += float64(e.Dragged.DX)
		c.view.OffsetY += float64(e.Dragged.DY)
	case DragMove:
		nx, ny := c.drag.Move(x, y)
		err = eng.MoveGesture(c.dragID, nx, ny)
	case DragResize:
		w, h := c.drag.Resize(x, y)
		if el, _ := eng.Element(c.dragID); el.Type == domain.TypeImage && c.drag.Start.W > 0 && c.drag.Start.H > 0 {
			// images scale during the gesture; DragEnd flattens the scale into the box
			err = eng.ScaleGesture(c.dragID, w/c.drag.Start.W, h/c.drag.Start.H)
		} else {
			err = eng.ResizeGesture(c.dragID, w, h)
		}
	case DragRotate:
		err = eng.RotateGesture(c.dragID, c.drag.Rotate(x, y, c.SnapRotation))
	}
	if err != nil {
		c.log.Warn("gesture rejected", slog.String("element", c.dragID), slog.Any("err", err))
		c.drag.Mode = DragPan
	}
	c.Refresh()
}

func (c *CertCanvas) DragEnd() {
	mode, id := c.drag.Mode, c.dragID
	c.drag, c.dragID = Drag{}, ""
	if mode == DragMove || mode == DragResize || mode == DragRotate {
		// the engine reports the settled geometry to the editor, which records one undo step
		if _, err := c.ed.Engine().SettleTransform(id); err != nil {
			c.log.Warn("settle transform failed", slog.String("element", id), slog.Any("err", err))
		}
	}
	c.Refresh()
}

// Scrolled zooms around the pointer.
func (c *CertCanvas) Scrolled(e *fyne.ScrollEvent) {
	c.view.ZoomAt(float64(e.Scrolled.DY)*0.005, float64(e.Position.X), float64(e.Position.Y))
	c.Refresh()
}

func (c *CertCanvas) MouseIn(*desktop.MouseEvent)    {}
func (c *CertCanvas) MouseMoved(*desktop.MouseEvent) {}
func (c *CertCanvas) MouseOut()                      {}

func (c *CertCanvas) FocusGained()   {}
func (c *CertCanvas) FocusLost()     {}
func (c *CertCanvas) TypedRune(rune) {}

// TypedKey cycles the selection with Tab and nudges the selected element with the arrow keys.
func (c *CertCanvas) TypedKey(k *fyne.KeyEvent) {
	eng := c.ed.Engine()
	id := c.ed.Selected()
	dx, dy := 0.0, 0.0
	switch k.Name {
	case fyne.KeyTab:
		eng.SelectNext(true)
	case fyne.KeyEscape:
		if c.editID != "" {
			c.EndTextEdit()
			return
		}
		if err := c.ed.Select(""); err != nil {
			c.log.Warn("clear selection failed", slog.Any("err", err))
		}
	case fyne.KeyLeft:
		dx = -1
	case fyne.KeyRight:
		dx = 1
	case fyne.KeyUp:
		dy = -1
	case fyne.KeyDown:
		dy = 1
	default:
		if c.OnKey != nil {
			c.OnKey(k)
		}
		return
	}
	if dx != 0 || dy != 0 {
		if g, ok := eng.Geometry(id); ok {
			if err := eng.MoveGesture(id, g.X+dx, g.Y+dy); err == nil {
				if _, err := eng.SettleTransform(id); err != nil {
					c.log.Warn("settle transform failed", slog.String("element", id), slog.Any("err", err))
				}
			}
		}
	}
	c.Refresh()
}

func (c *CertCanvas) requestFocus() {
	if cv := fyne.CurrentApp().Driver().CanvasForObject(c); cv != nil {
		cv.Focus(c)
	}
}

type certCanvasRenderer struct {
	c       *CertCanvas
	objects []fyne.CanvasObject
	bg      *canvas.Rectangle
	page    *canvas.Image
	frame   *canvas.Rectangle
	bbox    *canvas.Rectangle
	resize  *canvas.Rectangle
	rot     *canvas.Circle
}

func (r *certCanvasRenderer) Destroy()                     {}
func (r *certCanvasRenderer) Objects() []fyne.CanvasObject { return r.objects }
func (r *certCanvasRenderer) MinSize() fyne.Size           { return r.c.MinSize() }

func (r *certCanvasRenderer) Refresh() {
	r.page.Image = r.c.ed.Surface()
	r.Layout(r.c.Size())
	canvas.Refresh(r.c)
}

func (r *certCanvasRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	r.bg.Move(fyne.NewPos(0, 0))
	if r.page.Image == nil {
		r.page.Image = r.c.ed.Surface()
	}
	b := r.page.Image.Bounds()
	cw, ch := float64(b.Dx()), float64(b.Dy())
	if !r.c.fitted && size.Width > 0 && size.Height > 0 {
		r.c.view.Fit(cw, ch, float64(size.Width), float64(size.Height))
		r.c.fitted = true
	}
	v := r.c.view
	x0, y0 := v.ToScreen(0, 0)
	pos := fyne.NewPos(float32(x0), float32(y0))
	sz := fyne.NewSize(float32(cw*v.zoom()), float32(ch*v.zoom()))
	r.page.Move(pos)
	r.page.Resize(sz)
	r.frame.Move(pos)
	r.frame.Resize(sz)

	id := r.c.ed.Selected()
	g, ok := r.c.ed.Engine().Geometry(id)
	if !ok || g.Hidden {
		r.bbox.Hide()
		r.resize.Hide()
		r.rot.Hide()
		return
	}
	box, rs, rot := v.Handles(g)
	place(r.bbox, box)
	place(r.resize, rs)
	place(r.rot, rot)
	r.bbox.Show()
	r.resize.Show()
	r.rot.Show()
}

func place(o fyne.CanvasObject, rc Rect) {
	o.Move(fyne.NewPos(float32(rc.X), float32(rc.Y)))
	o.Resize(fyne.NewSize(float32(rc.W), float32(rc.H)))
}
