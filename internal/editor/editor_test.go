/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"certcanvas/internal/assets"
	"certcanvas/internal/domain"
	"certcanvas/internal/history"
	"certcanvas/internal/render"
)

func newTestEditor(t *testing.T) *Editor {
	t.Helper()
	n := 0
	ed := New(Options{
		Width:   400,
		Height:  300,
		History: history.Config{Debounce: 40 * time.Millisecond},
		Render: render.Options{Loader: assets.LoaderFunc(func(context.Context, string) (image.Image, error) {
			return nil, errors.New("offline")
		})},
		NewID: func() string { n++; return fmt.Sprintf("e%d", n) },
		Now:   func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	t.Cleanup(ed.Close)
	return ed
}

func content(t *testing.T, ed *Editor, id string) string {
	t.Helper()
	el, err := ed.Element(id)
	if err != nil {
		t.Fatal(err)
	}
	return el.Content
}

func TestInsertUndoRedo(t *testing.T) {
	ed := newTestEditor(t)
	for i := 0; i < 3; i++ {
		if _, err := ed.InsertText(fmt.Sprintf("line %d", i), ""); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if ok, err := ed.Undo(); !ok || err != nil {
			t.Fatalf("undo %d: %v %v", i, ok, err)
		}
	}
	if n := len(ed.Document().Elements); n != 0 {
		t.Fatalf("elements after undo = %d", n)
	}
	if ok, _ := ed.Undo(); ok {
		t.Fatalf("undo on empty stack did something")
	}
	if ok, _ := ed.Redo(); !ok {
		t.Fatalf("redo failed")
	}
	doc := ed.Document()
	if len(doc.Elements) != 1 || doc.Elements[0].Content != "line 0" {
		t.Fatalf("after redo: %+v", doc.Elements)
	}
	if got := ed.Engine().Order(); len(got) != 1 {
		t.Fatalf("engine out of sync: %v", got)
	}
}

func TestInsertTextUsesPreset(t *testing.T) {
	ed := newTestEditor(t)
	id, err := ed.InsertText("Certificate", "Title")
	if err != nil {
		t.Fatal(err)
	}
	el, _ := ed.Element(id)
	if el.FontSize != 48 || el.FontWeight != "bold" || el.TextAlign != "center" {
		t.Fatalf("preset not applied: %+v", el)
	}
	if ed.Selected() != id {
		t.Fatalf("new element not selected")
	}
	if _, err := ed.InsertText("x", "Nope"); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("unknown preset: %v", err)
	}
}

func TestTypingBurstIsOneUndoStep(t *testing.T) {
	ed := newTestEditor(t)
	id, _ := ed.InsertText("", "")
	for _, s := range []string{"H", "He", "Hel", "Hell", "Hello"} {
		if err := ed.TypeText(id, s); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := ed.Undo(); err != nil {
		t.Fatal(err)
	}
	if got := content(t, ed, id); got != "" {
		t.Fatalf("burst undo left %q", got)
	}
}

func TestTypingBurstClosesAfterQuiet(t *testing.T) {
	ed := newTestEditor(t)
	id, _ := ed.InsertText("", "")
	_ = ed.TypeText(id, "A")
	time.Sleep(150 * time.Millisecond)
	_ = ed.TypeText(id, "AB")
	_, _ = ed.Undo()
	if got := content(t, ed, id); got != "A" {
		t.Fatalf("second burst undo left %q", got)
	}
}

func TestTypeTextRemapsStyles(t *testing.T) {
	ed := newTestEditor(t)
	id, _ := ed.InsertText("Hello World", "")
	if err := ed.SetCharStyle(id, 6, 11, domain.StyleFragment{FontWeight: "bold"}); err != nil {
		t.Fatal(err)
	}
	if err := ed.TypeText(id, "Dear Hello World"); err != nil {
		t.Fatal(err)
	}
	el, _ := ed.Element(id)
	for col := 11; col < 16; col++ {
		if f, ok := el.Styles.Get(0, col); !ok || f.FontWeight != "bold" {
			t.Fatalf("col %d lost its style", col)
		}
	}
	if _, ok := el.Styles.Get(0, 6); ok {
		t.Fatalf("style left behind on shifted index")
	}
	if err := ed.ClearCharStyle(id, 0, 16); err != nil {
		t.Fatal(err)
	}
	if el, _ := ed.Element(id); el.Styles != nil {
		t.Fatalf("styles not cleared: %v", el.Styles)
	}
}

func TestTypeTextPrunesVariableStyles(t *testing.T) {
	ed := newTestEditor(t)
	id, _ := ed.InsertText("[A] and [B]", "")
	if err := ed.SetVariableStyle(id, "B_0", domain.StyleFragment{FontStyle: "italic"}); err != nil {
		t.Fatal(err)
	}
	if err := ed.SetVariableStyle(id, "C_0", domain.StyleFragment{FontStyle: "italic"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("styling a missing variable: %v", err)
	}
	if err := ed.TypeText(id, "[A] and"); err != nil {
		t.Fatal(err)
	}
	el, _ := ed.Element(id)
	if el.VariableStyles != nil || !el.HasVariables {
		t.Fatalf("after removing [B]: styles=%v has=%v", el.VariableStyles, el.HasVariables)
	}
	_ = ed.TypeText(id, "plain")
	if el, _ := ed.Element(id); el.HasVariables {
		t.Fatalf("HasVariables stale")
	}
}

func TestPreviewIsReadOnly(t *testing.T) {
	ed := newTestEditor(t)
	id, _ := ed.InsertText("Dear [Name]", "")
	ds := &domain.Dataset{Headers: []string{"Name"}, Rows: []map[string]string{{"Name": "Alex"}, {"Name": "Sam"}}}
	if err := ed.SetPreview(ds, domain.RowBindings{"Name": "Name"}, 0); err != nil {
		t.Fatal(err)
	}
	if got := content(t, ed, id); got != "Dear [Name]" {
		t.Fatalf("canonical content changed: %q", got)
	}
	if got := ed.Engine().TextLines(id); len(got) != 1 || got[0] != "Dear Alex" {
		t.Fatalf("surface shows %q", got)
	}
	if err := ed.TypeText(id, "x"); !errors.Is(err, ErrPreviewActive) {
		t.Fatalf("typing during preview: %v", err)
	}
	if _, err := ed.Undo(); !errors.Is(err, ErrPreviewActive) {
		t.Fatalf("undo during preview: %v", err)
	}
	if err := ed.StepPreview(5); err != nil {
		t.Fatal(err)
	}
	if row, ok := ed.PreviewRow(); !ok || row != 1 {
		t.Fatalf("row = %d %v", row, ok)
	}
	if err := ed.ClearPreview(); err != nil {
		t.Fatal(err)
	}
	if got := ed.Engine().TextLines(id); got[0] != "Dear [Name]" {
		t.Fatalf("surface after preview %q", got)
	}
	if err := ed.TypeText(id, "Hi [Name]"); err != nil {
		t.Fatal(err)
	}
	if err := ed.SetPreview(ds, nil, 9); err == nil {
		t.Fatalf("out of range row accepted")
	}
}

func TestHighlightSurvivesPreview(t *testing.T) {
	ed := newTestEditor(t)
	if _, err := ed.InsertText("Dear [Name]", ""); err != nil {
		t.Fatal(err)
	}
	on := append([]byte(nil), ed.Surface().Pix...)
	if err := ed.SetHighlight(false); err != nil {
		t.Fatal(err)
	}
	if string(ed.Surface().Pix) == string(on) {
		t.Fatalf("turning the overlay off did not change the surface")
	}
	ds := &domain.Dataset{Headers: []string{"Name"}, Rows: []map[string]string{{"Name": "Alex"}}}
	if err := ed.SetPreview(ds, domain.RowBindings{"Name": "Name"}, 0); err != nil {
		t.Fatal(err)
	}
	if err := ed.ClearPreview(); err != nil {
		t.Fatal(err)
	}
	if ed.Highlight() {
		t.Fatalf("clearing the preview turned the overlay back on")
	}
}

func TestLockedElement(t *testing.T) {
	ed := newTestEditor(t)
	id, _ := ed.InsertText("fixed", "")
	if err := ed.Update(id, func(el *domain.Element) { el.Locked = true }); err != nil {
		t.Fatal(err)
	}
	if err := ed.Delete(id); !errors.Is(err, ErrLocked) {
		t.Fatalf("delete locked: %v", err)
	}
	if err := ed.TypeText(id, "changed"); !errors.Is(err, ErrLocked) {
		t.Fatalf("type into locked: %v", err)
	}
	if err := ed.Engine().MoveGesture(id, 0, 0); !errors.Is(err, render.ErrLocked) {
		t.Fatalf("move locked: %v", err)
	}
	_ = ed.Update(id, func(el *domain.Element) { el.Locked = false })
	if err := ed.Delete(id); err != nil {
		t.Fatal(err)
	}
	if ed.Selected() != "" {
		t.Fatalf("deleted element still selected")
	}
}

func TestDuplicateAndPaste(t *testing.T) {
	ed := newTestEditor(t)
	if _, err := ed.Paste(); !errors.Is(err, ErrEmptyClip) {
		t.Fatalf("paste empty: %v", err)
	}
	id, _ := ed.InsertText("copy me", "")
	orig, _ := ed.Element(id)
	dup, err := ed.Duplicate(id)
	if err != nil {
		t.Fatal(err)
	}
	d, _ := ed.Element(dup)
	if dup == id || d.X != orig.X+pasteOffset || d.ZIndex <= orig.ZIndex || ed.Selected() != dup {
		t.Fatalf("duplicate = %+v", d)
	}
	_ = ed.Copy(id)
	p1, _ := ed.Paste()
	p2, _ := ed.Paste()
	if p1 == p2 {
		t.Fatalf("pastes share id %s", p1)
	}
	if n := len(ed.Document().Elements); n != 4 {
		t.Fatalf("elements = %d", n)
	}
}

func TestBringToFrontAndSendToBack(t *testing.T) {
	ed := newTestEditor(t)
	a, _ := ed.InsertText("a", "")
	b, _ := ed.InsertText("b", "")
	if err := ed.BringToFront(a); err != nil {
		t.Fatal(err)
	}
	order := ed.Engine().Order()
	if order[len(order)-1] != a {
		t.Fatalf("order = %v", order)
	}
	if err := ed.SendToBack(a); err != nil {
		t.Fatal(err)
	}
	if order := ed.Engine().Order(); order[0] != a || order[1] != b {
		t.Fatalf("order = %v", order)
	}
}

func TestSurfaceSelectionGoesThroughModel(t *testing.T) {
	ed := newTestEditor(t)
	id, _ := ed.InsertImage("", 100, 50)
	_ = ed.Select("")
	if got := ed.Engine().PointerDown(200, 150); got != id {
		t.Fatalf("hit %q", got)
	}
	if ed.Selected() != id || ed.Engine().Selected() != id {
		t.Fatalf("selection not applied: model=%q engine=%q", ed.Selected(), ed.Engine().Selected())
	}
	if err := ed.Select("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("select missing: %v", err)
	}
}

func TestGeometryCommitIsUndoable(t *testing.T) {
	ed := newTestEditor(t)
	id, _ := ed.InsertImage("", 100, 50)
	if err := ed.Engine().ScaleGesture(id, 2, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := ed.Engine().SettleTransform(id); err != nil {
		t.Fatal(err)
	}
	el, _ := ed.Element(id)
	if el.Width != 200 || el.Height != 100 || el.ScaleX != 1 {
		t.Fatalf("committed %+v", el)
	}
	_, _ = ed.Undo()
	if el, _ := ed.Element(id); el.Width != 100 {
		t.Fatalf("undo geometry: %+v", el)
	}
}

func TestLoadLayoutClearsHistory(t *testing.T) {
	ed := newTestEditor(t)
	_, _ = ed.InsertText("before", "")
	layout := domain.Layout{
		Name:       "award",
		CanvasSize: domain.CanvasSize{Width: 800, Height: 600},
		Background: domain.Background{Color: "#fafafa"},
		Elements:   []domain.Element{{ID: "x", Type: domain.TypeText, Content: "Award"}},
	}
	if err := ed.LoadLayout(layout); err != nil {
		t.Fatal(err)
	}
	if ed.History().CanUndo() {
		t.Fatalf("history survived load")
	}
	got := ed.Layout("award")
	if len(got.Elements) != 1 || got.CanvasSize.Width != 800 || got.Timestamp.Year() != 2025 {
		t.Fatalf("layout = %+v", got)
	}
	bad := layout
	bad.Elements = append(bad.Elements, domain.Element{ID: "x", Type: domain.TypeText})
	if err := ed.LoadLayout(bad); !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("invalid layout: %v", err)
	}
}

func TestSetCanvasSize(t *testing.T) {
	ed := newTestEditor(t)
	if err := ed.SetCanvasSize(0, 10); err == nil {
		t.Fatalf("zero width accepted")
	}
	if err := ed.SetCanvasSize(640, 480); err != nil {
		t.Fatal(err)
	}
	if b := ed.Surface().Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Fatalf("surface = %v", b)
	}
}

func TestImageLoadRepaints(t *testing.T) {
	var changes atomic.Int32
	ed := New(Options{
		Width:  100,
		Height: 100,
		Render: render.Options{Loader: assets.LoaderFunc(func(context.Context, string) (image.Image, error) {
			img := image.NewRGBA(image.Rect(0, 0, 4, 4))
			img.Set(0, 0, color.White)
			return img, nil
		})},
		OnChange: func() { changes.Add(1) },
	})
	defer ed.Close()
	if err := ed.SetBackground(domain.Background{Src: "paper.png", Color: "#ffffff"}); err != nil {
		t.Fatal(err)
	}
	afterEdit := changes.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ed.Engine().Settle(ctx); err != nil {
		t.Fatal(err)
	}
	if ed.Engine().BackgroundImage() == nil {
		t.Fatal("background not loaded")
	}
	if got := changes.Load(); got != afterEdit+1 {
		t.Fatalf("changes = %d, want %d after the load", got, afterEdit+1)
	}
}
