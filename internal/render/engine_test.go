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
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"certcanvas/internal/assets"
	"certcanvas/internal/domain"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// fakeLoader serves images per source with an optional delay per source.
type fakeLoader struct {
	mu     sync.Mutex
	images map[string]image.Image
	delay  map[string]time.Duration
	calls  atomic.Int32
}

func (f *fakeLoader) Load(ctx context.Context, src string) (image.Image, error) {
	f.calls.Add(1)
	f.mu.Lock()
	img, ok := f.images[src]
	d := f.delay[src]
	f.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("not found: " + src)
	}
	return img, nil
}

func newTestEngine(t *testing.T, loader assets.Loader, hooks Hooks) *Engine {
	t.Helper()
	e := New(Options{Loader: loader, Hooks: hooks})
	t.Cleanup(e.Close)
	return e
}

func textEl(id, content string) domain.Element {
	return domain.Element{ID: id, Type: domain.TypeText, X: 10, Y: 10, Width: 200, Content: content, FontSize: 20}
}

func settle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func TestReconcileUpdatesInPlace(t *testing.T) {
	e := newTestEngine(t, &fakeLoader{}, Hooks{})
	doc := domain.NewDocument(400, 300)
	doc.Elements = append(doc.Elements, textEl("t1", "Hello"), textEl("t2", "World"))
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	first := e.nodes["t1"].text

	doc.Elements[0].X = 50
	doc.Elements[0].Content = "Hello again"
	doc.Elements = doc.Elements[:1]
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if e.nodes["t1"].text != first {
		t.Fatalf("text node was re-created")
	}
	if _, ok := e.nodes["t2"]; ok {
		t.Fatalf("vanished element still rendered")
	}
	geo, _ := e.Geometry("t1")
	if geo.X != 50 {
		t.Fatalf("x not updated: %v", geo.X)
	}
	if got := e.TextLines("t1"); len(got) != 1 || got[0] != "Hello again" {
		t.Fatalf("lines = %q", got)
	}
}

func TestReconcileInvariantAborts(t *testing.T) {
	e := newTestEngine(t, &fakeLoader{}, Hooks{})
	doc := domain.NewDocument(100, 100)
	doc.Elements = append(doc.Elements, textEl("a", "x"))
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	doc.Elements = append(doc.Elements, textEl("a", "dup"), textEl("b", "y"))
	err := e.Reconcile(doc)
	if !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("want ErrInvariant, got %v", err)
	}
	if got := e.Order(); len(got) != 1 {
		t.Fatalf("aborted pass touched the scene: %v", got)
	}
}

func TestReconcileSkipsUnrenderableElement(t *testing.T) {
	e := newTestEngine(t, &fakeLoader{}, Hooks{})
	doc := domain.NewDocument(100, 100)
	doc.Elements = append(doc.Elements,
		textEl("a", "x"),
		domain.Element{ID: "s", Type: "shape"},
		textEl("b", "y"),
	)
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if got := e.Order(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("order = %v", got)
	}
}

func TestFixedHeightSurvivesRelayout(t *testing.T) {
	e := newTestEngine(t, &fakeLoader{}, Hooks{})
	doc := domain.NewDocument(400, 300)
	doc.Elements = append(doc.Elements, textEl("t", "Short"))
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	auto, _ := e.Geometry("t")
	if auto.H <= 0 || auto.H >= 150 {
		t.Fatalf("unexpected intrinsic height %v", auto.H)
	}

	if err := e.ResizeGesture("t", 200, 150); err != nil {
		t.Fatal(err)
	}
	if err := e.EditText("t", "Short and now quite a bit longer than before"); err != nil {
		t.Fatal(err)
	}
	if geo, _ := e.Geometry("t"); geo.H != 150 {
		t.Fatalf("height after typing = %v", geo.H)
	}
	if err := e.ResizeGesture("t", 80, 0); err != nil {
		t.Fatal(err)
	}
	if geo, _ := e.Geometry("t"); geo.H != 150 || geo.W != 80 {
		t.Fatalf("after re-wrap = %vx%v", geo.W, geo.H)
	}
	if lines := e.TextLines("t"); len(lines) < 2 {
		t.Fatalf("narrow box did not wrap: %q", lines)
	}
	if err := e.ScaleGesture("t", 1.5, 2); err != nil {
		t.Fatal(err)
	}
	geo, _ := e.Geometry("t")
	if geo.H != 300 || geo.W != 120 || geo.ScaleX != 1 || geo.ScaleY != 1 {
		t.Fatalf("after scale = %+v", geo)
	}

	// the persisted fixed height wins on reconcile
	doc.Elements[0].FixedHeight = 90
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if geo, _ := e.Geometry("t"); geo.H != 90 {
		t.Fatalf("persisted fixed height = %v", geo.H)
	}
}

func TestScaleKeepsGlyphSize(t *testing.T) {
	e := newTestEngine(t, &fakeLoader{}, Hooks{})
	doc := domain.NewDocument(400, 300)
	doc.Elements = append(doc.Elements, textEl("t", "Hi"))
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	before := e.nodes["t"].text.Box().Lines[0].Pieces[0].Font.SizePt
	if err := e.ScaleGesture("t", 3, 3); err != nil {
		t.Fatal(err)
	}
	after := e.nodes["t"].text.Box().Lines[0].Pieces[0].Font.SizePt
	if before != after || after != 20 {
		t.Fatalf("glyph size changed: %v -> %v", before, after)
	}
}

func TestSettleTransformFlattensImageScale(t *testing.T) {
	var got GeometryChange
	e := newTestEngine(t, &fakeLoader{}, Hooks{OnGeometry: func(c GeometryChange) { got = c }})
	doc := domain.NewDocument(400, 300)
	doc.Elements = append(doc.Elements,
		domain.Element{ID: "img", Type: domain.TypeImage, X: 5.4, Y: 5, Width: 100, Height: 50},
		domain.Element{ID: "pinned", Type: domain.TypeImage, Width: 10, Height: 10, Locked: true},
	)
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if err := e.ScaleGesture("img", 1.333, 2); err != nil {
		t.Fatal(err)
	}
	c, err := e.SettleTransform("img")
	if err != nil {
		t.Fatal(err)
	}
	if c.Width != 133 || c.Height != 100 || c.X != 5 {
		t.Fatalf("change = %+v", c)
	}
	if got != c {
		t.Fatalf("hook got %+v", got)
	}
	if geo, _ := e.Geometry("img"); geo.ScaleX != 1 || geo.ScaleY != 1 {
		t.Fatalf("scale not reset: %+v", geo)
	}
	if err := e.ScaleGesture("pinned", 2, 2); !errors.Is(err, ErrLocked) {
		t.Fatalf("locked element scaled: %v", err)
	}

	el := doc.Elements[0]
	c.Apply(&el)
	if el.Width != 133 || el.ScaleX != 1 {
		t.Fatalf("apply = %+v", el)
	}
}

func TestZOrderStableByIndex(t *testing.T) {
	e := newTestEngine(t, &fakeLoader{}, Hooks{})
	doc := domain.NewDocument(100, 100)
	for _, z := range []struct {
		id string
		z  int
	}{{"a", 2}, {"b", 0}, {"c", 2}, {"d", 1}} {
		el := textEl(z.id, z.id)
		el.ZIndex = z.z
		doc.Elements = append(doc.Elements, el)
	}
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "d", "a", "c"}
	got := e.Order()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	doc.Elements[1].ZIndex = 5
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if got := e.Order(); got[len(got)-1] != "b" {
		t.Fatalf("b not on top: %v", got)
	}
}

func TestSelectionIsReportedNotOriginated(t *testing.T) {
	var reported []string
	e := newTestEngine(t, &fakeLoader{}, Hooks{OnSelect: func(id string) { reported = append(reported, id) }})
	doc := domain.NewDocument(400, 300)
	doc.Elements = append(doc.Elements, domain.Element{ID: "box", Type: domain.TypeImage, X: 10, Y: 10, Width: 50, Height: 50})
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if id := e.PointerDown(20, 20); id != "box" {
		t.Fatalf("hit = %q", id)
	}
	if e.Selected() != "" {
		t.Fatalf("engine changed selection on its own")
	}
	e.PointerDown(300, 200)
	if len(reported) != 2 || reported[0] != "box" || reported[1] != "" {
		t.Fatalf("reported = %q", reported)
	}

	doc.SelectedElementID = "box"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if e.Selected() != "box" {
		t.Fatalf("selection not mirrored")
	}
	doc.SelectedElementID = "gone"
	_ = e.Reconcile(doc)
	if e.Selected() != "" {
		t.Fatalf("stale selection mirrored: %q", e.Selected())
	}
}

func TestEditSessionRestoresGeometry(t *testing.T) {
	var changes []GeometryChange
	e := newTestEngine(t, &fakeLoader{}, Hooks{OnGeometry: func(c GeometryChange) { changes = append(changes, c) }})
	doc := domain.NewDocument(400, 300)
	doc.Elements = append(doc.Elements, textEl("t", "Edit me"))
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	before, _ := e.Geometry("t")

	if err := e.BeginEdit("t"); err != nil {
		t.Fatal(err)
	}
	if err := e.ShiftEditSurface(0, -40); err != nil {
		t.Fatal(err)
	}
	// a reconcile during the session keeps the shifted surface
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if geo, _ := e.Geometry("t"); geo.Y != before.Y-40 {
		t.Fatalf("reconcile clobbered edit surface: %v", geo.Y)
	}
	if _, ok := e.EndEdit(); ok {
		t.Fatalf("unexpected geometry change")
	}
	after, _ := e.Geometry("t")
	if after.X != before.X || after.Y != before.Y || after.W != before.W || after.H != before.H {
		t.Fatalf("geometry leaked: %+v -> %+v", before, after)
	}

	_ = e.BeginEdit("t")
	_ = e.ShiftEditSurface(5, 5)
	_ = e.ResizeGesture("t", 250, 120)
	c, ok := e.EndEdit()
	if !ok || c.Width != 250 || c.FixedHeight != 120 || c.X != before.X {
		t.Fatalf("resize inside session: %+v ok=%v", c, ok)
	}
	if len(changes) != 1 {
		t.Fatalf("changes reported = %d", len(changes))
	}
	if err := e.ShiftEditSurface(1, 1); !errors.Is(err, ErrNoEdit) {
		t.Fatalf("shift without session: %v", err)
	}
}

func TestResizeInsideEditSurvivesTyping(t *testing.T) {
	e := newTestEngine(t, &fakeLoader{}, Hooks{})
	doc := domain.NewDocument(400, 300)
	doc.Elements = append(doc.Elements, textEl("t", "Edit me"))
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if err := e.BeginEdit("t"); err != nil {
		t.Fatal(err)
	}
	if err := e.ResizeGesture("t", 250, 120); err != nil {
		t.Fatal(err)
	}
	// typing commits the content and reconciles before the session ends
	doc.Elements[0].Content = "Edit me, now with a longer line"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if geo, _ := e.Geometry("t"); geo.W != 250 || geo.H != 120 || e.FixedHeight("t") != 120 {
		t.Fatalf("after typing: %+v fixed=%v", geo, e.FixedHeight("t"))
	}
	if lines := e.TextLines("t"); len(lines) == 0 || lines[0] == "" {
		t.Fatalf("new content not laid out: %q", lines)
	}
	c, ok := e.EndEdit()
	if !ok || c.Width != 250 || c.Height != 120 || c.FixedHeight != 120 {
		t.Fatalf("EndEdit: ok=%v change=%+v", ok, c)
	}

	// once the session is over the model is authoritative again
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	if geo, _ := e.Geometry("t"); geo.W != 200 {
		t.Fatalf("stale session width kept: %v", geo.W)
	}
}

func TestBackgroundLastWriterWins(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	loader := &fakeLoader{
		images: map[string]image.Image{"a.png": solid(4, 4, red), "b.png": solid(4, 4, blue)},
		delay:  map[string]time.Duration{"a.png": 200 * time.Millisecond, "b.png": 20 * time.Millisecond},
	}
	e := newTestEngine(t, loader, Hooks{})
	doc := domain.NewDocument(4, 4)
	doc.Background.Src = "a.png"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	doc.Background.Src = "b.png"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	settle(t, e)
	// give a straggling first load time to arrive and be discarded
	time.Sleep(250 * time.Millisecond)
	bg := e.BackgroundImage()
	if bg == nil || bg.At(0, 0) != color.Color(blue) {
		t.Fatalf("background = %v", bg)
	}
	if len(e.Warnings()) != 0 {
		t.Fatalf("superseded load warned: %v", e.Warnings())
	}
	if px := e.Render().RGBAAt(1, 1); px.B < 250 || px.R > 5 {
		t.Fatalf("rendered %v", px)
	}
}

func TestFailedLoadFallsBackAndWarns(t *testing.T) {
	green := color.RGBA{G: 255, A: 255}
	var warned []Warning
	loader := &fakeLoader{images: map[string]image.Image{"ok.png": solid(8, 6, green)}}
	e := newTestEngine(t, loader, Hooks{OnWarning: func(w Warning) { warned = append(warned, w) }})
	doc := domain.NewDocument(50, 50)
	doc.Elements = append(doc.Elements, domain.Element{ID: "img", Type: domain.TypeImage, Src: "ok.png"})
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	settle(t, e)
	if geo, _ := e.Geometry("img"); geo.W != 8 || geo.H != 6 {
		t.Fatalf("natural size not adopted: %+v", geo)
	}

	doc.Elements[0].Src = "missing.png"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	settle(t, e)
	if img := e.ImageOf("img"); img == nil || img.At(0, 0) != color.Color(green) {
		t.Fatalf("last good image not kept")
	}
	ws := e.Warnings()
	if len(ws) != 1 || ws[0].ElementID != "img" || ws[0].Src != "missing.png" {
		t.Fatalf("warnings = %+v", ws)
	}
	if len(warned) != 1 {
		t.Fatalf("hook saw %d warnings", len(warned))
	}
	if !e.DismissWarning(ws[0].ID) || len(e.Warnings()) != 0 {
		t.Fatalf("dismiss failed")
	}
}

func TestMalformedImageRejected(t *testing.T) {
	loader := &fakeLoader{images: map[string]image.Image{"empty.png": image.NewRGBA(image.Rect(0, 0, 0, 0))}}
	e := newTestEngine(t, loader, Hooks{})
	doc := domain.NewDocument(50, 50)
	doc.Background.Src = "empty.png"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	settle(t, e)
	if e.BackgroundImage() != nil {
		t.Fatalf("zero-sized image committed")
	}
	ws := e.Warnings()
	if len(ws) != 1 || !errors.Is(ws[0].Err, assets.ErrMalformedImage) {
		t.Fatalf("warnings = %+v", ws)
	}
}

func TestLoadTimeoutFallsBack(t *testing.T) {
	loader := &fakeLoader{
		images: map[string]image.Image{"slow.png": solid(2, 2, color.Black)},
		delay:  map[string]time.Duration{"slow.png": time.Second},
	}
	e := New(Options{Loader: loader, LoadTimeout: 30 * time.Millisecond})
	defer e.Close()
	doc := domain.NewDocument(10, 10)
	doc.Background.Src = "slow.png"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	settle(t, e)
	ws := e.Warnings()
	if len(ws) != 1 || !errors.Is(ws[0].Err, context.DeadlineExceeded) {
		t.Fatalf("warnings = %+v", ws)
	}
	if e.BackgroundImage() != nil {
		t.Fatalf("timed out image committed")
	}
}

func TestTokenSourceIsNotFetched(t *testing.T) {
	loader := &fakeLoader{}
	e := newTestEngine(t, loader, Hooks{})
	doc := domain.NewDocument(50, 50)
	doc.Elements = append(doc.Elements, domain.Element{ID: "photo", Type: domain.TypeImage, Width: 20, Height: 20, Src: "[Photo]"})
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	settle(t, e)
	if n := loader.calls.Load(); n != 0 {
		t.Fatalf("token source fetched %d times", n)
	}
	if px := e.Render().RGBAAt(5, 5); px.R != placeholderColor.R {
		t.Fatalf("placeholder not drawn: %v", px)
	}
}

func TestTokenBackgroundIsNotFetched(t *testing.T) {
	loader := &fakeLoader{images: map[string]image.Image{"paper.png": solid(4, 4, color.White)}}
	e := newTestEngine(t, loader, Hooks{})
	doc := domain.NewDocument(50, 50)
	doc.Background.Src = "paper.png"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	settle(t, e)
	doc.Background.Src = "[Backdrop]"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	settle(t, e)
	if n := loader.calls.Load(); n != 1 {
		t.Fatalf("loader calls = %d, want only the file", n)
	}
	if ws := e.Warnings(); len(ws) != 0 {
		t.Fatalf("token background warned: %v", ws)
	}
	if e.BackgroundImage() != nil {
		t.Fatalf("previous background still shown for a token source")
	}
}

func TestLoadedHookFiresOnCommitOnly(t *testing.T) {
	loader := &fakeLoader{
		images: map[string]image.Image{"a.png": solid(4, 4, color.Black), "b.png": solid(4, 4, color.White), "logo.png": solid(3, 3, color.White)},
		delay:  map[string]time.Duration{"a.png": 150 * time.Millisecond},
	}
	var mu sync.Mutex
	var loaded []string
	e := newTestEngine(t, loader, Hooks{OnLoaded: func(id string) {
		mu.Lock()
		loaded = append(loaded, id)
		mu.Unlock()
	}})
	doc := domain.NewDocument(20, 20)
	doc.Background.Src = "a.png"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	// b supersedes a; a lands later and must stay silent
	doc.Background.Src = "b.png"
	doc.Elements = append(doc.Elements, domain.Element{ID: "logo", Type: domain.TypeImage, Src: "logo.png"})
	doc.Elements = append(doc.Elements, domain.Element{ID: "gone", Type: domain.TypeImage, Src: "missing.png"})
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	settle(t, e)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(loaded) != 2 {
		t.Fatalf("loaded = %q, want background and logo", loaded)
	}
	seen := map[string]bool{}
	for _, id := range loaded {
		seen[id] = true
	}
	if !seen[""] || !seen["logo"] {
		t.Fatalf("loaded = %q", loaded)
	}
}

func TestRenderPaintsBackgroundColor(t *testing.T) {
	e := newTestEngine(t, &fakeLoader{}, Hooks{})
	doc := domain.NewDocument(10, 8)
	doc.Background.Color = "#ff0000"
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	img := e.Render()
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 8 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if px := img.RGBAAt(3, 3); px != (color.RGBA{R: 255, A: 255}) {
		t.Fatalf("pixel = %v", px)
	}
}

func TestHighlightOverlayColorsVariables(t *testing.T) {
	e := New(Options{Loader: &fakeLoader{}, Highlight: true})
	defer e.Close()
	doc := domain.NewDocument(400, 100)
	el := textEl("t", "Dear [Name]")
	el.HasVariables = true
	doc.Elements = append(doc.Elements, el)
	if err := e.Reconcile(doc); err != nil {
		t.Fatal(err)
	}
	pieces := e.nodes["t"].text.Box().Lines[0].Pieces
	last := pieces[len(pieces)-1]
	if last.Text != "[Name]" {
		t.Fatalf("variable not split into its own span: %q", last.Text)
	}
	if last.Color == pieces[0].Color {
		t.Fatalf("variable not highlighted")
	}
	if e.nodes["t"].el.Styles != nil {
		t.Fatalf("overlay leaked into element styles")
	}
}
