/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package workspace

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"certcanvas/internal/config"
	"certcanvas/internal/dataset"
	"certcanvas/internal/export"
	"certcanvas/internal/merge"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.General.AutosaveDir = t.TempDir()
	cfg.Editor.CanvasWidth, cfg.Editor.CanvasHeight = 400, 300
	cfg.Editor.AssetTimeoutMs = 2000
	cfg.Editor.StylesFile = filepath.Join(t.TempDir(), "styles.yaml")
	return cfg
}

func newSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(testConfig(t), Hooks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPlanFor(t *testing.T) {
	cfg := config.Defaults()
	p, err := PlanFor(cfg, "", "", 0)
	if err != nil || p.Format != export.FormatPNG || p.DPI != 96 || p.Guides {
		t.Fatalf("default plan %+v, %v", p, err)
	}
	p, err = PlanFor(cfg, "print", "", 0)
	if err != nil || p.Format != export.FormatPDF || p.DPI != 300 || !p.Guides {
		t.Fatalf("print plan %+v, %v", p, err)
	}
	p, err = PlanFor(cfg, "print", "zip", 150)
	if err != nil || p.Format != export.FormatZIP || p.DPI != 150 {
		t.Fatalf("overridden plan %+v, %v", p, err)
	}
	cfg.Export.Format = "pdf"
	if p, _ = PlanFor(cfg, "", "", 0); p.Format != export.FormatPDF {
		t.Fatalf("configured format ignored: %+v", p)
	}
	if _, err := PlanFor(cfg, "poster", "", 0); err == nil {
		t.Fatalf("expected unknown preset error")
	}
	if _, err := PlanFor(cfg, "", "tiff", 0); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestSaveAndOpenRoundTrip(t *testing.T) {
	s := newSession(t)
	if err := s.Save(); !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath, got %v", err)
	}
	if _, err := s.Editor.InsertText("Hello [name]", "Body"); err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	path := filepath.Join(t.TempDir(), "award.layout.json")
	if err := s.SaveAs(path, "Award"); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	other := newSession(t)
	if err := other.Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if other.Name != "Award" || len(other.Editor.Document().Elements) != 1 {
		t.Fatalf("opened session: name %q, %d elements", other.Name, len(other.Editor.Document().Elements))
	}
	if !strings.Contains(other.Title(), "award.layout.json") {
		t.Fatalf("title %q", other.Title())
	}
	if other.Editor.History().CanUndo() {
		t.Fatalf("opening a layout must clear history")
	}
}

func TestDatasetBindingAndPreview(t *testing.T) {
	s := newSession(t)
	id, err := s.Editor.InsertText("Hello [Name]", "Body")
	if err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	if err := s.Preview(true, 0); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
	csv := filepath.Join(t.TempDir(), "people.csv")
	writeFile(t, csv, "name,course\nSam,Go\nAlex,Rust\n")
	if err := s.LoadDataset(csv, dataset.Options{}); err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if s.Bindings["Name"] != "name" {
		t.Fatalf("auto binding: %v", s.Bindings)
	}
	if err := s.Preview(true, 1); err != nil {
		t.Fatalf("Preview: %v", err)
	}
	prev := s.Editor.PreviewDocument()
	el, _ := prev.Find(id)
	if el == nil || el.Content != "Hello Alex" {
		t.Fatalf("preview content: %+v", el)
	}
	if !strings.Contains(s.Title(), "preview row 2") {
		t.Fatalf("title %q", s.Title())
	}
	if err := s.Bind("Name", "missing"); !errors.Is(err, merge.ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
	if err := s.Bind("Name", "course"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	el, _ = s.Editor.PreviewDocument().Find(id)
	if el.Content != "Hello Rust" {
		t.Fatalf("rebinding should refresh the preview, got %q", el.Content)
	}
	if err := s.Preview(false, 0); err != nil {
		t.Fatalf("clear preview: %v", err)
	}
	if _, on := s.Editor.PreviewRow(); on {
		t.Fatalf("preview still active")
	}
}

func TestExportWritesOneFilePerRow(t *testing.T) {
	s := newSession(t)
	if _, err := s.Editor.InsertText("Awarded to [name]", "Title"); err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	dir := t.TempDir()
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name\nSam\nAlex\nKim\n")
	if err := s.LoadDataset(csv, dataset.Options{}); err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	plan, _ := PlanFor(s.Config, "", "", 0)
	plan.NameColumn = "name"
	out := filepath.Join(dir, "out")
	calls := 0
	rep, err := s.Export(context.Background(), out, plan, func(done, total int) { calls++ })
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if rep.Completed != 3 || calls != 3 {
		t.Fatalf("report %+v, progress calls %d", rep, calls)
	}
	for _, n := range []string{"Sam.png", "Alex.png", "Kim.png"} {
		if _, err := os.Stat(filepath.Join(out, n)); err != nil {
			t.Fatalf("missing %s: %v", n, err)
		}
	}
}

func TestRelativeImagesResolveAgainstLayoutDir(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(filepath.Join(dir, "logo.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	s := newSession(t)
	if err := s.SaveAs(filepath.Join(dir, "x.layout.json"), "X"); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	id, err := s.Editor.InsertImage("logo.png", 8, 8)
	if err != nil {
		t.Fatalf("InsertImage: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Editor.Engine().Settle(ctx); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if s.Editor.Engine().ImageOf(id) == nil {
		t.Fatalf("image not loaded; warnings: %v", s.Editor.Engine().Warnings())
	}
}

func TestCrashSessionAutosaves(t *testing.T) {
	s := newSession(t)
	s.Name = "Crashy"
	cs := s.CrashSession()
	if cs.Dir != s.Config.General.AutosaveDir || cs.Name != "Crashy" || cs.Source == nil {
		t.Fatalf("crash session %+v", cs)
	}
}

func TestUserStylesReachEditor(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.Editor.StylesFile, "styles:\n  Ribbon:\n    size: 18\n    weight: 700\n")
	s, err := New(cfg, Hooks{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.Editor.Presets().Get("Ribbon"); !ok {
		t.Fatal("Ribbon preset not loaded")
	}
	if _, err := s.Editor.InsertText("Hi", "Ribbon"); err != nil {
		t.Fatal(err)
	}

	// a broken styles file does not stop the session
	writeFile(t, cfg.Editor.StylesFile, "styles: [")
	s2, err := New(cfg, Hooks{})
	if err != nil {
		t.Fatalf("broken styles: %v", err)
	}
	s2.Close()
}
