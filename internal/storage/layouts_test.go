/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"certcanvas/internal/domain"
)

func sampleLayout(name string, extra int) domain.Layout {
	underline := true
	els := []domain.Element{
		{
			ID: "t1", Type: domain.TypeText, X: 10, Y: 20, Width: 300, FontSize: 20, Fill: "#000000",
			Content: "Hello [name]", HasVariables: true, FixedHeight: 60,
			Styles:         domain.CharStyleMap{0: {0: {Fill: "#ff0000", Underline: &underline}}},
			VariableStyles: domain.VariableStyleMap{"name_0": {FontWeight: "bold"}},
		},
		{ID: "i1", Type: domain.TypeImage, Width: 100, Height: 80, Src: "logo.png", ZIndex: 1},
	}
	for i := 0; i < extra; i++ {
		els = append(els, domain.Element{ID: "x" + string(rune('a'+i)), Type: domain.TypeText, Content: "extra", ZIndex: 2 + i})
	}
	return domain.Layout{
		Name:       name,
		Elements:   els,
		CanvasSize: domain.CanvasSize{Width: 800, Height: 600},
		Background: domain.Background{Color: "#ffffff"},
		Timestamp:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	in := sampleLayout("Course Diploma", 0)
	if err := fs.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := fs.Path(in.Name)
	if filepath.Base(path) != "course-diploma.layout.json" {
		t.Fatalf("unexpected file name %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if gjson.GetBytes(raw, "app").String() == "" {
		t.Fatalf("app version not stamped: %s", raw)
	}

	out, err := fs.Load(ctx, in.Name)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Name != in.Name || len(out.Elements) != 2 || out.CanvasSize != in.CanvasSize {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Fatalf("timestamp %v want %v", out.Timestamp, in.Timestamp)
	}
	txt := out.Elements[0]
	if f, ok := txt.Styles.Get(0, 0); !ok || f.Fill != "#ff0000" || f.Underline == nil {
		t.Fatalf("char styles lost: %+v", txt.Styles)
	}
	if txt.VariableStyles["name_0"].FontWeight != "bold" || txt.FixedHeight != 60 {
		t.Fatalf("text attributes lost: %+v", txt)
	}
}

func TestSaveBacksUpAndLoadFallsBack(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.Save(ctx, sampleLayout("Award", 0)); err != nil {
		t.Fatalf("Save v1: %v", err)
	}
	if err := fs.Save(ctx, sampleLayout("Award", 2)); err != nil {
		t.Fatalf("Save v2: %v", err)
	}
	baks := backupsOf(filepath.Join(fs.Dir, BackupsDirName), "award"+LayoutExt)
	if len(baks) == 0 {
		t.Fatalf("expected a timestamped backup")
	}
	if err := os.WriteFile(fs.Path("Award"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	got, err := fs.Load(ctx, "Award")
	if err != nil {
		t.Fatalf("Load with fallback: %v", err)
	}
	// the backup holds the first save
	if len(got.Elements) != 2 {
		t.Fatalf("expected backup content with 2 elements, got %d", len(got.Elements))
	}
}

func TestLoadMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := fs.Load(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := fs.Save(ctx, sampleLayout("Gone", 0)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := fs.Save(ctx, sampleLayout("Gone", 1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := fs.Delete(ctx, "Gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.Load(ctx, "Gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted layout must not resurrect from backup, got %v", err)
	}
	if err := fs.Delete(ctx, "Gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestListSummaries(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_ = fs.Save(ctx, sampleLayout("Zeta", 1))
	_ = fs.Save(ctx, sampleLayout("Alpha", 0))
	if err := os.WriteFile(filepath.Join(fs.Dir, "broken"+LayoutExt), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := fs.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 summaries, got %+v", list)
	}
	if list[0].Name != "Alpha" || list[0].Elements != 2 || list[1].Elements != 3 {
		t.Fatalf("unexpected summaries: %+v", list)
	}
	if list[0].Width != 800 || list[0].Height != 600 || list[0].Timestamp == "" {
		t.Fatalf("summary fields: %+v", list[0])
	}
}

func TestEncodeRejectsBrokenLayouts(t *testing.T) {
	l := sampleLayout("Dup", 0)
	l.Elements[1].ID = "t1"
	if _, err := EncodeLayout(l); !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
	if _, err := EncodeLayout(sampleLayout("  ", 0)); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	bad := sampleLayout("Zero", 0)
	bad.CanvasSize.Width = 0
	if _, err := EncodeLayout(bad); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestValidateLayoutJSON(t *testing.T) {
	data, err := EncodeLayout(sampleLayout("Ok", 0))
	if err != nil {
		t.Fatalf("EncodeLayout: %v", err)
	}
	if err := ValidateLayoutJSON(data); err != nil {
		t.Fatalf("encoded layout should validate: %v", err)
	}
	cases := map[string]string{
		"missing elements": `{"name":"a","canvasSize":{"width":1,"height":1},"background":{}}`,
		"bad style key":    `{"name":"a","canvasSize":{"width":1,"height":1},"background":{},"elements":[{"id":"e","type":"text","styles":{"x":{}}}]}`,
		"unknown fragment": `{"name":"a","canvasSize":{"width":1,"height":1},"background":{},"elements":[{"id":"e","type":"text","variableStyles":{"n_0":{"glow":1}}}]}`,
	}
	for name, doc := range cases {
		if err := ValidateLayoutJSON([]byte(doc)); !errors.Is(err, ErrSchema) {
			t.Errorf("%s: expected ErrSchema, got %v", name, err)
		}
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Course Diploma": "course-diploma",
		"  ":             "layout",
		"Ünïcode/../x":   "n-code-x",
		"2025 Award!":    "2025-award",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q)=%q want %q", in, got, want)
		}
	}
}

func TestPruneBackupsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for _, stamp := range []string{"20250101-000001", "20250101-000002", "20250101-000003"} {
		p := filepath.Join(dir, "a.layout.json."+stamp+".bak")
		if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	pruneBackups(dir, "a.layout.json", 2)
	left := backupsOf(dir, "a.layout.json")
	if len(left) != 2 || !strings.Contains(left[0], "000002") {
		t.Fatalf("unexpected backups after prune: %v", left)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, "file", t.TempDir())
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	if _, ok := st.(*FileStore); !ok {
		t.Fatalf("expected *FileStore, got %T", st)
	}
	if _, err := Open(ctx, "mongo", "x"); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
