/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCharStyleMapApplyEditShiftsSuffix(t *testing.T) {
	m := CharStyleMap{}
	m.Set(0, 2, StyleFragment{FontWeight: "bold"})
	got := m.ApplyEdit("abc", "abXc")
	if _, ok := got.Get(0, 2); ok {
		t.Fatalf("inserted character must not inherit the style")
	}
	if f, ok := got.Get(0, 3); !ok || f.FontWeight != "bold" {
		t.Fatalf("style should follow 'c' to index 3, got %+v", got)
	}
}

func TestCharStyleMapApplyEditDropsDeleted(t *testing.T) {
	m := CharStyleMap{}
	m.Set(0, 1, StyleFragment{Fill: "#ff0000"})
	m.Set(0, 2, StyleFragment{FontStyle: "italic"})
	got := m.ApplyEdit("abc", "ac")
	if got.Len() != 1 {
		t.Fatalf("expected 1 styled char, got %d (%+v)", got.Len(), got)
	}
	if f, ok := got.Get(0, 1); !ok || f.FontStyle != "italic" {
		t.Fatalf("'c' should keep italic at index 1, got %+v", got)
	}
}

func TestCharStyleMapApplyEditAcrossLines(t *testing.T) {
	m := CharStyleMap{}
	m.Set(1, 1, StyleFragment{Underline: Bool(true)})
	got := m.ApplyEdit("ab\ncd", "Xab\ncd")
	if f, ok := got.Get(1, 1); !ok || f.Underline == nil || !*f.Underline {
		t.Fatalf("style on 'd' should stay at line 1 char 1, got %+v", got)
	}
	// joining lines moves the style onto line 0
	got = m.ApplyEdit("ab\ncd", "abcd")
	if f, ok := got.Get(0, 3); !ok || f.Underline == nil {
		t.Fatalf("style on 'd' should move to line 0 char 3, got %+v", got)
	}
}

func TestFlattenUnflatten(t *testing.T) {
	content := "hi\n\nthere"
	m := CharStyleMap{}
	m.Set(0, 1, StyleFragment{Fill: "#000"})
	m.Set(2, 4, StyleFragment{Fill: "#111"})
	m.Set(5, 0, StyleFragment{Fill: "#222"}) // no such line
	flat := m.Flatten(content)
	if len(flat) != 2 || flat[1].Fill != "#000" || flat[8].Fill != "#111" {
		t.Fatalf("unexpected flat map %+v", flat)
	}
	back := Unflatten(flat, content)
	if back.Len() != 2 {
		t.Fatalf("round trip lost entries: %+v", back)
	}
	if _, ok := back.Get(2, 4); !ok {
		t.Fatalf("missing line 2 entry")
	}
}

func TestSetEmptyAndPrune(t *testing.T) {
	m := CharStyleMap{}
	m.Set(0, 0, StyleFragment{Fill: "#fff"})
	m.Set(0, 0, StyleFragment{})
	if len(m) != 0 {
		t.Fatalf("empty fragment should clear the entry and its line, got %+v", m)
	}
	m[3] = map[int]StyleFragment{1: {}}
	m.Prune()
	if len(m) != 0 {
		t.Fatalf("prune should drop empty lines, got %+v", m)
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	d := NewDocument(800, 600)
	el := Element{ID: "a", Type: TypeText, Content: "[Name]", Styles: CharStyleMap{}, VariableStyles: VariableStyleMap{"Name_0": {FontWeight: "bold"}}}
	el.Styles.Set(0, 0, StyleFragment{Underline: Bool(true)})
	d.Elements = append(d.Elements, el)

	c := d.Clone()
	c.Elements[0].Styles.Set(0, 1, StyleFragment{Fill: "#123456"})
	*c.Elements[0].Styles[0][0].Underline = false
	c.Elements[0].VariableStyles["Name_0"] = StyleFragment{FontStyle: "italic"}

	orig := d.Elements[0]
	if orig.Styles.Len() != 1 || !*orig.Styles[0][0].Underline {
		t.Fatalf("clone shares character styles with original")
	}
	if orig.VariableStyles["Name_0"].FontWeight != "bold" {
		t.Fatalf("clone shares variable styles with original")
	}
}

func TestValidate(t *testing.T) {
	d := NewDocument(100, 100)
	d.Elements = []Element{{ID: "a", Type: TypeText}, {ID: "a", Type: TypeImage}}
	if err := d.Validate(); !errors.Is(err, ErrInvariant) {
		t.Fatalf("duplicate id: want ErrInvariant, got %v", err)
	}
	d.Elements = []Element{{Type: TypeText}}
	if err := d.Validate(); !errors.Is(err, ErrInvariant) {
		t.Fatalf("missing id: want ErrInvariant, got %v", err)
	}
	d.Elements = []Element{{ID: "x"}}
	if err := d.Validate(); !errors.Is(err, ErrInvariant) {
		t.Fatalf("missing type: want ErrInvariant, got %v", err)
	}
	d.Elements = []Element{{ID: "x", Type: TypeText}, {ID: "y", Type: TypeImage}}
	if err := d.Validate(); err != nil {
		t.Fatalf("valid document: %v", err)
	}
}

func TestRestoreClearsStaleSelection(t *testing.T) {
	d := NewDocument(10, 10)
	snap := d.Snapshot()
	d.Elements = append(d.Elements, Element{ID: "a", Type: TypeText})
	d.SelectedElementID = "a"
	d.Restore(snap)
	if d.SelectedElementID != "" || len(d.Elements) != 0 {
		t.Fatalf("restore did not clear selection: %+v", d)
	}
}

func TestLayoutJSONKeepsStyles(t *testing.T) {
	d := NewDocument(1123, 794)
	el := Element{ID: "t1", Type: TypeText, Content: "Hello\n[Name]", ZIndex: 2, Styles: CharStyleMap{}}
	el.Styles.Set(1, 3, StyleFragment{FontWeight: "bold"})
	d.Elements = append(d.Elements, el)
	l := d.Layout("cert", time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))

	b, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Layout
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f, ok := got.Elements[0].Styles.Get(1, 3); !ok || f.FontWeight != "bold" {
		t.Fatalf("styles lost in round trip: %s", b)
	}
	if got.CanvasSize != d.CanvasSize || got.Name != "cert" {
		t.Fatalf("unexpected layout %+v", got)
	}
}

func TestColumnKinds(t *testing.T) {
	ds := Dataset{
		Headers: []string{"Name", "Photo", "Note"},
		Rows: []map[string]string{
			{"Name": "Alex", "Photo": "photos/alex.PNG", "Note": ""},
			{"Name": "Sam", "Photo": "https://example.org/sam.jpg?size=2", "Note": ""},
		},
	}
	kinds, err := ds.ColumnKinds()
	if err != nil {
		t.Fatalf("kinds: %v", err)
	}
	if kinds["Name"] != KindText || kinds["Photo"] != KindImage || kinds["Note"] != KindEmpty {
		t.Fatalf("unexpected kinds %+v", kinds)
	}
	ds.Rows = append(ds.Rows, map[string]string{"Name": "Kim", "Photo": "not a picture"})
	if _, err := ds.ColumnKinds(); !errors.Is(err, ErrMixedColumn) {
		t.Fatalf("want ErrMixedColumn, got %v", err)
	}
}
