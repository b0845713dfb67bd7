/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"certcanvas/internal/domain"
)

func TestReadCSV(t *testing.T) {
	in := "\ufeffName, Photo ,Course\nAlex,alex.png,Go\n\n,,\nSam,sam.jpg\n"
	ds, err := ReadCSV(strings.NewReader(in), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Headers) != 3 || ds.Headers[0] != "Name" || ds.Headers[1] != "Photo" {
		t.Fatalf("headers = %q", ds.Headers)
	}
	if len(ds.Rows) != 2 {
		t.Fatalf("rows = %d", len(ds.Rows))
	}
	if ds.Rows[1]["Course"] != "" || ds.Rows[1]["Photo"] != "sam.jpg" {
		t.Fatalf("short row = %v", ds.Rows[1])
	}
	kinds, err := ds.ColumnKinds()
	if err != nil {
		t.Fatal(err)
	}
	if kinds["Photo"] != domain.KindImage || kinds["Name"] != domain.KindText {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestReadCSVRejectsBadHeaders(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader(""), 0); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := ReadCSV(strings.NewReader("A,B,A\n1,2,3\n"), 0); !errors.Is(err, ErrDuplicateHeader) {
		t.Fatalf("duplicate: %v", err)
	}
}

func TestLoadValidatesColumns(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "people.tsv")
	if err := os.WriteFile(p, []byte("Name\tPhoto\nAlex\talex.png\nSam\tnot an image\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p, Options{}); !errors.Is(err, domain.ErrMixedColumn) {
		t.Fatalf("mixed column: %v", err)
	}
	if _, err := Load(filepath.Join(dir, "x.json"), Options{}); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func writeWorkbook(t *testing.T, path string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{{"Name", "Score"}, {"Alex", 91}, {"Sam", 78}}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue("Sheet1", cell, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	if _, err := f.NewSheet("Other"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue("Other", "A1", "Title"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue("Other", "A2", "Winner"); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func TestLoadXLSX(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scores.xlsx")
	writeWorkbook(t, p)

	ds, err := Load(p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Rows) != 2 || ds.Rows[0]["Name"] != "Alex" || ds.Rows[0]["Score"] != "91" {
		t.Fatalf("first sheet = %+v", ds)
	}
	other, err := Load(p, Options{Sheet: "Other"})
	if err != nil {
		t.Fatal(err)
	}
	if other.Headers[0] != "Title" || other.Rows[0]["Title"] != "Winner" {
		t.Fatalf("named sheet = %+v", other)
	}
	if _, err := Load(p, Options{Sheet: "Missing"}); !errors.Is(err, ErrNoSheet) {
		t.Fatalf("missing sheet: %v", err)
	}
}
