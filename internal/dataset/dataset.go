/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package dataset loads tabular row data (CSV or XLSX) for preview and export.
// The first row is always the header row.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"certcanvas/internal/domain"
	clog "certcanvas/internal/log"
)

var (
	ErrNoHeader        = errors.New("dataset has no header row")
	ErrDuplicateHeader = errors.New("duplicate column header")
	ErrUnknownFormat   = errors.New("unsupported dataset format")
	ErrNoSheet         = errors.New("sheet not found")
)

// Options tune loading.
type Options struct {
	// Sheet selects an XLSX worksheet; "" uses the first one.
	Sheet string
	// Comma overrides the CSV field separator; 0 infers it from the extension.
	Comma rune
}

// Load reads a dataset file, picking the reader by extension, and validates
// that every column is homogeneously text or image-like.
func Load(path string, opts Options) (*domain.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var ds *domain.Dataset
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv", ".txt":
		comma := opts.Comma
		if comma == 0 && ext == ".tsv" {
			comma = '\t'
		}
		ds, err = ReadCSV(f, comma)
	case ".xlsx", ".xlsm":
		ds, err = ReadXLSX(f, opts.Sheet)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := Validate(ds); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	clog.WithComponent("dataset").Info("dataset loaded", "file", filepath.Base(path), "columns", len(ds.Headers), "rows", len(ds.Rows))
	return ds, nil
}

// Validate checks column homogeneity.
func Validate(ds *domain.Dataset) error {
	_, err := ds.ColumnKinds()
	return err
}

// ReadCSV parses delimited text. comma 0 means ','.
func ReadCSV(r io.Reader, comma rune) (*domain.Dataset, error) {
	cr := csv.NewReader(r)
	if comma != 0 {
		cr.Comma = comma
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRecords(records)
}

// ReadXLSX parses a workbook sheet. Formulas are read as their cached values.
func ReadXLSX(r io.Reader, sheet string) (*domain.Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if sheet == "" {
		if len(sheets) == 0 {
			return nil, ErrNoSheet
		}
		sheet = sheets[0]
	} else if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSheet, sheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return fromRecords(rows)
}

// fromRecords turns a header row plus data rows into a dataset. Short rows
// are padded with blanks and fully blank rows are dropped.
func fromRecords(records [][]string) (*domain.Dataset, error) {
	if len(records) == 0 {
		return nil, ErrNoHeader
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	ds := &domain.Dataset{Rows: []map[string]string{}}
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if seen[h] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHeader, h)
		}
		seen[h] = true
		ds.Headers = append(ds.Headers, h)
	}
	if len(ds.Headers) == 0 {
		return nil, ErrNoHeader
	}
	for _, rec := range records[1:] {
		row := make(map[string]string, len(ds.Headers))
		blank := true
		for i, h := range header {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			if v != "" {
				blank = false
			}
			row[h] = v
		}
		if !blank {
			ds.Rows = append(ds.Rows, row)
		}
	}
	return ds, nil
}
