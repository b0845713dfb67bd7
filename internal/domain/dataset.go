/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrMixedColumn is returned when a dataset column mixes text and image-like values.
var ErrMixedColumn = errors.New("column mixes text and image values")

// ColumnKind classifies dataset columns.
type ColumnKind string

const (
	KindText  ColumnKind = "text"
	KindImage ColumnKind = "image"
	KindEmpty ColumnKind = "empty" // no non-blank cell
)

// Dataset is tabular row data fed in for preview and export.
type Dataset struct {
	Headers []string            `json:"headers"`
	Rows    []map[string]string `json:"rows"`
}

// RowBindings maps variable names to dataset column headers.
type RowBindings map[string]string

// Clone returns a copy of the bindings.
func (b RowBindings) Clone() RowBindings {
	if b == nil {
		return nil
	}
	out := make(RowBindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

// IsImageLike reports whether a cell value looks like an image reference.
func IsImageLike(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if strings.HasPrefix(v, "data:image/") {
		return true
	}
	p := v
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return imageExts[strings.ToLower(path.Ext(p))]
}

// ColumnKinds classifies every header. Blank cells do not vote. A column that mixes
// kinds yields an error wrapping ErrMixedColumn naming the first offending row.
func (d *Dataset) ColumnKinds() (map[string]ColumnKind, error) {
	out := make(map[string]ColumnKind, len(d.Headers))
	for _, h := range d.Headers {
		kind := KindEmpty
		for i, row := range d.Rows {
			v := strings.TrimSpace(row[h])
			if v == "" {
				continue
			}
			k := KindText
			if IsImageLike(v) {
				k = KindImage
			}
			if kind == KindEmpty {
				kind = k
				continue
			}
			if kind != k {
				return nil, fmt.Errorf("column %q row %d: %w", h, i, ErrMixedColumn)
			}
		}
		out[h] = kind
	}
	return out, nil
}

// HasHeader reports whether the dataset declares column h.
func (d *Dataset) HasHeader(h string) bool {
	for _, x := range d.Headers {
		if x == h {
			return true
		}
	}
	return false
}
