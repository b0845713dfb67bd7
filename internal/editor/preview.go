/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package editor

import (
	"certcanvas/internal/domain"
	"certcanvas/internal/merge"
)

type previewState struct {
	ds       *domain.Dataset
	bindings domain.RowBindings
	row      int
	doc      *domain.Document
}

// SetPreview shows dataset row index bound into the document. The canonical
// document is untouched and rejects mutations until ClearPreview. Empty bound
// cells render blank here; export is where they fail.
func (ed *Editor) SetPreview(ds *domain.Dataset, bindings domain.RowBindings, index int) error {
	doc, err := merge.PreviewDocument(ed.doc, ds, bindings, index)
	if err != nil {
		return err
	}
	ed.hist.CloseBurst()
	ed.preview = &previewState{ds: ds, bindings: bindings.Clone(), row: index, doc: doc}
	ed.engine.SetHighlight(false)
	ed.log.Debug("preview on", "row", index)
	return ed.sync()
}

// ClearPreview returns the surface to the editable document.
func (ed *Editor) ClearPreview() error {
	if ed.preview == nil {
		return nil
	}
	ed.preview = nil
	ed.engine.SetHighlight(ed.highlight)
	ed.log.Debug("preview off")
	return ed.sync()
}

// PreviewRow reports the previewed row index, if a preview is active.
func (ed *Editor) PreviewRow() (int, bool) {
	if ed.preview == nil {
		return 0, false
	}
	return ed.preview.row, true
}

// PreviewDocument returns a copy of the previewed document, or nil.
func (ed *Editor) PreviewDocument() *domain.Document {
	if ed.preview == nil {
		return nil
	}
	return ed.preview.doc.Clone()
}

// StepPreview moves the preview by delta rows, clamped to the dataset.
func (ed *Editor) StepPreview(delta int) error {
	if ed.preview == nil {
		return nil
	}
	p := ed.preview
	row := min(max(p.row+delta, 0), len(p.ds.Rows)-1)
	if row == p.row {
		return nil
	}
	return ed.SetPreview(p.ds, p.bindings, row)
}
