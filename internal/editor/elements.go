/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package editor

import (
	"fmt"
	"strconv"

	"certcanvas/internal/domain"
	"certcanvas/internal/textlayout"
	"certcanvas/internal/variables"
)

const (
	defaultTextWidth = 300
	pasteOffset      = 20
)

func find(doc *domain.Document, id string) (*domain.Element, error) {
	el, _ := doc.Find(id)
	if el == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return el, nil
}

func findUnlocked(doc *domain.Document, id string) (*domain.Element, error) {
	el, err := find(doc, id)
	if err != nil {
		return nil, err
	}
	if el.Locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, id)
	}
	return el, nil
}

// nextZ places a new element above everything else.
func nextZ(doc *domain.Document) int {
	if len(doc.Elements) == 0 {
		return 0
	}
	return doc.MaxZ() + 1
}

// InsertText adds a text element styled by the named preset ("" = Body),
// selects it and returns its id.
func (ed *Editor) InsertText(content, preset string) (string, error) {
	if preset == "" {
		preset = "Body"
	}
	style, ok := ed.opts.Presets.Get(preset)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPreset, preset)
	}
	id := ed.opts.NewID()
	err := ed.mutate("insert-text", false, func(doc *domain.Document) error {
		el := textFromPreset(id, content, style)
		el.X = float64(doc.CanvasSize.Width-defaultTextWidth) / 2
		el.Y = float64(doc.CanvasSize.Height) / 3
		el.ZIndex = nextZ(doc)
		doc.Elements = append(doc.Elements, el)
		doc.SelectedElementID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func textFromPreset(id, content string, style textlayout.TextStyle) domain.Element {
	el := domain.Element{
		ID:           id,
		Type:         domain.TypeText,
		Width:        defaultTextWidth,
		ScaleX:       1,
		ScaleY:       1,
		Opacity:      1,
		Fill:         "#000000",
		Content:      content,
		FontFamily:   style.Font.Family,
		FontSize:     float64(style.Font.SizePt),
		FontWeight:   "normal",
		FontStyle:    "normal",
		TextAlign:    style.TextAlign,
		HasVariables: variables.HasVariables(content),
	}
	switch w := style.Font.Weight; {
	case w == 700:
		el.FontWeight = "bold"
	case w > 0 && w != 400:
		el.FontWeight = strconv.Itoa(w)
	}
	if style.Font.Italic {
		el.FontStyle = "italic"
	}
	return el
}

// InsertImage adds an image element. src may be a path, URL, data URI or a
// single variable token bound at preview time. A zero size adopts the image's
// natural size once it has loaded.
func (ed *Editor) InsertImage(src string, w, h float64) (string, error) {
	id := ed.opts.NewID()
	err := ed.mutate("insert-image", false, func(doc *domain.Document) error {
		doc.Elements = append(doc.Elements, domain.Element{
			ID:      id,
			Type:    domain.TypeImage,
			X:       float64(doc.CanvasSize.Width)/2 - w/2,
			Y:       float64(doc.CanvasSize.Height)/2 - h/2,
			Width:   w,
			Height:  h,
			ScaleX:  1,
			ScaleY:  1,
			Opacity: 1,
			Src:     src,
			ZIndex:  nextZ(doc),
		})
		doc.SelectedElementID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update applies fn to the element. The id and type cannot change; derived
// fields are refreshed afterwards. Locking is an ordinary property here so a
// locked element can be unlocked.
func (ed *Editor) Update(id string, fn func(el *domain.Element)) error {
	return ed.mutate("update", false, func(doc *domain.Document) error {
		el, err := find(doc, id)
		if err != nil {
			return err
		}
		typ := el.Type
		old := el.Content
		fn(el)
		el.ID, el.Type = id, typ
		if el.Content != old {
			el.Styles = el.Styles.ApplyEdit(old, el.Content)
			pruneVariableStyles(el)
		}
		el.HasVariables = variables.HasVariables(el.Content)
		return nil
	})
}

// Delete removes an element. Locked elements must be unlocked first.
func (ed *Editor) Delete(id string) error {
	return ed.mutate("delete", false, func(doc *domain.Document) error {
		if _, err := findUnlocked(doc, id); err != nil {
			return err
		}
		_, idx := doc.Find(id)
		doc.Elements = append(doc.Elements[:idx], doc.Elements[idx+1:]...)
		if doc.SelectedElementID == id {
			doc.SelectedElementID = ""
		}
		return nil
	})
}

// Duplicate copies an element under a new id, offset and on top, and selects
// the copy.
func (ed *Editor) Duplicate(id string) (string, error) {
	src, err := find(ed.doc, id)
	if err != nil {
		return "", err
	}
	return ed.insertCopy("duplicate", src.Clone())
}

// Copy puts an element on the editor's clipboard.
func (ed *Editor) Copy(id string) error {
	el, err := find(ed.doc, id)
	if err != nil {
		return err
	}
	c := el.Clone()
	ed.clip = &c
	return nil
}

// Paste inserts the clipboard element. Each paste gets a fresh id.
func (ed *Editor) Paste() (string, error) {
	if ed.clip == nil {
		return "", ErrEmptyClip
	}
	return ed.insertCopy("paste", ed.clip.Clone())
}

func (ed *Editor) insertCopy(op string, el domain.Element) (string, error) {
	id := ed.opts.NewID()
	err := ed.mutate(op, false, func(doc *domain.Document) error {
		el.ID = id
		el.X += pasteOffset
		el.Y += pasteOffset
		el.Locked = false
		el.ZIndex = nextZ(doc)
		doc.Elements = append(doc.Elements, el)
		doc.SelectedElementID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// BringToFront raises the element above all others.
func (ed *Editor) BringToFront(id string) error {
	return ed.mutate("bring-to-front", false, func(doc *domain.Document) error {
		el, err := find(doc, id)
		if err != nil {
			return err
		}
		top := doc.MaxZ()
		if el.ZIndex == top && countZ(doc, top) == 1 {
			return nil
		}
		el.ZIndex = top + 1
		return nil
	})
}

// SendToBack lowers the element below all others.
func (ed *Editor) SendToBack(id string) error {
	return ed.mutate("send-to-back", false, func(doc *domain.Document) error {
		el, err := find(doc, id)
		if err != nil {
			return err
		}
		low := el.ZIndex
		for _, o := range doc.Elements {
			low = min(low, o.ZIndex)
		}
		el.ZIndex = low - 1
		return nil
	})
}

func countZ(doc *domain.Document, z int) int {
	n := 0
	for _, el := range doc.Elements {
		if el.ZIndex == z {
			n++
		}
	}
	return n
}

// SetBackground replaces the canvas background.
func (ed *Editor) SetBackground(bg domain.Background) error {
	return ed.mutate("background", false, func(doc *domain.Document) error {
		doc.Background = bg
		return nil
	})
}

// SetCanvasSize resizes the canvas. Elements keep their positions.
func (ed *Editor) SetCanvasSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("canvas size %dx%d: dimensions must be positive", w, h)
	}
	return ed.mutate("canvas-size", false, func(doc *domain.Document) error {
		doc.CanvasSize = domain.CanvasSize{Width: w, Height: h}
		return nil
	})
}
