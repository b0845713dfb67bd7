/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"sort"

	"certcanvas/internal/textseg"
)

// StyleFragment is a partial text style. Zero values mean "inherit from the element default".
type StyleFragment struct {
	Fill       string  `json:"fill,omitempty"`
	FontWeight string  `json:"fontWeight,omitempty"` // "normal" | "bold" | numeric weight
	FontStyle  string  `json:"fontStyle,omitempty"`  // "normal" | "italic"
	Underline  *bool   `json:"underline,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
}

// IsEmpty reports whether the fragment overrides nothing.
func (f StyleFragment) IsEmpty() bool {
	return f.Fill == "" && f.FontWeight == "" && f.FontStyle == "" && f.Underline == nil &&
		f.FontSize == 0 && f.FontFamily == ""
}

// Merge returns f with every field set in over applied on top.
func (f StyleFragment) Merge(over StyleFragment) StyleFragment {
	if over.Fill != "" {
		f.Fill = over.Fill
	}
	if over.FontWeight != "" {
		f.FontWeight = over.FontWeight
	}
	if over.FontStyle != "" {
		f.FontStyle = over.FontStyle
	}
	if over.Underline != nil {
		u := *over.Underline
		f.Underline = &u
	}
	if over.FontSize != 0 {
		f.FontSize = over.FontSize
	}
	if over.FontFamily != "" {
		f.FontFamily = over.FontFamily
	}
	return f
}

// Emphasis keeps only weight, slant and underline. Variable styles applied by the
// highlight overlay are restricted to these so they never fight the highlight fill.
func (f StyleFragment) Emphasis() StyleFragment {
	out := StyleFragment{FontWeight: f.FontWeight, FontStyle: f.FontStyle}
	if f.Underline != nil {
		u := *f.Underline
		out.Underline = &u
	}
	return out
}

// Clone returns a copy that shares no pointers with f.
func (f StyleFragment) Clone() StyleFragment {
	if f.Underline != nil {
		u := *f.Underline
		f.Underline = &u
	}
	return f
}

// Bool returns a pointer to b, for building fragments inline.
func Bool(b bool) *bool { return &b }

// CharStyleMap is a sparse per-character style overlay: line index -> grapheme index -> fragment.
// Absence means the character uses the element default.
type CharStyleMap map[int]map[int]StyleFragment

// Get returns the fragment at line/char, if any.
func (m CharStyleMap) Get(line, char int) (StyleFragment, bool) {
	if m == nil {
		return StyleFragment{}, false
	}
	f, ok := m[line][char]
	return f, ok
}

// Set stores a fragment. Empty fragments remove the entry.
func (m CharStyleMap) Set(line, char int, f StyleFragment) {
	if f.IsEmpty() {
		m.Clear(line, char)
		return
	}
	row := m[line]
	if row == nil {
		row = make(map[int]StyleFragment)
		m[line] = row
	}
	row[char] = f.Clone()
}

// Clear removes the fragment at line/char and drops the line if it becomes empty.
func (m CharStyleMap) Clear(line, char int) {
	row := m[line]
	if row == nil {
		return
	}
	delete(row, char)
	if len(row) == 0 {
		delete(m, line)
	}
}

// Prune drops empty fragments and empty lines in place.
func (m CharStyleMap) Prune() {
	for line, row := range m {
		for ch, f := range row {
			if f.IsEmpty() {
				delete(row, ch)
			}
		}
		if len(row) == 0 {
			delete(m, line)
		}
	}
}

// Clone returns a deep copy. A nil map clones to nil.
func (m CharStyleMap) Clone() CharStyleMap {
	if m == nil {
		return nil
	}
	out := make(CharStyleMap, len(m))
	for line, row := range m {
		nr := make(map[int]StyleFragment, len(row))
		for ch, f := range row {
			nr[ch] = f.Clone()
		}
		out[line] = nr
	}
	return out
}

// Len returns the number of styled characters.
func (m CharStyleMap) Len() int {
	n := 0
	for _, row := range m {
		n += len(row)
	}
	return n
}

// Flatten converts the map to flat grapheme offsets for the given content. Entries that do
// not address an existing character are dropped.
func (m CharStyleMap) Flatten(content string) map[int]StyleFragment {
	lengths := textseg.LineLengths(content)
	out := make(map[int]StyleFragment, m.Len())
	for line, row := range m {
		for ch, f := range row {
			if idx := textseg.Flat(lengths, line, ch); idx >= 0 && !f.IsEmpty() {
				out[idx] = f.Clone()
			}
		}
	}
	return out
}

// Unflatten re-partitions flat grapheme offsets into a CharStyleMap for content.
// Offsets that land on a line break or outside the content are dropped.
func Unflatten(flat map[int]StyleFragment, content string) CharStyleMap {
	lengths := textseg.LineLengths(content)
	out := make(CharStyleMap)
	for idx, f := range flat {
		line, ch, ok := textseg.Locate(lengths, idx)
		if !ok {
			continue
		}
		out.Set(line, ch, f)
	}
	return out
}

// ApplyEdit remaps the map through a content edit from old to updated. The unchanged
// prefix keeps its styles, the unchanged suffix shifts with the edit, and styles of
// replaced characters are dropped so that no index ends up on a different character.
func (m CharStyleMap) ApplyEdit(old, updated string) CharStyleMap {
	if len(m) == 0 {
		return m
	}
	a := textseg.Split(old)
	b := textseg.Split(updated)
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	delta := len(b) - len(a)
	flat := m.Flatten(old)
	moved := make(map[int]StyleFragment, len(flat))
	for idx, f := range flat {
		switch {
		case idx < prefix:
			moved[idx] = f
		case idx >= len(a)-suffix:
			moved[idx+delta] = f
		}
	}
	return Unflatten(moved, updated)
}

// Lines returns the styled line indices in ascending order.
func (m CharStyleMap) Lines() []int {
	out := make([]int, 0, len(m))
	for l := range m {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// VariableStyleMap maps "{name}_{occurrence}" keys to the style of that variable occurrence.
type VariableStyleMap map[string]StyleFragment

// Clone returns a deep copy. A nil map clones to nil.
func (m VariableStyleMap) Clone() VariableStyleMap {
	if m == nil {
		return nil
	}
	out := make(VariableStyleMap, len(m))
	for k, f := range m {
		out[k] = f.Clone()
	}
	return out
}

// Prune drops empty fragments and keys not listed in keep (when keep is non-nil).
func (m VariableStyleMap) Prune(keep map[string]bool) {
	for k, f := range m {
		if f.IsEmpty() || (keep != nil && !keep[k]) {
			delete(m, k)
		}
	}
}
