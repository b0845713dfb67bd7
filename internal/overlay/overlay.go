/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package overlay derives the transient variable highlighting shown while
// editing. The result is a display-only character style map; it is never
// written back to the element.
package overlay

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"

	"certcanvas/internal/domain"
	"certcanvas/internal/textseg"
	"certcanvas/internal/variables"
)

// Palette is an ordered list of "#rrggbb" highlight colors.
type Palette []string

// DefaultPalette has ten colors readable on a white canvas.
var DefaultPalette = Palette{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#42d4f4", "#f032e6", "#9a6324", "#800000", "#000075",
}

// ParsePalette validates and normalizes user supplied colors. An empty list
// yields DefaultPalette.
func ParsePalette(colors []string) (Palette, error) {
	if len(colors) == 0 {
		return DefaultPalette, nil
	}
	out := make(Palette, len(colors))
	for i, s := range colors {
		c, err := colorful.Hex(s)
		if err != nil {
			return nil, fmt.Errorf("palette entry %d %q: %w", i, s, err)
		}
		out[i] = c.Hex()
	}
	return out, nil
}

// ColorFor maps a variable name to a palette color. The same name always maps
// to the same color regardless of where or how often it occurs. Distinct names
// may collide.
func (p Palette) ColorFor(name string) string {
	if len(p) == 0 {
		p = DefaultPalette
	}
	return p[hashIndex(name, len(p))]
}

// ColorFor uses DefaultPalette.
func ColorFor(name string) string { return DefaultPalette.ColorFor(name) }

// hashIndex is the classic 31-multiplier string hash over UTF-16 code units
// with 32-bit wraparound.
func hashIndex(name string, n int) int {
	var h int32
	for _, r := range name {
		if r >= 0x10000 {
			r -= 0x10000
			h = (h << 5) - h + int32(0xD800+(r>>10))
			h = (h << 5) - h + int32(0xDC00+(r&0x3FF))
			continue
		}
		h = (h << 5) - h + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % int64(n))
}

// Compute returns the display style map for content: the persisted styles with
// every character of a variable token recolored by its highlight color and
// given the token's persisted emphasis (weight, slant, underline). Characters
// outside tokens keep their persisted styles unchanged. Neither input is modified.
func Compute(content string, styles domain.CharStyleMap, varStyles domain.VariableStyleMap, palette Palette) domain.CharStyleMap {
	out := styles.Clone()
	if out == nil {
		out = make(domain.CharStyleMap)
	}
	tokens := variables.Extract(content)
	if len(tokens) == 0 {
		return out
	}
	lengths := textseg.LineLengths(content)
	for _, tok := range tokens {
		color := palette.ColorFor(tok.Name)
		emph := varStyles[tok.Key()].Emphasis()
		line, col, ok := textseg.Locate(lengths, tok.StartIndex)
		if !ok {
			continue
		}
		for i := 0; i < tok.Len(); i++ {
			base, _ := out.Get(line, col+i)
			f := base.Merge(emph)
			f.Fill = color
			out.Set(line, col+i, f)
		}
	}
	return out
}

// Entry is one legend row: a variable name and its highlight color.
type Entry struct {
	Name  string
	Color string
	Count int
}

// Legend lists the variables found in content in order of first appearance.
func Legend(content string, palette Palette) []Entry {
	tokens := variables.Extract(content)
	idx := make(map[string]int)
	var out []Entry
	for _, t := range tokens {
		if i, ok := idx[t.Name]; ok {
			out[i].Count++
			continue
		}
		idx[t.Name] = len(out)
		out = append(out, Entry{Name: t.Name, Color: palette.ColorFor(t.Name), Count: 1})
	}
	return out
}
