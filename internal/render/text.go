/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"strconv"
	"strings"

	"certcanvas/internal/domain"
	"certcanvas/internal/overlay"
	"certcanvas/internal/scene"
	"certcanvas/internal/textlayout"
	"certcanvas/internal/textseg"
)

// DefaultFontSize applies to text elements that do not set one.
const DefaultFontSize = 20

// FontSpecFor converts a style to the layout font request. Glyph size is always
// the style's font size; element scale never enters it.
func FontSpecFor(f domain.StyleFragment) textlayout.FontSpec {
	size := f.FontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	return textlayout.FontSpec{
		Family: f.FontFamily,
		SizePt: float32(size),
		Weight: parseWeight(f.FontWeight),
		Italic: f.FontStyle == "italic" || f.FontStyle == "oblique",
	}
}

func parseWeight(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return 400
	case "bold", "bolder":
		return 700
	case "lighter":
		return 300
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return 400
}

// displayStyles returns the styles to draw: the persisted map, with the
// variable highlight merged on top when highlighting is on.
func displayStyles(el *domain.Element, highlight bool, palette overlay.Palette) domain.CharStyleMap {
	if highlight && el.HasVariables {
		return overlay.Compute(el.Content, el.Styles, el.VariableStyles, palette)
	}
	return el.Styles
}

// buildSpans groups consecutive characters with the same effective style into spans.
func buildSpans(el *domain.Element, styles domain.CharStyleMap) []textlayout.Span {
	base := el.BaseStyle()
	var spans []textlayout.Span
	var cur strings.Builder
	var curStyle domain.StyleFragment
	open := false
	emit := func() {
		if !open {
			return
		}
		spans = append(spans, spanFor(cur.String(), curStyle))
		cur.Reset()
		open = false
	}
	push := func(text string, st domain.StyleFragment) {
		if open && !sameStyle(st, curStyle) {
			emit()
		}
		if !open {
			curStyle = st
			open = true
		}
		cur.WriteString(text)
	}
	for li, line := range textseg.Lines(el.Content) {
		if li > 0 {
			// the break keeps the style of the text before it
			st := base
			if open {
				st = curStyle
			}
			push("\n", st)
		}
		for ci, g := range line {
			st := base
			if f, ok := styles.Get(li, ci); ok {
				st = base.Merge(f)
			}
			push(g, st)
		}
	}
	emit()
	if len(spans) == 0 {
		spans = append(spans, spanFor("", base))
	}
	return spans
}

func spanFor(text string, st domain.StyleFragment) textlayout.Span {
	return textlayout.Span{
		Text:      text,
		Font:      FontSpecFor(st),
		Color:     scene.MustColor(st.Fill, scene.Black),
		Underline: st.Underline != nil && *st.Underline,
	}
}

func sameStyle(a, b domain.StyleFragment) bool {
	ua := a.Underline != nil && *a.Underline
	ub := b.Underline != nil && *b.Underline
	return a.Fill == b.Fill && a.FontWeight == b.FontWeight && a.FontStyle == b.FontStyle &&
		ua == ub && a.FontSize == b.FontSize && a.FontFamily == b.FontFamily
}
