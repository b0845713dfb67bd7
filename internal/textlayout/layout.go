/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

// Text measurement and line breaking live behind small interfaces so the
// renderer can run with real OpenType faces or with the fixed 7x13 face in
// tests.

import (
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// FontSpec describes a requested font.
type FontSpec struct {
	Family string // logical family name
	SizePt float32
	Weight int // 100..900, 0 reads as 400
	Italic bool
}

// Bold reports whether the weight selects a bold face.
func (s FontSpec) Bold() bool { return s.Weight >= 600 }

// Metrics provides font metrics in pixels for the resolved face.
type Metrics struct {
	Ascent, Descent, LineGap float32
}

// Height is the line advance for the metrics.
func (m Metrics) Height() float32 { return m.Ascent + m.Descent + m.LineGap }

// Span is a run of text sharing one font and paint.
type Span struct {
	Text      string
	Font      FontSpec
	Color     color.Color // nil draws black
	Underline bool
}

// Piece is a positioned run inside a laid out line.
type Piece struct {
	Span
	X     float32 // offset from the line start
	Width float32
	face  font.Face
}

// Line is a single laid out line with width and ascent/descent.
type Line struct {
	Pieces  []Piece
	Width   float32
	Ascent  float32
	Descent float32
	LineGap float32
}

// Text returns the concatenated text of the line.
func (l Line) Text() string {
	var b strings.Builder
	for _, p := range l.Pieces {
		b.WriteString(p.Text)
	}
	return b.String()
}

// TextBox is the result of laying out text into a box width.
type TextBox struct {
	Lines  []Line
	Width  float32 // widest line
	Height float32 // intrinsic height of all lines
}

// Provider maps FontSpec to a concrete font.Face.
type Provider interface {
	Resolve(FontSpec) (font.Face, Metrics)
}

// Layouter performs line-breaking and measurement.
type Layouter interface {
	Layout(spans []Span, maxWidth float32) (TextBox, error)
}

// BasicProvider uses x/image/basicfont Face7x13 for deterministic tests.
type BasicProvider struct{}

func (BasicProvider) Resolve(FontSpec) (font.Face, Metrics) {
	f := basicfont.Face7x13
	return f, metricsOf(f)
}

func metricsOf(f font.Face) Metrics {
	m := f.Metrics()
	return Metrics{
		Ascent:  float32(m.Ascent.Round()),
		Descent: float32(m.Descent.Round()),
		LineGap: float32(m.Height.Round() - m.Ascent.Round() - m.Descent.Round()),
	}
}

// WordWrapLayouter breaks lines at spaces and hard line breaks. A word that is
// wider than the box is kept whole on its own line. There is no shaping or
// hyphenation.
type WordWrapLayouter struct{ Provider Provider }

func NewWordWrap(provider Provider) *WordWrapLayouter { return &WordWrapLayouter{Provider: provider} }

type atomKind int

const (
	atomWord atomKind = iota
	atomSpace
	atomBreak
)

type atom struct {
	kind atomKind
	span Span
}

// atoms splits spans into words, spaces and breaks, keeping span styles.
func atoms(spans []Span) []atom {
	var out []atom
	for _, sp := range spans {
		text := sp.Text
		for text != "" {
			kind := atomWord
			var n int
			switch text[0] {
			case '\n':
				kind, n = atomBreak, 1
			case ' ', '\t':
				kind = atomSpace
				n = strings.IndexFunc(text, func(c rune) bool { return c != ' ' && c != '\t' })
			default:
				n = strings.IndexAny(text, " \t\n")
			}
			if n < 0 {
				n = len(text)
			}
			part := sp
			part.Text = text[:n]
			out = append(out, atom{kind: kind, span: part})
			text = text[n:]
		}
	}
	return out
}

func (l *WordWrapLayouter) Layout(spans []Span, maxWidth float32) (TextBox, error) {
	if l.Provider == nil {
		l.Provider = BasicProvider{}
	}
	var base FontSpec
	if len(spans) > 0 {
		base = spans[0].Font
	}
	_, baseMet := l.Provider.Resolve(base)

	box := TextBox{}
	cur := Line{}
	lastMet := baseMet
	flush := func() {
		// trailing spaces do not count towards the width of a wrapped line
		for n := len(cur.Pieces); n > 0 && strings.TrimLeft(cur.Pieces[n-1].Text, " \t") == ""; n-- {
			cur.Width -= cur.Pieces[n-1].Width
			cur.Pieces = cur.Pieces[:n-1]
		}
		if cur.Ascent == 0 && cur.Descent == 0 {
			cur.Ascent, cur.Descent, cur.LineGap = lastMet.Ascent, lastMet.Descent, lastMet.LineGap
		}
		box.Lines = append(box.Lines, cur)
		if cur.Width > box.Width {
			box.Width = cur.Width
		}
		box.Height += cur.Ascent + cur.Descent + cur.LineGap
		cur = Line{}
	}
	place := func(sp Span) {
		face, met := l.Provider.Resolve(sp.Font)
		lastMet = met
		w := advance(face, sp.Text)
		cur.Pieces = append(cur.Pieces, Piece{Span: sp, X: cur.Width, Width: w, face: face})
		cur.Width += w
		cur.Ascent = max(cur.Ascent, met.Ascent)
		cur.Descent = max(cur.Descent, met.Descent)
		cur.LineGap = max(cur.LineGap, met.LineGap)
	}

	as := atoms(spans)
	for i := 0; i < len(as); {
		a := as[i]
		switch a.kind {
		case atomBreak:
			_, lastMet = l.Provider.Resolve(a.span.Font)
			flush()
			i++
		case atomSpace:
			place(a.span)
			i++
		default:
			// a word may cross span boundaries when styles change mid-word
			j := i
			var w float32
			for j < len(as) && as[j].kind == atomWord {
				face, _ := l.Provider.Resolve(as[j].span.Font)
				w += advance(face, as[j].span.Text)
				j++
			}
			if maxWidth > 0 && cur.Width > 0 && cur.Width+w > maxWidth {
				flush()
			}
			for ; i < j; i++ {
				place(as[i].span)
			}
		}
	}
	flush()
	return box, nil
}

func advance(face font.Face, s string) float32 {
	return fixedToFloat(font.MeasureString(face, s))
}

func fixedToFloat(v fixed.Int26_6) float32 { return float32(v) / 64 }

// Measure returns the single-line width and line height of spans.
func Measure(provider Provider, spans []Span) (w, h float32) {
	if provider == nil {
		provider = BasicProvider{}
	}
	for _, sp := range spans {
		face, met := provider.Resolve(sp.Font)
		w += advance(face, sp.Text)
		h = max(h, met.Ascent+met.Descent)
	}
	if h == 0 {
		_, met := provider.Resolve(FontSpec{})
		h = met.Ascent + met.Descent
	}
	return w, h
}
