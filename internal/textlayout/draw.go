/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Align is the horizontal alignment of lines inside the box width.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// ParseAlign maps "center" and "right" to their Align; anything else is left.
func ParseAlign(s string) Align {
	switch s {
	case "center":
		return AlignCenter
	case "right":
		return AlignRight
	default:
		return AlignLeft
	}
}

// Draw paints box onto dst with its top-left corner at (x, y). Lines are
// aligned within width. Glyphs falling outside dst are clipped.
func Draw(dst draw.Image, box TextBox, x, y, width float32, align Align) {
	top := y
	for _, ln := range box.Lines {
		lx := x
		switch align {
		case AlignCenter:
			lx += (width - ln.Width) / 2
		case AlignRight:
			lx += width - ln.Width
		}
		baseline := top + ln.Ascent
		for _, p := range ln.Pieces {
			col := p.Color
			if col == nil {
				col = color.Black
			}
			src := image.NewUniform(col)
			if p.face != nil {
				d := &font.Drawer{
					Dst:  dst,
					Src:  src,
					Face: p.face,
					Dot:  fixed.Point26_6{X: floatToFixed(lx + p.X), Y: floatToFixed(baseline)},
				}
				d.DrawString(p.Text)
			}
			if p.Underline && p.Width > 0 {
				thick := int(math.Max(1, math.Round(float64(p.Font.SizePt)/15)))
				uy := int(math.Round(float64(baseline + ln.Descent/3)))
				r := image.Rect(int(lx+p.X), uy, int(math.Ceil(float64(lx+p.X+p.Width))), uy+thick)
				draw.Draw(dst, r.Intersect(dst.Bounds()), src, image.Point{}, draw.Over)
			}
		}
		top += ln.Ascent + ln.Descent + ln.LineGap
	}
}

func floatToFixed(v float32) fixed.Int26_6 { return fixed.Int26_6(math.Round(float64(v) * 64)) }
