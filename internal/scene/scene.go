/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package scene

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Scene is an ordered stack of nodes over a background. Index 0 is the bottom.
// It is not safe for concurrent use; the owner serializes access.
type Scene struct {
	Width, Height int
	Background    color.NRGBA
	// BackgroundImage, when set, is stretched over the whole canvas.
	BackgroundImage image.Image
	// Selected is the id of the node drawn as selected by interactive shells.
	Selected string

	nodes []Node
	byID  map[string]Node
}

func New(w, h int) *Scene {
	return &Scene{Width: w, Height: h, Background: White, byID: make(map[string]Node)}
}

// Add puts n on top of the stack. An existing node with the same id is replaced in place.
func (s *Scene) Add(n Node) {
	if old, ok := s.byID[n.ID()]; ok {
		s.nodes[s.index(old.ID())] = n
		s.byID[n.ID()] = n
		return
	}
	s.nodes = append(s.nodes, n)
	s.byID[n.ID()] = n
}

// Remove drops the node with id, reporting whether it existed.
func (s *Scene) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
	delete(s.byID, id)
	return true
}

// Get returns the node with id.
func (s *Scene) Get(id string) (Node, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// Len returns the number of nodes.
func (s *Scene) Len() int { return len(s.nodes) }

// Nodes returns the nodes bottom to top. The slice is a copy.
func (s *Scene) Nodes() []Node { return append([]Node(nil), s.nodes...) }

// IDs returns node ids bottom to top.
func (s *Scene) IDs() []string {
	out := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.ID()
	}
	return out
}

func (s *Scene) index(id string) int {
	for i, n := range s.nodes {
		if n.ID() == id {
			return i
		}
	}
	return -1
}

// BringToFront moves the node with id to the top of the stack.
func (s *Scene) BringToFront(id string) {
	i := s.index(id)
	if i < 0 || i == len(s.nodes)-1 {
		return
	}
	n := s.nodes[i]
	copy(s.nodes[i:], s.nodes[i+1:])
	s.nodes[len(s.nodes)-1] = n
}

// HitTest returns the top-most visible node containing p.
func (s *Scene) HitTest(p Pt) (Node, bool) {
	for i := len(s.nodes) - 1; i >= 0; i-- {
		if s.nodes[i].Hit(p) {
			return s.nodes[i], true
		}
	}
	return nil, false
}

// Render rasterizes the background and every visible node, bottom to top.
func (s *Scene) Render() *image.RGBA {
	w, h := s.Width, s.Height
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(s.Background), image.Point{}, draw.Src)
	if s.BackgroundImage != nil {
		draw.CatmullRom.Scale(dst, dst.Bounds(), s.BackgroundImage, s.BackgroundImage.Bounds(), draw.Over, nil)
	}
	for _, n := range s.nodes {
		geo := n.Geometry()
		if geo.Hidden {
			continue
		}
		src := n.Raster()
		if src == nil {
			continue
		}
		applyOpacity(src, geo.Opacity)
		m := geo.Transform()
		if m.B == 0 && m.C == 0 && m.A == 1 && m.D == 1 {
			off := image.Pt(int(math.Round(m.E)), int(math.Round(m.F)))
			draw.Draw(dst, src.Bounds().Add(off), src, image.Point{}, draw.Over)
			continue
		}
		aff := f64.Aff3{m.A, m.C, m.E, m.B, m.D, m.F}
		draw.BiLinear.Transform(dst, aff, src, src.Bounds(), draw.Over, nil)
	}
	return dst
}

func applyOpacity(img *image.RGBA, opacity float64) {
	if opacity <= 0 || opacity >= 1 {
		return
	}
	for i := range img.Pix {
		img.Pix[i] = uint8(math.Round(float64(img.Pix[i]) * opacity))
	}
}
