/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

// TextStyle is a named starting point for new text elements.
type TextStyle struct {
	Name      string
	Font      FontSpec
	TextAlign string
}

var builtinStyles = map[string]TextStyle{
	"Title":     {Name: "Title", Font: FontSpec{Family: "Go", SizePt: 48, Weight: 700}, TextAlign: "center"},
	"Heading":   {Name: "Heading", Font: FontSpec{Family: "Go", SizePt: 32, Weight: 600}, TextAlign: "center"},
	"Body":      {Name: "Body", Font: FontSpec{Family: "Go", SizePt: 20, Weight: 400}, TextAlign: "left"},
	"Caption":   {Name: "Caption", Font: FontSpec{Family: "Go", SizePt: 14, Weight: 400, Italic: true}, TextAlign: "left"},
	"Signature": {Name: "Signature", Font: FontSpec{Family: "Go", SizePt: 24, Weight: 400, Italic: true}, TextAlign: "center"},
}

// Presets resolves text styles with user overrides taking precedence over the
// builtins.
type Presets struct {
	Overrides map[string]TextStyle
}

// Get returns the named style. The second return value is false if neither
// the overrides nor the builtins define it.
func (p Presets) Get(name string) (TextStyle, bool) {
	if s, ok := p.Overrides[name]; ok {
		return s, true
	}
	s, ok := builtinStyles[name]
	return s, ok
}

// Names lists the builtin style names in a stable order followed by any
// override-only names in the order given by extra.
func (p Presets) Names(extra ...string) []string {
	out := []string{"Title", "Heading", "Body", "Caption", "Signature"}
	for _, n := range extra {
		if _, builtin := builtinStyles[n]; !builtin {
			if _, ok := p.Overrides[n]; ok {
				out = append(out, n)
			}
		}
	}
	return out
}
