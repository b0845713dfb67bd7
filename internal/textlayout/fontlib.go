/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// FontLibrary stores loaded OpenType fonts keyed by family, weight bucket and
// slant. It does not support variable fonts or named instances.
type FontLibrary struct {
	mu    sync.RWMutex
	fonts map[fontKey]*opentype.Font
}

type fontKey struct {
	family string
	bold   bool
	italic bool
}

func NewFontLibrary() *FontLibrary { return &FontLibrary{fonts: make(map[fontKey]*opentype.Font)} }

// Add registers a parsed font.
func (fl *FontLibrary) Add(family string, bold, italic bool, f *opentype.Font) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.fonts == nil {
		fl.fonts = make(map[fontKey]*opentype.Font)
	}
	fl.fonts[fontKey{family: strings.ToLower(family), bold: bold, italic: italic}] = f
}

// LoadTTF loads a font file into the library under the given family and style.
func (fl *FontLibrary) LoadTTF(family string, bold, italic bool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read font %s: %w", path, err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %s: %w", path, err)
	}
	fl.Add(family, bold, italic, f)
	return nil
}

// LoadDir loads every .ttf and .otf file in dir, naming each by the family
// and subfamily recorded in the font. It returns the number of fonts loaded.
func (fl *FontLibrary) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read font dir %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".ttf" && ext != ".otf") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return n, fmt.Errorf("read font %s: %w", path, err)
		}
		f, err := opentype.Parse(data)
		if err != nil {
			return n, fmt.Errorf("parse font %s: %w", path, err)
		}
		var buf sfnt.Buffer
		family, err := f.Name(&buf, sfnt.NameIDFamily)
		if err != nil || family == "" {
			family = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		sub, _ := f.Name(&buf, sfnt.NameIDSubfamily)
		sub = strings.ToLower(sub)
		fl.Add(family, strings.Contains(sub, "bold"), strings.Contains(sub, "italic") || strings.Contains(sub, "oblique"), f)
		n++
	}
	return n, nil
}

// Families lists the loaded family names (lower-cased).
func (fl *FontLibrary) Families() []string {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for k := range fl.fonts {
		if !seen[k.family] {
			seen[k.family] = true
			out = append(out, k.family)
		}
	}
	return out
}

func (fl *FontLibrary) find(spec FontSpec) *opentype.Font {
	if fl == nil {
		return nil
	}
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	fam := strings.ToLower(spec.Family)
	if f, ok := fl.fonts[fontKey{family: fam, bold: spec.Bold(), italic: spec.Italic}]; ok {
		return f
	}
	// same family, closest style: keep the weight, then drop both
	if f, ok := fl.fonts[fontKey{family: fam, bold: spec.Bold()}]; ok {
		return f
	}
	if f, ok := fl.fonts[fontKey{family: fam}]; ok {
		return f
	}
	return nil
}

type faceKey struct {
	fontKey
	size float32
}

// faceCache builds opentype faces on demand and reuses them.
type faceCache struct {
	dpi   float64
	mu    sync.Mutex
	faces map[faceKey]font.Face
}

func (c *faceCache) get(k faceKey, f *opentype.Font) (font.Face, Metrics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if face, ok := c.faces[k]; ok {
		return face, metricsOf(face), nil
	}
	dpi := c.dpi
	if dpi <= 0 {
		dpi = 72
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: float64(k.size), DPI: dpi, Hinting: font.HintingFull})
	if err != nil {
		return nil, Metrics{}, err
	}
	if c.faces == nil {
		c.faces = make(map[faceKey]font.Face)
	}
	c.faces[k] = face
	return face, metricsOf(face), nil
}

// OTProvider resolves FontSpec using a FontLibrary and falls back to another
// Provider for families the library does not have.
type OTProvider struct {
	Lib      *FontLibrary
	Fallback Provider
	cache    faceCache
}

// NewOTProvider returns a provider rendering at dpi (72 if zero).
func NewOTProvider(lib *FontLibrary, dpi float64, fallback Provider) *OTProvider {
	return &OTProvider{Lib: lib, Fallback: fallback, cache: faceCache{dpi: dpi}}
}

func (p *OTProvider) Resolve(spec FontSpec) (font.Face, Metrics) {
	spec = withDefaults(spec)
	if f := p.Lib.find(spec); f != nil {
		k := faceKey{fontKey: fontKey{family: strings.ToLower(spec.Family), bold: spec.Bold(), italic: spec.Italic}, size: spec.SizePt}
		if face, m, err := p.cache.get(k, f); err == nil {
			return face, m
		}
	}
	fb := p.Fallback
	if fb == nil {
		fb = BasicProvider{}
	}
	return fb.Resolve(spec)
}

// GoFontProvider serves every family from the embedded Go fonts, picking the
// regular, bold, italic or bold italic cut from the spec.
type GoFontProvider struct {
	once  sync.Once
	cuts  [4]*opentype.Font
	err   error
	cache faceCache
}

// NewGoFontProvider returns a provider rendering at dpi (72 if zero).
func NewGoFontProvider(dpi float64) *GoFontProvider {
	return &GoFontProvider{cache: faceCache{dpi: dpi}}
}

func (p *GoFontProvider) load() {
	for i, ttf := range [][]byte{goregular.TTF, gobold.TTF, goitalic.TTF, gobolditalic.TTF} {
		f, err := opentype.Parse(ttf)
		if err != nil {
			p.err = fmt.Errorf("parse go font %d: %w", i, err)
			return
		}
		p.cuts[i] = f
	}
}

func (p *GoFontProvider) Resolve(spec FontSpec) (font.Face, Metrics) {
	p.once.Do(p.load)
	if p.err != nil {
		return BasicProvider{}.Resolve(spec)
	}
	spec = withDefaults(spec)
	i := 0
	if spec.Bold() {
		i |= 1
	}
	if spec.Italic {
		i |= 2
	}
	k := faceKey{fontKey: fontKey{family: "go", bold: spec.Bold(), italic: spec.Italic}, size: spec.SizePt}
	face, m, err := p.cache.get(k, p.cuts[i])
	if err != nil {
		return BasicProvider{}.Resolve(spec)
	}
	return face, m
}

func withDefaults(spec FontSpec) FontSpec {
	if spec.SizePt <= 0 {
		spec.SizePt = 12
	}
	if spec.Weight == 0 {
		spec.Weight = 400
	}
	return spec
}
