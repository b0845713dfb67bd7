/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Sink receives one encoded PNG per exported row. Put is called in row order;
// Close finalizes the output and must be called even after a failed batch so
// that completed rows are kept.
type Sink interface {
	Put(index int, name string, png []byte) error
	Close() error
}

// Format names a sink kind.
type Format string

const (
	FormatPNG Format = "png"
	FormatZIP Format = "zip"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPNG, FormatZIP, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("unknown format: %s", s)
}

// NewSink opens a sink of the given format at out: a directory for PNG, a
// file for ZIP and PDF. dpi sizes PDF pages; raster sinks ignore it.
func NewSink(format Format, out string, dpi int) (Sink, error) {
	switch format {
	case FormatPNG:
		return NewDirSink(out)
	case FormatZIP:
		return NewZipSink(ensureExt(out, ".zip"))
	case FormatPDF:
		return NewPDFSink(ensureExt(out, ".pdf"), dpi), nil
	}
	return nil, fmt.Errorf("unknown format: %s", format)
}

func ensureExt(p, ext string) string {
	if !strings.HasSuffix(strings.ToLower(p), ext) {
		return p + ext
	}
	return p
}

// DirSink writes each row as <name>.png into a directory.
type DirSink struct {
	dir   string
	names nameSet
	files []string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure out dir: %w", err)
	}
	return &DirSink{dir: dir, names: nameSet{}}, nil
}

func (s *DirSink) Put(_ int, name string, data []byte) error {
	p := filepath.Join(s.dir, s.names.unique(name)+".png")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	s.files = append(s.files, p)
	return nil
}

func (s *DirSink) Close() error { return nil }

// Files lists the paths written so far.
func (s *DirSink) Files() []string { return append([]string(nil), s.files...) }

// EncodePNG encodes img, optionally with print guides.
func EncodePNG(img *image.RGBA, guides bool) ([]byte, error) {
	if guides {
		drawGuides(img, guideInset(img), color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// guideInset is the crop margin: 3% of the shorter side.
func guideInset(img *image.RGBA) int {
	b := img.Bounds()
	return min(b.Dx(), b.Dy()) * 3 / 100
}

// drawGuides draws the outer edge and an inset crop hairline.
func drawGuides(img *image.RGBA, inset int, col color.RGBA) {
	b := img.Bounds()
	strokeRect(img, b.Min.X, b.Min.Y, b.Max.X-1, b.Max.Y-1, col)
	if inset > 0 {
		strokeRect(img, b.Min.X+inset, b.Min.Y+inset, b.Max.X-1-inset, b.Max.Y-1-inset, col)
	}
}

// strokeRect draws a 1px axis-aligned rectangle border inclusive of endpoints.
func strokeRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y0, col)
		img.SetRGBA(x, y1, col)
	}
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x0, y, col)
		img.SetRGBA(x1, y, col)
	}
}

var unsafeName = regexp.MustCompile(`[^\pL\pN._-]+`)

// SafeName turns a row value into a file name stem.
func SafeName(s string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "._")
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

// nameSet hands out unique names by suffixing repeats with -2, -3 and so on.
type nameSet map[string]int

func (n nameSet) unique(name string) string {
	n[name]++
	if c := n[name]; c > 1 {
		return fmt.Sprintf("%s-%d", name, c)
	}
	return name
}
