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
	"image/png"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"
)

// PDFSink collects rows as pages of one PDF. Each page takes the size of its
// image at the sink's DPI, so every certificate fills its page edge to edge.
type PDFSink struct {
	path  string
	dpi   int
	pdf   *gofpdf.Fpdf
	pages int
}

// NewPDFSink prepares a PDF written to path on Close. dpi <= 0 means 96.
func NewPDFSink(path string, dpi int) *PDFSink {
	if dpi <= 0 {
		dpi = 96
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", Size: gofpdf.SizeType{Wd: 595, Ht: 842}})
	pdf.SetTitle("Certificates", true)
	pdf.SetCreator("certcanvas", true)
	pdf.SetAutoPageBreak(false, 0)
	return &PDFSink{path: path, dpi: dpi, pdf: pdf}
}

func (s *PDFSink) Put(index int, name string, data []byte) error {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("pdf page %d: %w", index, err)
	}
	scale := 72 / float64(s.dpi)
	w, h := float64(cfg.Width)*scale, float64(cfg.Height)*scale
	img := fmt.Sprintf("row-%d", index)
	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	s.pdf.RegisterImageOptionsReader(img, opt, bytes.NewReader(data))
	// "P" keeps the size as given; "L" would swap it
	s.pdf.AddPageFormat("P", gofpdf.SizeType{Wd: w, Ht: h})
	s.pdf.ImageOptions(img, 0, 0, w, h, false, opt, 0, "")
	if s.pdf.Err() {
		return fmt.Errorf("pdf page %d (%s): %w", index, name, s.pdf.Error())
	}
	s.pages++
	return nil
}

// Close writes the document. A PDF with no pages is not written.
func (s *PDFSink) Close() error {
	if s.pages == 0 {
		s.pdf.Close()
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := s.pdf.OutputFileAndClose(s.path); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// Pages reports how many pages were added.
func (s *PDFSink) Pages() int { return s.pages }
