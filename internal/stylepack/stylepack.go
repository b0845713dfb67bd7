/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package stylepack stores user text style presets in a YAML file and moves them between
// machines as zip packs.
package stylepack

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	applog "certcanvas/internal/log"
	"certcanvas/internal/textlayout"
)

const (
	manifestName = "stylepack.manifest.txt"
	stylesName   = "styles.yaml"
	// maxStylesBytes bounds the styles entry read from a pack.
	maxStylesBytes = 1 << 20
)

var ErrNoStyles = errors.New("pack has no " + stylesName)

// Style is one preset as written in the YAML file.
type Style struct {
	Family string  `yaml:"family,omitempty"`
	Size   float32 `yaml:"size"`
	Weight int     `yaml:"weight,omitempty"`
	Italic bool    `yaml:"italic,omitempty"`
	Align  string  `yaml:"align,omitempty"`
}

// File is the styles file layout.
type File struct {
	Styles map[string]Style `yaml:"styles"`
}

func (s Style) textStyle(name string) textlayout.TextStyle {
	fam := s.Family
	if fam == "" {
		fam = "Go"
	}
	return textlayout.TextStyle{Name: name, Font: textlayout.FontSpec{Family: fam, SizePt: s.Size, Weight: s.Weight, Italic: s.Italic}, TextAlign: s.Align}
}

func fromTextStyle(t textlayout.TextStyle) Style {
	return Style{Family: t.Font.Family, Size: t.Font.SizePt, Weight: t.Font.Weight, Italic: t.Font.Italic, Align: t.TextAlign}
}

func validate(f File) error {
	for name, s := range f.Styles {
		if strings.TrimSpace(name) == "" {
			return errors.New("style with empty name")
		}
		if s.Size <= 0 {
			return fmt.Errorf("style %q: size must be positive", name)
		}
		if s.Weight != 0 && (s.Weight < 100 || s.Weight > 900) {
			return fmt.Errorf("style %q: weight %d outside 100..900", name, s.Weight)
		}
		switch s.Align {
		case "", "left", "center", "right", "justify":
		default:
			return fmt.Errorf("style %q: unknown align %q", name, s.Align)
		}
	}
	return nil
}

func decode(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, err
	}
	if err := validate(f); err != nil {
		return File{}, err
	}
	return f, nil
}

func readFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return File{Styles: map[string]Style{}}, nil
	}
	if err != nil {
		return File{}, err
	}
	f, err := decode(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	if f.Styles == nil {
		f.Styles = map[string]Style{}
	}
	return f, nil
}

func writeFile(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure styles dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load returns the presets in the styles file. A missing file yields no overrides.
func Load(path string) (textlayout.Presets, error) {
	p := textlayout.Presets{Overrides: map[string]textlayout.TextStyle{}}
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	f, err := readFile(path)
	if err != nil {
		return p, err
	}
	for name, s := range f.Styles {
		p.Overrides[name] = s.textStyle(name)
	}
	return p, nil
}

// Save writes the overrides of p to the styles file.
func Save(path string, p textlayout.Presets) error {
	f := File{Styles: make(map[string]Style, len(p.Overrides))}
	for name, t := range p.Overrides {
		f.Styles[name] = fromTextStyle(t)
	}
	if err := validate(f); err != nil {
		return err
	}
	return writeFile(path, f)
}

// Names lists the builtin presets followed by the user ones in name order.
func Names(p textlayout.Presets) []string {
	extra := make([]string, 0, len(p.Overrides))
	for n := range p.Overrides {
		extra = append(extra, n)
	}
	sort.Strings(extra)
	return p.Names(extra...)
}

// ExportPack zips the styles file into destZipPath with a small manifest for quick human
// inspection. A missing styles file produces a pack with no styles.
func ExportPack(stylesPath, destZipPath string) error {
	l := applog.WithOperation(applog.WithComponent("stylepack"), "export").With(slog.String("styles", stylesPath))
	if strings.TrimSpace(destZipPath) == "" {
		return errors.New("destZipPath is required")
	}
	f, err := readFile(stylesPath)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destZipPath), 0o755); err != nil {
		return fmt.Errorf("ensure zip dir: %w", err)
	}
	// On Windows, remove destination if present before create
	_ = os.Remove(destZipPath)

	zf, err := os.Create(destZipPath)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	zw := zip.NewWriter(zf)
	manifest := fmt.Sprintf("CertCanvas Style Pack\nCreated: %s\nStyles: %d\n", time.Now().Format(time.RFC3339), len(f.Styles))
	for _, e := range []struct {
		name string
		data []byte
	}{{manifestName, []byte(manifest)}, {stylesName, data}} {
		w, err := zw.Create(e.name)
		if err == nil {
			_, err = w.Write(e.data)
		}
		if err != nil {
			_ = zw.Close()
			_ = zf.Close()
			return fmt.Errorf("add %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		_ = zf.Close()
		return fmt.Errorf("finish zip: %w", err)
	}
	if err := zf.Close(); err != nil {
		return err
	}
	l.Info("style pack exported", slog.Int("styles", len(f.Styles)), slog.String("zip", destZipPath))
	return nil
}

// InstallPack merges the styles of a pack into the styles file. Existing styles are not
// overwritten; they are skipped. It returns the number of styles installed.
func InstallPack(stylesPath, packZipPath string) (int, error) {
	l := applog.WithOperation(applog.WithComponent("stylepack"), "install").With(slog.String("styles", stylesPath))
	if strings.TrimSpace(stylesPath) == "" {
		return 0, errors.New("stylesPath is required")
	}
	r, err := zip.OpenReader(packZipPath)
	if err != nil {
		return 0, fmt.Errorf("open pack: %w", err)
	}
	defer func() { _ = r.Close() }()

	var pack File
	found := false
	for _, zf := range r.File {
		// entries are only read, never extracted, so odd paths cannot escape
		if filepath.Base(filepath.FromSlash(zf.Name)) != stylesName {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return 0, err
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxStylesBytes+1))
		_ = rc.Close()
		if err != nil {
			return 0, err
		}
		if len(data) > maxStylesBytes {
			return 0, fmt.Errorf("%s larger than %d bytes", zf.Name, maxStylesBytes)
		}
		if pack, err = decode(data); err != nil {
			return 0, fmt.Errorf("%s: %w", zf.Name, err)
		}
		found = true
		break
	}
	if !found {
		return 0, ErrNoStyles
	}

	cur, err := readFile(stylesPath)
	if err != nil {
		return 0, err
	}
	installed := 0
	for name, s := range pack.Styles {
		if _, exists := cur.Styles[name]; exists {
			l.Warn("skip existing style", slog.String("style", name))
			continue
		}
		cur.Styles[name] = s
		installed++
	}
	if installed > 0 {
		if err := writeFile(stylesPath, cur); err != nil {
			return 0, err
		}
	}
	l.Info("style pack installed", slog.Int("styles", installed))
	return installed, nil
}
