/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package workspace ties the editor to files, datasets and exports for the CLI and the desktop UI.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"certcanvas/internal/assets"
	"certcanvas/internal/config"
	"certcanvas/internal/crash"
	"certcanvas/internal/dataset"
	"certcanvas/internal/domain"
	"certcanvas/internal/editor"
	"certcanvas/internal/export"
	"certcanvas/internal/history"
	applog "certcanvas/internal/log"
	"certcanvas/internal/merge"
	"certcanvas/internal/overlay"
	"certcanvas/internal/render"
	"certcanvas/internal/storage"
	"certcanvas/internal/stylepack"
)

var (
	ErrNoPath    = errors.New("layout has no file yet; use save as")
	ErrNoDataset = errors.New("no dataset loaded")
)

// RenderOptions builds engine options from the configuration. Relative image sources resolve
// against baseDir when the config does not name an assets directory.
func RenderOptions(cfg config.AppConfig, baseDir string) (render.Options, error) {
	pal, err := overlay.ParsePalette(cfg.Editor.Palette)
	if err != nil {
		return render.Options{}, fmt.Errorf("editor.palette: %w", err)
	}
	if cfg.General.AssetsDir != "" {
		baseDir = cfg.General.AssetsDir
	}
	fetcher := assets.NewFetcher(assets.Options{
		BaseDir:   baseDir,
		Timeout:   cfg.Editor.AssetTimeout(),
		CacheSize: cfg.Editor.AssetCacheSize,
		Token:     config.Token,
	})
	return render.Options{
		Loader:      fetcher,
		Palette:     pal,
		Highlight:   cfg.Editor.Highlight,
		LoadTimeout: cfg.Editor.AssetTimeout(),
	}, nil
}

// Plan is the resolved export target.
type Plan struct {
	Format      export.Format
	DPI         int
	Guides      bool
	NameColumn  string
	SettleDelay time.Duration
}

// PlanFor resolves the export settings: the preset first, then the configured format, DPI and
// guides, then the explicit overrides (empty or zero leaves the value alone).
func PlanFor(cfg config.AppConfig, preset, format string, dpi int) (Plan, error) {
	name := cfg.Export.Preset
	if preset != "" {
		name = preset
	}
	p, err := export.LookupPreset(export.PresetName(strings.ToLower(name)))
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Format: p.Format, DPI: p.DPI, Guides: p.Guides || cfg.Export.Guides,
		NameColumn: cfg.Export.NameColumn, SettleDelay: cfg.Export.SettleDelay()}
	if preset == "" && cfg.Export.DPI > 0 && cfg.Export.DPI != config.Defaults().Export.DPI {
		plan.DPI = cfg.Export.DPI
	}
	for _, f := range []string{cfg.Export.Format, format} {
		if f == "" {
			continue
		}
		if plan.Format, err = export.ParseFormat(f); err != nil {
			return Plan{}, err
		}
	}
	if dpi > 0 {
		plan.DPI = dpi
	}
	return plan, nil
}

// Session is one open layout with its optional dataset.
type Session struct {
	Config   config.AppConfig
	Editor   *editor.Editor
	Path     string // layout file, "" until saved
	Name     string
	Dataset  *domain.Dataset
	Bindings domain.RowBindings
	DataPath string
	log      *slog.Logger
	mu       sync.Mutex // guards Path against loader goroutines
}

// Hooks lets a UI follow the session's editor.
type Hooks struct {
	OnChange  func()
	OnWarning func(render.Warning)
}

// New opens an empty session sized from the configuration.
func New(cfg config.AppConfig, hooks Hooks) (*Session, error) {
	ropts, err := RenderOptions(cfg, "")
	if err != nil {
		return nil, err
	}
	s := &Session{Config: cfg, Name: "untitled", Bindings: domain.RowBindings{},
		log: applog.WithComponent("workspace")}
	if cfg.General.AssetsDir == "" {
		ropts.Loader = relativeTo(ropts.Loader, s.baseDir)
	}
	presets, err := stylepack.Load(cfg.Editor.StylesFile)
	if err != nil {
		s.log.Warn("styles file ignored", slog.String("path", cfg.Editor.StylesFile), slog.Any("err", err))
	}
	ed := editor.New(editor.Options{
		Presets:   presets,
		Width:     cfg.Editor.CanvasWidth,
		Height:    cfg.Editor.CanvasHeight,
		History:   history.Config{MaxDepth: cfg.Editor.HistoryDepth, Debounce: cfg.Editor.Debounce()},
		Render:    ropts,
		OnChange:  hooks.OnChange,
		OnWarning: hooks.OnWarning,
	})
	if err := ed.SetHighlight(cfg.Editor.Highlight); err != nil {
		ed.Close()
		return nil, err
	}
	s.Editor = ed
	return s, nil
}

// relativeTo resolves relative file sources against the directory dir returns at load time.
func relativeTo(next assets.Loader, dir func() string) assets.Loader {
	return assets.LoaderFunc(func(ctx context.Context, src string) (image.Image, error) {
		if k, err := assets.Classify(src); err == nil && k == assets.KindFile && !filepath.IsAbs(src) {
			src = filepath.Join(dir(), src)
		}
		return next.Load(ctx, src)
	})
}

func (s *Session) baseDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Path == "" {
		return "."
	}
	return filepath.Dir(s.Path)
}

func (s *Session) setPath(p string) {
	s.mu.Lock()
	s.Path = p
	s.mu.Unlock()
}

// Close releases the editor.
func (s *Session) Close() { s.Editor.Close() }

// Title is the window title for the session.
func (s *Session) Title() string {
	t := s.Name
	if s.Path != "" {
		t += " (" + filepath.Base(s.Path) + ")"
	}
	if row, ok := s.Editor.PreviewRow(); ok {
		t += fmt.Sprintf(" [preview row %d]", row+1)
	}
	return t
}

// Open loads a layout file into the editor, replacing the document and its history.
func (s *Session) Open(path string) error {
	lay, err := storage.ReadLayoutFile(path)
	if err != nil {
		return err
	}
	s.setPath(path)
	if err := s.Editor.LoadLayout(lay); err != nil {
		return err
	}
	s.Name = lay.Name
	s.log.Info("layout opened", slog.String("path", path), slog.Int("elements", len(lay.Elements)))
	return nil
}

// Save writes the layout back to its file.
func (s *Session) Save() error {
	if s.Path == "" {
		return ErrNoPath
	}
	return storage.WriteLayoutFile(s.Path, s.Editor.Layout(s.Name))
}

// SaveAs writes the layout to path and keeps using it. An empty name keeps the current one.
func (s *Session) SaveAs(path, name string) error {
	if name != "" {
		s.Name = name
	}
	if err := storage.WriteLayoutFile(path, s.Editor.Layout(s.Name)); err != nil {
		return err
	}
	s.setPath(path)
	return nil
}

// LoadDataset reads a CSV or XLSX file and binds every variable whose name matches a header.
// Existing bindings to columns that still exist are kept.
func (s *Session) LoadDataset(path string, opts dataset.Options) error {
	ds, err := dataset.Load(path, opts)
	if err != nil {
		return err
	}
	auto := merge.AutoBind(merge.Variables(s.Editor.Document()), ds.Headers)
	for v, col := range s.Bindings {
		if _, ok := auto[v]; !ok && hasHeader(ds, col) {
			auto[v] = col
		}
	}
	s.Dataset, s.Bindings, s.DataPath = ds, auto, path
	if _, on := s.Editor.PreviewRow(); on {
		return s.Editor.SetPreview(ds, s.Bindings, 0)
	}
	return nil
}

func hasHeader(ds *domain.Dataset, col string) bool {
	for _, h := range ds.Headers {
		if h == col {
			return true
		}
	}
	return false
}

// Bind maps a variable to a dataset column; an empty column unbinds it.
func (s *Session) Bind(variable, column string) error {
	if column == "" {
		delete(s.Bindings, variable)
	} else {
		if s.Dataset == nil {
			return ErrNoDataset
		}
		if !hasHeader(s.Dataset, column) {
			return fmt.Errorf("%w: %s", merge.ErrUnknownColumn, column)
		}
		s.Bindings[variable] = column
	}
	if row, on := s.Editor.PreviewRow(); on {
		return s.Editor.SetPreview(s.Dataset, s.Bindings, row)
	}
	return nil
}

// Preview switches the read-only row preview on (at row) or off.
func (s *Session) Preview(on bool, row int) error {
	if !on {
		return s.Editor.ClearPreview()
	}
	if s.Dataset == nil {
		return ErrNoDataset
	}
	return s.Editor.SetPreview(s.Dataset, s.Bindings, row)
}

// Export renders every dataset row into the sink described by plan at out.
func (s *Session) Export(ctx context.Context, out string, plan Plan, onProgress func(done, total int)) (export.Report, error) {
	if s.Dataset == nil {
		return export.Report{}, ErrNoDataset
	}
	sink, err := export.NewSink(plan.Format, out, plan.DPI)
	if err != nil {
		return export.Report{}, err
	}
	ropts, err := RenderOptions(s.Config, s.baseDir())
	if err != nil {
		_ = sink.Close()
		return export.Report{}, err
	}
	rep, err := export.Batch(ctx, s.Editor.Document(), s.Dataset, s.Bindings, sink, export.BatchOptions{
		Guides:      plan.Guides,
		NameColumn:  plan.NameColumn,
		SettleDelay: plan.SettleDelay,
		Render:      ropts,
		OnProgress:  onProgress,
	})
	if cerr := sink.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return rep, err
}

// CrashSession describes what to autosave if the process panics.
func (s *Session) CrashSession() *crash.Session {
	return &crash.Session{Dir: s.Config.General.AutosaveDir, Name: s.Name, Source: s.Editor}
}
