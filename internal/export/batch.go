/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"certcanvas/internal/domain"
	clog "certcanvas/internal/log"
	"certcanvas/internal/merge"
	"certcanvas/internal/render"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetWeb     PresetName = "web"
	PresetPrint   PresetName = "print"
	PresetArchive PresetName = "archive"
)

// Preset bundles the defaults a named preset stands for.
type Preset struct {
	Format Format
	DPI    int
	Guides bool
}

// LookupPreset resolves a preset name; "" means web.
func LookupPreset(name PresetName) (Preset, error) {
	switch name {
	case "", PresetWeb:
		return Preset{Format: FormatPNG, DPI: 96}, nil
	case PresetPrint:
		return Preset{Format: FormatPDF, DPI: 300, Guides: true}, nil
	case PresetArchive:
		return Preset{Format: FormatZIP, DPI: 96}, nil
	}
	return Preset{}, fmt.Errorf("unknown preset: %s", name)
}

// BatchOptions controls a batch export.
type BatchOptions struct {
	// Guides draws crop hairlines on every image.
	Guides bool
	// NameColumn names files after a dataset column; rows without a value
	// fall back to the numbered default.
	NameColumn string
	// Rows restricts the export to these zero-based rows; empty means all.
	Rows []int
	// SettleDelay pauses between rows so asynchronous work can finish.
	SettleDelay time.Duration
	// Render configures the off-screen engine, typically its Loader and fonts.
	Render render.Options
	// OnProgress is called after each completed row.
	OnProgress func(done, total int)
}

// BatchError reports the row that stopped a batch.
type BatchError struct {
	Row int
	Err error
}

func (e *BatchError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e *BatchError) Unwrap() error { return e.Err }

// ErrAssetFailed marks rows whose images could not be loaded.
var ErrAssetFailed = errors.New("image asset failed to load")

// Report summarizes a batch. Completed rows stand even when the batch failed.
type Report struct {
	Total     int
	Completed int
	Bytes     int64
	Elapsed   time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf("%s of %s certificates, %s in %s",
		humanize.Comma(int64(r.Completed)), humanize.Comma(int64(r.Total)),
		humanize.Bytes(uint64(r.Bytes)), r.Elapsed.Round(time.Millisecond))
}

// Batch renders doc once per dataset row into sink. The first row that fails
// validation or rendering aborts the batch with a *BatchError; rows before it
// have already been handed to the sink. The caller closes the sink.
func Batch(ctx context.Context, doc *domain.Document, ds *domain.Dataset, bindings domain.RowBindings, sink Sink, opts BatchOptions) (Report, error) {
	start := time.Now()
	l := clog.WithOperation(clog.WithComponent("export"), "batch")
	if err := doc.Validate(); err != nil {
		return Report{}, err
	}
	if err := merge.ValidateDataset(doc, ds, bindings); err != nil {
		return Report{}, err
	}
	rows := opts.Rows
	if len(rows) == 0 {
		rows = make([]int, len(ds.Rows))
		for i := range rows {
			rows[i] = i
		}
	}
	rep := Report{Total: len(rows)}
	pad := len(fmt.Sprint(len(ds.Rows)))

	// export never shares the interactive surface
	ro := opts.Render
	ro.Highlight = false
	ro.Hooks = render.Hooks{}
	engine := render.New(ro)
	defer engine.Close()

	for n, idx := range rows {
		if err := ctx.Err(); err != nil {
			rep.Elapsed = time.Since(start)
			return rep, err
		}
		if idx < 0 || idx >= len(ds.Rows) {
			return rep, &BatchError{Row: idx, Err: merge.ErrRowOutOfRange}
		}
		row := ds.Rows[idx]
		if err := merge.ValidateRow(doc, bindings, row, idx); err != nil {
			l.Warn("row rejected", "row", idx, "err", err)
			rep.Elapsed = time.Since(start)
			return rep, &BatchError{Row: idx, Err: err}
		}
		img, err := renderBound(ctx, engine, merge.BindDocument(doc, bindings, row))
		if err != nil {
			rep.Elapsed = time.Since(start)
			return rep, &BatchError{Row: idx, Err: err}
		}
		data, err := EncodePNG(img, opts.Guides)
		if err != nil {
			return rep, &BatchError{Row: idx, Err: err}
		}
		if err := sink.Put(idx, fileName(row, opts.NameColumn, idx, pad), data); err != nil {
			rep.Elapsed = time.Since(start)
			return rep, &BatchError{Row: idx, Err: err}
		}
		rep.Completed++
		rep.Bytes += int64(len(data))
		if opts.OnProgress != nil {
			opts.OnProgress(n+1, len(rows))
		}
		if opts.SettleDelay > 0 && n < len(rows)-1 {
			select {
			case <-time.After(opts.SettleDelay):
			case <-ctx.Done():
				rep.Elapsed = time.Since(start)
				return rep, ctx.Err()
			}
		}
	}
	rep.Elapsed = time.Since(start)
	l.Info("batch exported", "rows", rep.Completed, "size", humanize.Bytes(uint64(rep.Bytes)), "elapsed", rep.Elapsed)
	return rep, nil
}

// renderBound reconciles a bound document, waits for its images and
// rasterizes it. Any image that failed to load fails the render.
func renderBound(ctx context.Context, engine *render.Engine, doc *domain.Document) (*image.RGBA, error) {
	doc.SelectedElementID = ""
	if err := engine.Reconcile(doc); err != nil {
		return nil, err
	}
	if err := engine.Settle(ctx); err != nil {
		return nil, err
	}
	if ws := engine.Warnings(); len(ws) > 0 {
		for _, w := range ws {
			engine.DismissWarning(w.ID)
		}
		return nil, fmt.Errorf("%w: %v", ErrAssetFailed, ws[0])
	}
	return engine.Render(), nil
}

// RenderDocument renders a single document off-screen, e.g. for a preview
// file or a thumbnail. Image failures are returned as warnings, not errors.
func RenderDocument(ctx context.Context, doc *domain.Document, opts render.Options) (*image.RGBA, []render.Warning, error) {
	opts.Hooks = render.Hooks{}
	engine := render.New(opts)
	defer engine.Close()
	d := doc.Clone()
	d.SelectedElementID = ""
	if err := engine.Reconcile(d); err != nil {
		return nil, nil, err
	}
	if err := engine.Settle(ctx); err != nil {
		return nil, nil, err
	}
	return engine.Render(), engine.Warnings(), nil
}

func fileName(row map[string]string, column string, idx, pad int) string {
	if column != "" {
		if s := SafeName(row[column]); s != "" {
			return s
		}
	}
	return fmt.Sprintf("certificate-%0*d", pad, idx+1)
}

// Describe lists the variables a batch needs and how they are bound, for a
// dry run.
func Describe(doc *domain.Document, bindings domain.RowBindings) string {
	var b strings.Builder
	for _, name := range merge.Variables(doc) {
		col, ok := bindings[name]
		if !ok {
			fmt.Fprintf(&b, "[%s] -> (unbound)\n", name)
			continue
		}
		fmt.Fprintf(&b, "[%s] -> %s\n", name, col)
	}
	return b.String()
}
