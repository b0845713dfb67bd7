/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"certcanvas/internal/config"
	"certcanvas/internal/dataset"
	"certcanvas/internal/domain"
	"certcanvas/internal/export"
	"certcanvas/internal/merge"
	"certcanvas/internal/storage"
	"certcanvas/internal/stylepack"
	"certcanvas/internal/ui"
	"certcanvas/internal/workspace"
)

// thumbSize bounds the thumbnails stored with layouts in SQL stores.
const thumbSize = 256

// bindFlags collects repeated --bind variable=column flags.
type bindFlags domain.RowBindings

func (b *bindFlags) String() string {
	parts := make([]string, 0, len(*b))
	for v, col := range *b {
		parts = append(parts, v+"="+col)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (b *bindFlags) Set(s string) error {
	name, col, ok := strings.Cut(s, "=")
	name, col = strings.TrimSpace(name), strings.TrimSpace(col)
	if !ok || name == "" || col == "" {
		return fmt.Errorf("want variable=column, got %q", s)
	}
	if *b == nil {
		*b = bindFlags{}
	}
	(*b)[name] = col
	return nil
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parseArgs parses flags anywhere on the command line and returns the positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, usageError{err.Error()}
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

// bindingsFor auto-binds variables to same-named columns, then applies explicit bindings.
func bindingsFor(doc *domain.Document, ds *domain.Dataset, explicit bindFlags) domain.RowBindings {
	b := merge.AutoBind(merge.Variables(doc), ds.Headers)
	for v, col := range explicit {
		b[v] = col
	}
	return b
}

func (c *cli) validate(args []string) error {
	fs := c.flags("validate")
	data := fs.String("data", "", "dataset (CSV or XLSX) to check against the layout")
	sheet := fs.String("sheet", "", "XLSX worksheet (default: first)")
	var binds bindFlags
	fs.Var(&binds, "bind", "variable=column binding (repeatable)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usagef("validate requires <layout>")
	}
	lay, err := storage.ReadLayoutFile(pos[0])
	if err != nil {
		return err
	}
	doc := lay.Document()
	vars := merge.Variables(doc)
	fmt.Fprintf(c.stdout, "Layout %q: %d elements, %dx%d px\n", lay.Name, len(doc.Elements), doc.CanvasSize.Width, doc.CanvasSize.Height)
	if len(vars) > 0 {
		fmt.Fprintf(c.stdout, "Variables: %s\n", strings.Join(vars, ", "))
	}
	if *data == "" {
		return nil
	}
	ds, err := dataset.Load(*data, dataset.Options{Sheet: *sheet})
	if err != nil {
		return err
	}
	bindings := bindingsFor(doc, ds, binds)
	for _, v := range vars {
		if _, ok := bindings[v]; !ok {
			fmt.Fprintf(c.stdout, "Unbound: [%s] stays literal\n", v)
		}
	}
	if err := merge.ValidateDataset(doc, ds, bindings); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Dataset OK: %s rows\n", humanize.Comma(int64(len(ds.Rows))))
	return nil
}

func (c *cli) render(ctx context.Context, args []string) error {
	fs := c.flags("render")
	out := fs.String("o", "", "output PNG (default: <layout name>.png next to the layout)")
	data := fs.String("data", "", "dataset to preview a row from")
	sheet := fs.String("sheet", "", "XLSX worksheet (default: first)")
	row := fs.Int("row", 1, "dataset row to render (1-based)")
	watch := fs.Bool("watch", false, "re-render whenever the layout or dataset changes")
	var binds bindFlags
	fs.Var(&binds, "bind", "variable=column binding (repeatable)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usagef("render requires <layout>")
	}
	path := pos[0]

	var mu sync.Mutex
	once := func() error {
		mu.Lock()
		defer mu.Unlock()
		lay, err := storage.ReadLayoutFile(path)
		if err != nil {
			return err
		}
		doc := lay.Document()
		if *data != "" {
			ds, err := dataset.Load(*data, dataset.Options{Sheet: *sheet})
			if err != nil {
				return err
			}
			if doc, err = merge.PreviewDocument(doc, ds, bindingsFor(doc, ds, binds), *row-1); err != nil {
				return err
			}
		}
		ropts, err := workspace.RenderOptions(c.cfg, filepath.Dir(path))
		if err != nil {
			return err
		}
		img, warns, err := export.RenderDocument(ctx, doc, ropts)
		if err != nil {
			return err
		}
		for _, w := range warns {
			fmt.Fprintln(c.stderr, "warning:", w.Error())
		}
		dst := *out
		if dst == "" {
			dst = filepath.Join(filepath.Dir(path), storage.Slug(lay.Name)+".png")
		}
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		if err := png.Encode(f, img); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode %s: %w", dst, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		b := img.Bounds()
		fmt.Fprintf(c.stdout, "Wrote %s (%dx%d)\n", dst, b.Dx(), b.Dy())
		return nil
	}

	if err := once(); err != nil && !*watch {
		return err
	} else if err != nil {
		fmt.Fprintln(c.stderr, "Error:", err)
	}
	if !*watch {
		return nil
	}
	paths := []string{path}
	if *data != "" {
		paths = append(paths, *data)
	}
	fmt.Fprintln(c.stdout, "Watching for changes; press Ctrl+C to stop")
	err = storage.Watch(ctx, paths, storage.DefaultWatchDebounce, func(string) {
		if err := once(); err != nil {
			fmt.Fprintln(c.stderr, "Error:", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *cli) exportCmd(ctx context.Context, args []string) error {
	fs := c.flags("export")
	data := fs.String("data", "", "dataset (CSV or XLSX), one certificate per row")
	sheet := fs.String("sheet", "", "XLSX worksheet (default: first)")
	out := fs.String("out", "", "output directory (png) or file (zip, pdf)")
	preset := fs.String("preset", "", "export preset: web, print or archive (default from config)")
	format := fs.String("format", "", "override the preset format: png, zip or pdf")
	dpi := fs.Int("dpi", 0, "override the preset DPI")
	nameCol := fs.String("name-column", "", "dataset column used for file names")
	quiet := fs.Bool("q", false, "no progress output")
	var binds bindFlags
	fs.Var(&binds, "bind", "variable=column binding (repeatable)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 || *data == "" || *out == "" {
		return usagef("export requires <layout>, --data and --out")
	}

	sess, err := workspace.New(c.cfg, workspace.Hooks{})
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.Open(pos[0]); err != nil {
		return err
	}
	c.crash.Name, c.crash.Source = sess.Name, sess.Editor
	if err := sess.LoadDataset(*data, dataset.Options{Sheet: *sheet}); err != nil {
		return err
	}
	for v, col := range binds {
		if err := sess.Bind(v, col); err != nil {
			return err
		}
	}
	plan, err := workspace.PlanFor(c.cfg, *preset, *format, *dpi)
	if err != nil {
		return err
	}
	if *nameCol != "" {
		plan.NameColumn = *nameCol
	}
	c.log.Info("export", "layout", sess.Name, "rows", len(sess.Dataset.Rows), "format", plan.Format, "dpi", plan.DPI)
	progress := func(done, total int) {
		if !*quiet {
			fmt.Fprintf(c.stderr, "\r%d/%d", done, total)
		}
	}
	rep, err := sess.Export(ctx, *out, plan, progress)
	if !*quiet {
		fmt.Fprintln(c.stderr)
	}
	fmt.Fprintf(c.stdout, "Exported %s to %s\n", rep, *out)
	return err
}

func (c *cli) openStore(ctx context.Context) (storage.LayoutStore, error) {
	return storage.Open(ctx, c.cfg.Storage.Driver, c.cfg.Storage.DSN, storage.WithRevisions(c.cfg.Storage.KeepRevisions))
}

func (c *cli) layouts(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usagef("layouts requires a subcommand: list, save, show, delete, revisions, restore or thumbnail")
	}
	sub, args := args[0], args[1:]
	fs := c.flags("layouts " + sub)
	name := fs.String("name", "", "store under this name instead of the layout's own")
	out := fs.String("o", "", "output file")
	limit := fs.Int("n", 10, "number of revisions to list")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	st, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	sqlStore, isSQL := st.(*storage.SQLStore)
	need := func(n int, what string) error {
		if len(pos) != n {
			return usagef("layouts %s requires %s", sub, what)
		}
		return nil
	}

	switch sub {
	case "list":
		sums, err := st.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tELEMENTS\tCANVAS\tSAVED")
		for _, s := range sums {
			saved := s.Timestamp
			if t, err := time.Parse(time.RFC3339Nano, s.Timestamp); err == nil {
				saved = humanize.Time(t)
			}
			fmt.Fprintf(tw, "%s\t%d\t%dx%d\t%s\n", s.Name, s.Elements, s.Width, s.Height, saved)
		}
		return tw.Flush()

	case "save":
		if err := need(1, "<layout file>"); err != nil {
			return err
		}
		lay, err := storage.ReadLayoutFile(pos[0])
		if err != nil {
			return err
		}
		if *name != "" {
			lay.Name = *name
		}
		if err := st.Save(ctx, lay); err != nil {
			return err
		}
		if isSQL {
			ropts, err := workspace.RenderOptions(c.cfg, filepath.Dir(pos[0]))
			if err != nil {
				return err
			}
			img, _, err := export.RenderDocument(ctx, lay.Document(), ropts)
			if err != nil {
				return err
			}
			if _, err := sqlStore.PutThumbnail(ctx, lay.Name, img, thumbSize, thumbSize); err != nil {
				return err
			}
		}
		fmt.Fprintf(c.stdout, "Saved %q\n", lay.Name)
		return nil

	case "show":
		if err := need(1, "<name>"); err != nil {
			return err
		}
		lay, err := st.Load(ctx, pos[0])
		if err != nil {
			return err
		}
		if *out != "" {
			return storage.WriteLayoutFile(*out, lay)
		}
		data, err := storage.EncodeLayout(lay)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.stdout, string(data))
		return err

	case "delete":
		if err := need(1, "<name>"); err != nil {
			return err
		}
		if err := st.Delete(ctx, pos[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Deleted %q\n", pos[0])
		return nil

	case "revisions", "restore", "thumbnail":
		if !isSQL {
			return fmt.Errorf("layouts %s needs an sqlite or pgx store (storage.driver is %q)", sub, c.cfg.Storage.Driver)
		}
		return c.sqlLayouts(ctx, sqlStore, sub, pos, *out, *limit)

	default:
		return usagef("unknown layouts subcommand %q", sub)
	}
}

func (c *cli) sqlLayouts(ctx context.Context, st *storage.SQLStore, sub string, pos []string, out string, limit int) error {
	switch sub {
	case "revisions":
		if len(pos) != 1 {
			return usagef("layouts revisions requires <name>")
		}
		revs, err := st.Revisions(ctx, pos[0], limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSAVED\tSIZE")
		for _, r := range revs {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ID, humanize.Time(r.Time), humanize.Bytes(uint64(len(r.Data))))
		}
		return tw.Flush()

	case "restore":
		if len(pos) != 2 {
			return usagef("layouts restore requires <name> <revision id>")
		}
		id, err := strconv.ParseInt(pos[1], 10, 64)
		if err != nil {
			return usagef("bad revision id %q", pos[1])
		}
		lay, err := st.LoadRevision(ctx, id)
		if err != nil {
			return err
		}
		if lay.Name != pos[0] {
			return fmt.Errorf("revision %d belongs to %q, not %q", id, lay.Name, pos[0])
		}
		if err := st.Save(ctx, lay); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Restored %q from revision %d\n", lay.Name, id)
		return nil

	default: // thumbnail
		if len(pos) != 1 || out == "" {
			return usagef("layouts thumbnail requires <name> and -o <file.png>")
		}
		data, err := st.Thumbnail(ctx, pos[0], thumbSize, thumbSize)
		if err != nil {
			return err
		}
		return os.WriteFile(out, data, 0o644)
	}
}

func (c *cli) styles(args []string) error {
	if len(args) == 0 {
		return usagef("styles requires list, export or install")
	}
	path := c.cfg.Editor.StylesFile
	switch args[0] {
	case "list":
		p, err := stylepack.Load(path)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tFONT\tSIZE\tALIGN\tSOURCE")
		for _, name := range stylepack.Names(p) {
			st, _ := p.Get(name)
			source := "builtin"
			if _, ok := p.Overrides[name]; ok {
				source = "user"
			}
			font := st.Font.Family
			if st.Font.Bold() {
				font += " bold"
			}
			if st.Font.Italic {
				font += " italic"
			}
			fmt.Fprintf(tw, "%s\t%s\t%g\t%s\t%s\n", name, font, st.Font.SizePt, st.TextAlign, source)
		}
		return tw.Flush()
	case "export", "install":
		if len(args) != 2 {
			return usagef("styles %s requires <zip>", args[0])
		}
		if args[0] == "export" {
			if err := stylepack.ExportPack(path, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Styles exported to %s\n", args[1])
			return nil
		}
		n, err := stylepack.InstallPack(path, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Installed %d styles into %s\n", n, path)
		return nil
	default:
		return usagef("unknown styles subcommand %q", args[0])
	}
}

func (c *cli) token(args []string) error {
	if len(args) == 0 {
		return usagef("token requires set, clear or status")
	}
	switch args[0] {
	case "set":
		if len(args) != 2 {
			return usagef("token set requires <value> or - to read it from stdin")
		}
		tok := args[1]
		if tok == "-" {
			line, err := bufio.NewReader(c.stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			tok = line
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return usagef("empty token; use token clear to remove it")
		}
		if err := config.SetToken(tok); err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, "Token stored in the system keychain")
	case "clear":
		if err := config.SetToken(""); err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, "Token removed")
	case "status":
		tok, err := config.Token()
		if err != nil {
			return err
		}
		if tok == "" {
			fmt.Fprintln(c.stdout, "No token configured")
		} else {
			fmt.Fprintln(c.stdout, "Token configured")
		}
	default:
		return usagef("unknown token subcommand %q", args[0])
	}
	return nil
}

func (c *cli) configCmd(args []string) error {
	if len(args) != 1 {
		return usagef("config requires path or init")
	}
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	switch args[0] {
	case "path":
		fmt.Fprintln(c.stdout, path)
	case "init":
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.SaveTo(path, config.Defaults()); err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, "Wrote", path)
	default:
		return usagef("unknown config subcommand %q", args[0])
	}
	return nil
}

func (c *cli) uiCmd(args []string) error {
	var path string
	if len(args) > 0 {
		path = args[0]
	}
	return ui.Run(c.cfg, path)
}
