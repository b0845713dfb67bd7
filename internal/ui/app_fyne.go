//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	fstorage "fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/dustin/go-humanize"

	"certcanvas/internal/config"
	"certcanvas/internal/crash"
	"certcanvas/internal/dataset"
	"certcanvas/internal/domain"
	"certcanvas/internal/export"
	applog "certcanvas/internal/log"
	"certcanvas/internal/merge"
	"certcanvas/internal/render"
	store "certcanvas/internal/storage"
	"certcanvas/internal/variables"
	"certcanvas/internal/version"
	"certcanvas/internal/workspace"
)

const unbound = "(unbound)"

// Run starts the Fyne desktop editor, opening layoutPath when it is not empty.
func Run(cfg config.AppConfig, layoutPath string) error {
	l := applog.WithComponent("ui")
	l.Info("starting UI")

	fyneApp := app.NewWithID("certcanvas")
	w := fyneApp.NewWindow("CertCanvas")
	prefs := fyneApp.Preferences()
	winW := max(prefs.IntWithFallback("window.width", 1280), 900)
	winH := max(prefs.IntWithFallback("window.height", 820), 600)
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	status := widget.NewLabel("Ready")
	var refresh func()
	var onWarning func(render.Warning)
	sess, err := workspace.New(cfg, workspace.Hooks{
		OnChange: func() {
			fyne.Do(func() {
				if refresh != nil {
					refresh()
				}
			})
		},
		OnWarning: func(wr render.Warning) {
			fyne.Do(func() {
				if onWarning != nil {
					onWarning(wr)
				}
			})
		},
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	cs := sess.CrashSession()
	defer crash.Recover(cs)

	ed := sess.Editor
	cv := NewCertCanvas(ed)

	report := func(op string, err error) bool {
		if err == nil {
			return false
		}
		l.Warn("action failed", slog.String("op", op), slog.Any("err", err))
		status.SetText(op + ": " + err.Error())
		return true
	}
	selected := func() (string, bool) {
		id := ed.Selected()
		if id == "" {
			status.SetText("Nothing selected")
			return "", false
		}
		return id, true
	}

	// syncing is set while widgets are updated from the model so their callbacks do not
	// write the same values back.
	syncing := false

	// Layers (left): topmost first
	var layers []domain.Element
	layerList := widget.NewList(
		func() int { return len(layers) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= 0 && int(i) < len(layers) {
				o.(*widget.Label).SetText(layerLabel(layers[i]))
			}
		},
	)
	layerList.OnSelected = func(i widget.ListItemID) {
		if syncing || i < 0 || int(i) >= len(layers) {
			return
		}
		report("select", ed.Select(layers[i].ID))
	}
	left := container.NewBorder(container.NewVBox(widget.NewLabel("Layers"), widget.NewSeparator()), nil, nil, nil, layerList)

	// Inspector (right)
	idLabel := widget.NewLabel("")
	geoLabel := widget.NewLabel("")
	contentEntry := newContentEntry()
	contentEntry.SetMinRowsVisible(4)
	contentEntry.OnChanged = func(s string) {
		if syncing {
			return
		}
		if id, ok := selected(); ok {
			// the surface follows the keystroke at once; the model commit reconciles after
			cv.EditText(id, s)
			report("edit text", ed.TypeText(id, s))
		}
	}
	contentEntry.OnFocusLost = cv.EndTextEdit
	contentEntry.OnEscape = func() {
		cv.EndTextEdit()
		w.Canvas().Focus(cv)
	}
	cv.OnEditText = func(id string) {
		if el, err := ed.Element(id); err != nil || el.Type != domain.TypeText {
			return
		}
		if !report("edit text", cv.BeginTextEdit(id)) {
			w.Canvas().Focus(contentEntry)
		}
	}
	lockCheck := widget.NewCheck("Locked", func(on bool) {
		if syncing {
			return
		}
		if id, ok := selected(); ok {
			report("lock", ed.Update(id, func(el *domain.Element) { el.Locked = on }))
		}
	})
	opacity := widget.NewSlider(0, 1)
	opacity.Step = 0.05
	opacity.OnChangeEnded = func(v float64) {
		if syncing {
			return
		}
		if id, ok := selected(); ok {
			report("opacity", ed.Update(id, func(el *domain.Element) { el.Opacity = v }))
		}
	}
	presetSelect := widget.NewSelect(stylepack.Names(ed.Presets()), nil)
	presetSelect.SetSelected("Body")

	styleBtn := widget.NewButtonWithIcon("Style characters…", theme.ColorPaletteIcon(), func() {
		if id, ok := selected(); ok {
			showCharStyleDialog(w, ed, id, report)
		}
	})
	varStyleBtn := widget.NewButtonWithIcon("Style variable…", theme.ColorChromaticIcon(), func() {
		if id, ok := selected(); ok {
			showVariableStyleDialog(w, ed, id, report)
		}
	})

	// Dataset bindings and preview
	dataLabel := widget.NewLabel("No dataset")
	bindBox := container.NewVBox()
	bindSig := ""
	rebuildBindings := func(doc *domain.Document) {
		vars := merge.Variables(doc)
		var headers []string
		if sess.Dataset != nil {
			headers = sess.Dataset.Headers
		}
		sig := strings.Join(vars, "\x00") + "\x01" + strings.Join(headers, "\x00") + "\x01" + fmt.Sprint(sess.Bindings)
		if sig == bindSig {
			return
		}
		bindSig = sig
		bindBox.RemoveAll()
		if len(vars) == 0 {
			bindBox.Add(widget.NewLabel("No variables in the layout"))
		}
		for _, v := range vars {
			v := v
			sel := widget.NewSelect(append([]string{unbound}, headers...), nil)
			if col, ok := sess.Bindings[v]; ok {
				sel.SetSelected(col)
			} else {
				sel.SetSelected(unbound)
			}
			sel.OnChanged = func(col string) {
				if col == unbound {
					col = ""
				}
				report("bind "+v, sess.Bind(v, col))
				refresh()
			}
			bindBox.Add(container.NewBorder(nil, nil, widget.NewLabel("["+v+"]"), nil, sel))
		}
		bindBox.Refresh()
	}
	rowLabel := widget.NewLabel("")
	previewCheck := widget.NewCheck("Preview row", func(on bool) {
		if syncing {
			return
		}
		report("preview", sess.Preview(on, 0))
		refresh()
	})
	prevRow := widget.NewButtonWithIcon("", theme.NavigateBackIcon(), func() { report("preview", ed.StepPreview(-1)) })
	nextRow := widget.NewButtonWithIcon("", theme.NavigateNextIcon(), func() { report("preview", ed.StepPreview(1)) })

	right := container.NewVScroll(container.NewVBox(
		widget.NewLabelWithStyle("Element", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		idLabel, geoLabel,
		contentEntry,
		container.NewGridWithColumns(2, styleBtn, varStyleBtn),
		lockCheck,
		container.NewBorder(nil, nil, widget.NewLabel("Opacity"), nil, opacity),
		container.NewBorder(nil, nil, widget.NewLabel("New text style"), nil, presetSelect),
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Dataset", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		dataLabel,
		bindBox,
		container.NewHBox(previewCheck, prevRow, nextRow, rowLabel),
	))

	// Warnings (bottom): newest first, dismissible
	var warnings []render.Warning
	warnList := widget.NewList(
		func() int { return len(warnings) },
		func() fyne.CanvasObject {
			return container.NewBorder(nil, nil, nil, widget.NewButtonWithIcon("", theme.CancelIcon(), nil), widget.NewLabel(""))
		},
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i < 0 || int(i) >= len(warnings) {
				return
			}
			wr := warnings[i]
			row := o.(*fyne.Container)
			row.Objects[0].(*widget.Label).SetText(wr.Time.Format("15:04:05") + "  " + wr.Error())
			row.Objects[1].(*widget.Button).OnTapped = func() {
				ed.Engine().DismissWarning(wr.ID)
				warnings = ed.Engine().Warnings()
				reverseWarnings(warnings)
				onWarning(render.Warning{})
			}
		},
	)
	warnPane := container.NewGridWrap(fyne.NewSize(float32(winW), 72), warnList)
	warnPane.Hide()
	onWarning = func(wr render.Warning) {
		warnings = ed.Engine().Warnings()
		reverseWarnings(warnings)
		if wr.ID != "" {
			status.SetText("Warning: " + wr.Error())
		}
		if len(warnings) == 0 {
			warnPane.Hide()
		} else {
			warnPane.Show()
		}
		warnList.Refresh()
		cv.Refresh()
	}

	refresh = func() {
		syncing = true
		defer func() { syncing = false }()

		w.SetTitle("CertCanvas - " + sess.Title())
		cs.Name = sess.Name
		doc := ed.Document()
		layers = append(layers[:0], doc.Elements...)
		sort.SliceStable(layers, func(i, j int) bool { return layers[i].ZIndex > layers[j].ZIndex })
		layerList.Refresh()

		sel := ed.Selected()
		_, previewing := ed.PreviewRow()
		if id := cv.Editing(); id != "" && (id != sel || previewing) {
			cv.EndTextEdit()
		}
		layerList.UnselectAll()
		for i, el := range layers {
			if el.ID == sel {
				layerList.Select(i)
			}
		}
		if el, err := ed.Element(sel); err == nil {
			idLabel.SetText(fmt.Sprintf("%s %s", el.Type, el.ID))
			geoLabel.SetText(fmt.Sprintf("x %.0f  y %.0f  w %.0f  h %.0f  angle %.0f°", el.X, el.Y, el.Width, el.Height, el.Angle))
			lockCheck.SetChecked(el.Locked)
			lockCheck.Enable()
			opacity.SetValue(el.Opacity)
			if el.Type == domain.TypeText && !previewing {
				if contentEntry.Text != el.Content {
					contentEntry.SetText(el.Content)
				}
				contentEntry.Enable()
				styleBtn.Enable()
				varStyleBtn.Enable()
			} else {
				contentEntry.SetText(el.Content)
				contentEntry.Disable()
				styleBtn.Disable()
				varStyleBtn.Disable()
			}
		} else {
			idLabel.SetText("Nothing selected")
			geoLabel.SetText("")
			contentEntry.SetText("")
			contentEntry.Disable()
			lockCheck.Disable()
			styleBtn.Disable()
			varStyleBtn.Disable()
		}

		if sess.Dataset != nil {
			dataLabel.SetText(fmt.Sprintf("%s: %s rows", filepath.Base(sess.DataPath), humanize.Comma(int64(len(sess.Dataset.Rows)))))
		}
		rebuildBindings(doc)
		if row, on := ed.PreviewRow(); on {
			previewCheck.SetChecked(true)
			rowLabel.SetText(fmt.Sprintf("%d / %d", row+1, len(sess.Dataset.Rows)))
			prevRow.Enable()
			nextRow.Enable()
		} else {
			previewCheck.SetChecked(false)
			rowLabel.SetText("")
			prevRow.Disable()
			nextRow.Disable()
		}
		cv.Reload()
	}

	// Actions
	addText := func() {
		_, err := ed.InsertText("Type here", presetSelect.Selected)
		if !report("add text", err) {
			w.Canvas().Focus(contentEntry)
		}
	}
	addImage := func() {
		fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if rc == nil {
				return
			}
			p := rc.URI().Path()
			_ = rc.Close()
			if dir := sess.Path; dir != "" {
				if rel, rerr := filepath.Rel(filepath.Dir(dir), p); rerr == nil && !strings.HasPrefix(rel, "..") {
					p = rel
				}
			}
			_, err = ed.InsertImage(p, 0, 0)
			report("add image", err)
		}, w)
		fd.SetFilter(fstorage.NewExtensionFileFilter([]string{".png", ".jpg", ".jpeg", ".gif", ".svg"}))
		fd.Show()
	}
	deleteSel := func() {
		if id, ok := selected(); ok {
			report("delete", ed.Delete(id))
		}
	}
	duplicate := func() {
		if id, ok := selected(); ok {
			_, err := ed.Duplicate(id)
			report("duplicate", err)
		}
	}
	copySel := func() {
		if id, ok := selected(); ok {
			report("copy", ed.Copy(id))
		}
	}
	paste := func() {
		_, err := ed.Paste()
		report("paste", err)
	}
	toFront := func() {
		if id, ok := selected(); ok {
			report("bring to front", ed.BringToFront(id))
		}
	}
	toBack := func() {
		if id, ok := selected(); ok {
			report("send to back", ed.SendToBack(id))
		}
	}
	undo := func() {
		if ok, err := ed.Undo(); !report("undo", err) && !ok {
			status.SetText("Nothing to undo")
		}
	}
	redo := func() {
		if ok, err := ed.Redo(); !report("redo", err) && !ok {
			status.SetText("Nothing to redo")
		}
	}

	var setMenu func()
	openPath := func(p string) {
		if report("open", sess.Open(p)) {
			return
		}
		addRecent(prefs, p)
		setMenu()
		cv.FitToWindow()
		status.SetText("Opened " + p)
	}
	open := func() {
		fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if rc == nil {
				return
			}
			p := rc.URI().Path()
			_ = rc.Close()
			openPath(p)
		}, w)
		fd.SetFilter(fstorage.NewExtensionFileFilter([]string{".json"}))
		fd.Show()
	}
	saveAs := func() {
		fd := dialog.NewFileSave(func(wc fyne.URIWriteCloser, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if wc == nil {
				return
			}
			p := wc.URI().Path()
			_ = wc.Close()
			if !strings.HasSuffix(p, ".json") {
				p += store.LayoutExt
			}
			if report("save", sess.SaveAs(p, "")) {
				return
			}
			addRecent(prefs, p)
			setMenu()
			refresh()
			status.SetText("Saved " + p)
		}, w)
		fd.SetFileName(store.Slug(sess.Name) + store.LayoutExt)
		fd.Show()
	}
	save := func() {
		err := sess.Save()
		if errors.Is(err, workspace.ErrNoPath) {
			saveAs()
			return
		}
		if !report("save", err) {
			status.SetText("Saved " + sess.Path)
		}
	}
	rename := func() {
		name := widget.NewEntry()
		name.SetText(sess.Name)
		dialog.ShowForm("Layout Name", "Rename", "Cancel", []*widget.FormItem{widget.NewFormItem("Name", name)}, func(ok bool) {
			if ok && strings.TrimSpace(name.Text) != "" {
				sess.Name = strings.TrimSpace(name.Text)
				refresh()
			}
		}, w)
	}
	loadData := func() {
		fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if rc == nil {
				return
			}
			p := rc.URI().Path()
			_ = rc.Close()
			if report("dataset", sess.LoadDataset(p, dataset.Options{})) {
				return
			}
			status.SetText(fmt.Sprintf("Loaded %s rows from %s", humanize.Comma(int64(len(sess.Dataset.Rows))), filepath.Base(p)))
			refresh()
		}, w)
		fd.SetFilter(fstorage.NewExtensionFileFilter([]string{".csv", ".tsv", ".xlsx"}))
		fd.Show()
	}
	exportAll := func() {
		if sess.Dataset == nil {
			dialog.ShowInformation("Export", "Load a dataset first.", w)
			return
		}
		showExportDialog(w, sess, status, l)
	}
	background := func() {
		doc := ed.Document()
		colorEntry := widget.NewEntry()
		colorEntry.SetText(doc.Background.Color)
		srcEntry := widget.NewEntry()
		srcEntry.SetText(doc.Background.Src)
		srcEntry.SetPlaceHolder("path, URL or [variable]")
		dialog.ShowForm("Background", "Apply", "Cancel", []*widget.FormItem{
			widget.NewFormItem("Color", colorEntry),
			widget.NewFormItem("Image", srcEntry),
		}, func(ok bool) {
			if ok {
				report("background", ed.SetBackground(domain.Background{Color: strings.TrimSpace(colorEntry.Text), Src: strings.TrimSpace(srcEntry.Text)}))
			}
		}, w)
	}
	canvasSize := func() {
		doc := ed.Document()
		we, he := widget.NewEntry(), widget.NewEntry()
		we.SetText(strconv.Itoa(doc.CanvasSize.Width))
		he.SetText(strconv.Itoa(doc.CanvasSize.Height))
		dialog.ShowForm("Canvas Size", "Apply", "Cancel", []*widget.FormItem{
			widget.NewFormItem("Width (px)", we),
			widget.NewFormItem("Height (px)", he),
		}, func(ok bool) {
			if !ok {
				return
			}
			cw, err1 := strconv.Atoi(strings.TrimSpace(we.Text))
			ch, err2 := strconv.Atoi(strings.TrimSpace(he.Text))
			if err := errors.Join(err1, err2); err != nil {
				dialog.ShowError(err, w)
				return
			}
			if !report("canvas size", ed.SetCanvasSize(cw, ch)) {
				cv.FitToWindow()
			}
		}, w)
	}
	assetToken := func() {
		tok := widget.NewPasswordEntry()
		tok.SetPlaceHolder("leave empty to remove")
		dialog.ShowForm("Asset Server Token", "Store", "Cancel", []*widget.FormItem{widget.NewFormItem("Token", tok)}, func(ok bool) {
			if ok && !report("token", config.SetToken(strings.TrimSpace(tok.Text))) {
				status.SetText("Token stored in the system keychain")
			}
		}, w)
	}

	cv.OnKey = func(k *fyne.KeyEvent) {
		switch k.Name {
		case fyne.KeyDelete, fyne.KeyBackspace:
			deleteSel()
		}
	}

	toolbar := widget.NewToolbar(
		widget.NewToolbarAction(theme.DocumentCreateIcon(), addText),
		widget.NewToolbarAction(theme.FileImageIcon(), addImage),
		widget.NewToolbarAction(theme.ContentCopyIcon(), duplicate),
		widget.NewToolbarAction(theme.DeleteIcon(), deleteSel),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.MoveUpIcon(), toFront),
		widget.NewToolbarAction(theme.MoveDownIcon(), toBack),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.ContentUndoIcon(), undo),
		widget.NewToolbarAction(theme.ContentRedoIcon(), redo),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.FolderOpenIcon(), open),
		widget.NewToolbarAction(theme.DocumentSaveIcon(), save),
		widget.NewToolbarAction(theme.StorageIcon(), loadData),
		widget.NewToolbarAction(theme.UploadIcon(), exportAll),
		widget.NewToolbarSpacer(),
		widget.NewToolbarAction(theme.ZoomFitIcon(), cv.FitToWindow),
	)

	shortcut := func(key fyne.KeyName, mod fyne.KeyModifier, fn func()) fyne.Shortcut {
		sc := &desktop.CustomShortcut{KeyName: key, Modifier: mod}
		w.Canvas().AddShortcut(sc, func(fyne.Shortcut) { fn() })
		return sc
	}
	item := func(label string, fn func(), sc fyne.Shortcut) *fyne.MenuItem {
		mi := fyne.NewMenuItem(label, fn)
		mi.Shortcut = sc
		return mi
	}
	mod := fyne.KeyModifierShortcutDefault
	scOpen := shortcut(fyne.KeyO, mod, open)
	scSave := shortcut(fyne.KeyS, mod, save)
	scUndo := shortcut(fyne.KeyZ, mod, undo)
	scRedo := shortcut(fyne.KeyZ, mod|fyne.KeyModifierShift, redo)
	scCopy := shortcut(fyne.KeyC, mod|fyne.KeyModifierAlt, copySel)
	scPaste := shortcut(fyne.KeyV, mod|fyne.KeyModifierAlt, paste)
	scDup := shortcut(fyne.KeyD, mod, duplicate)

	highlightItem := fyne.NewMenuItem("Highlight Variables", nil)
	highlightItem.Checked = ed.Highlight()
	snapItem := fyne.NewMenuItem("Snap Rotation", nil)
	snapItem.Checked = prefs.BoolWithFallback("canvas.snapRotation", false)
	cv.SnapRotation = snapItem.Checked

	setMenu = func() {
		recentItem := fyne.NewMenuItem("Open Recent", nil)
		var recents []*fyne.MenuItem
		for _, p := range loadRecent(prefs) {
			p := p
			recents = append(recents, fyne.NewMenuItem(p, func() { openPath(p) }))
		}
		if len(recents) == 0 {
			none := fyne.NewMenuItem("(none)", nil)
			none.Disabled = true
			recents = append(recents, none)
		}
		recentItem.ChildMenu = fyne.NewMenu("", recents...)

		fileMenu := fyne.NewMenu("File",
			item("Open…", open, scOpen),
			recentItem,
			item("Save", save, scSave),
			fyne.NewMenuItem("Save As…", saveAs),
			fyne.NewMenuItem("Rename Layout…", rename),
			fyne.NewMenuItemSeparator(),
			fyne.NewMenuItem("Load Dataset…", loadData),
			fyne.NewMenuItem("Export Certificates…", exportAll),
			fyne.NewMenuItemSeparator(),
			fyne.NewMenuItem("Asset Server Token…", assetToken),
		)
		editMenu := fyne.NewMenu("Edit",
			item("Undo", undo, scUndo),
			item("Redo", redo, scRedo),
			fyne.NewMenuItemSeparator(),
			item("Copy Element", copySel, scCopy),
			item("Paste Element", paste, scPaste),
			item("Duplicate", duplicate, scDup),
			fyne.NewMenuItem("Delete", deleteSel),
			fyne.NewMenuItemSeparator(),
			fyne.NewMenuItem("Bring to Front", toFront),
			fyne.NewMenuItem("Send to Back", toBack),
		)
		insertMenu := fyne.NewMenu("Insert",
			fyne.NewMenuItem("Text", addText),
			fyne.NewMenuItem("Image…", addImage),
		)
		canvasMenu := fyne.NewMenu("Canvas",
			fyne.NewMenuItem("Background…", background),
			fyne.NewMenuItem("Size…", canvasSize),
			fyne.NewMenuItemSeparator(),
			highlightItem,
			snapItem,
			fyne.NewMenuItem("Fit to Window", cv.FitToWindow),
		)
		aboutMenu := fyne.NewMenu("About", fyne.NewMenuItem("About CertCanvas", func() {
			exe, _ := os.Executable()
			info := fmt.Sprintf("CertCanvas\nVersion: %s\nOS: %s\nArch: %s\nGo: %s\nExecutable: %s",
				version.String(), runtime.GOOS, runtime.GOARCH, runtime.Version(), exe)
			dialog.ShowInformation("About", info, w)
		}))
		w.SetMainMenu(fyne.NewMainMenu(fileMenu, editMenu, insertMenu, canvasMenu, aboutMenu))
	}
	highlightItem.Action = func() {
		if report("highlight", ed.SetHighlight(!ed.Highlight())) {
			return
		}
		highlightItem.Checked = ed.Highlight()
		setMenu()
	}
	snapItem.Action = func() {
		cv.SnapRotation = !cv.SnapRotation
		snapItem.Checked = cv.SnapRotation
		setMenu()
	}
	setMenu()

	center := container.NewBorder(nil, warnPane, nil, nil, cv)
	inner := container.NewHSplit(center, right)
	inner.Offset = 0.72
	split := container.NewHSplit(left, inner)
	split.Offset = 0.18
	w.SetContent(container.NewBorder(toolbar, status, nil, nil, split))

	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		prefs.SetBool("canvas.snapRotation", cv.SnapRotation)
		w.Close()
	})

	if layoutPath != "" {
		openPath(layoutPath)
	}
	refresh()
	w.ShowAndRun()
	return nil
}

func layerLabel(el domain.Element) string {
	var s string
	switch el.Type {
	case domain.TypeText:
		s = strings.TrimSpace(strings.SplitN(el.Content, "\n", 2)[0])
		if r := []rune(s); len(r) > 28 {
			s = string(r[:28]) + "…"
		}
		s = "T  " + s
	case domain.TypeImage:
		s = "I  " + filepath.Base(el.Src)
	default:
		s = "?  " + el.Type
	}
	if el.Locked {
		s += "  (locked)"
	}
	return s
}

func reverseWarnings(ws []render.Warning) {
	for i, j := 0, len(ws)-1; i < j; i, j = i+1, j-1 {
		ws[i], ws[j] = ws[j], ws[i]
	}
}

// fragmentForm builds the shared style fields of the character and variable style dialogs.
func fragmentForm() ([]*widget.FormItem, func() domain.StyleFragment) {
	fill := widget.NewEntry()
	fill.SetPlaceHolder("#rrggbb")
	size := widget.NewEntry()
	size.SetPlaceHolder("inherit")
	weight := widget.NewSelect([]string{"inherit", "normal", "bold"}, nil)
	weight.SetSelected("inherit")
	style := widget.NewSelect([]string{"inherit", "normal", "italic"}, nil)
	style.SetSelected("inherit")
	under := widget.NewSelect([]string{"inherit", "on", "off"}, nil)
	under.SetSelected("inherit")
	items := []*widget.FormItem{
		widget.NewFormItem("Fill", fill),
		widget.NewFormItem("Size (pt)", size),
		widget.NewFormItem("Weight", weight),
		widget.NewFormItem("Style", style),
		widget.NewFormItem("Underline", under),
	}
	build := func() domain.StyleFragment {
		f := domain.StyleFragment{Fill: strings.TrimSpace(fill.Text)}
		if v, err := strconv.ParseFloat(strings.TrimSpace(size.Text), 64); err == nil && v > 0 {
			f.FontSize = v
		}
		if weight.Selected != "inherit" {
			f.FontWeight = weight.Selected
		}
		if style.Selected != "inherit" {
			f.FontStyle = style.Selected
		}
		if under.Selected != "inherit" {
			on := under.Selected == "on"
			f.Underline = &on
		}
		return f
	}
	return items, build
}

func showCharStyleDialog(w fyne.Window, ed interface {
	SetCharStyle(id string, from, to int, frag domain.StyleFragment) error
	ClearCharStyle(id string, from, to int) error
}, id string, report func(string, error) bool) {
	from, to := widget.NewEntry(), widget.NewEntry()
	from.SetText("0")
	to.SetPlaceHolder("end (exclusive)")
	clearBox := widget.NewCheck("Clear overrides instead", nil)
	items, build := fragmentForm()
	items = append([]*widget.FormItem{
		widget.NewFormItem("From", from),
		widget.NewFormItem("To", to),
	}, append(items, widget.NewFormItem("", clearBox))...)
	dialog.ShowForm("Character Style", "Apply", "Cancel", items, func(ok bool) {
		if !ok {
			return
		}
		a, err1 := strconv.Atoi(strings.TrimSpace(from.Text))
		b, err2 := strconv.Atoi(strings.TrimSpace(to.Text))
		if err := errors.Join(err1, err2); err != nil {
			dialog.ShowError(err, w)
			return
		}
		if clearBox.Checked {
			report("clear style", ed.ClearCharStyle(id, a, b))
			return
		}
		report("character style", ed.SetCharStyle(id, a, b, build()))
	}, w)
}

func showVariableStyleDialog(w fyne.Window, ed interface {
	Element(id string) (domain.Element, error)
	SetVariableStyle(id, key string, frag domain.StyleFragment) error
}, id string, report func(string, error) bool) {
	el, err := ed.Element(id)
	if err != nil {
		dialog.ShowError(err, w)
		return
	}
	var keys []string
	for _, tok := range variables.Extract(el.Content) {
		keys = append(keys, tok.Key())
	}
	if len(keys) == 0 {
		dialog.ShowInformation("Variable Style", "This text has no variables.", w)
		return
	}
	key := widget.NewSelect(keys, nil)
	key.SetSelected(keys[0])
	items, build := fragmentForm()
	items = append([]*widget.FormItem{widget.NewFormItem("Variable", key)}, items...)
	dialog.ShowForm("Variable Style", "Apply", "Cancel", items, func(ok bool) {
		if ok {
			report("variable style", ed.SetVariableStyle(id, key.Selected, build()))
		}
	}, w)
}

func showExportDialog(w fyne.Window, sess *workspace.Session, status *widget.Label, l *slog.Logger) {
	preset := widget.NewSelect([]string{string(export.PresetWeb), string(export.PresetPrint), string(export.PresetArchive)}, nil)
	preset.SetSelected(sess.Config.Export.Preset)
	nameCol := widget.NewSelect(append([]string{"(row number)"}, sess.Dataset.Headers...), nil)
	nameCol.SetSelected("(row number)")
	if c := sess.Config.Export.NameColumn; c != "" {
		nameCol.SetSelected(c)
	}
	dialog.ShowForm("Export Certificates", "Choose Destination…", "Cancel", []*widget.FormItem{
		widget.NewFormItem("Preset", preset),
		widget.NewFormItem("File names", nameCol),
	}, func(ok bool) {
		if !ok {
			return
		}
		plan, err := workspace.PlanFor(sess.Config, preset.Selected, "", 0)
		if err != nil {
			dialog.ShowError(err, w)
			return
		}
		if nameCol.Selected != "(row number)" {
			plan.NameColumn = nameCol.Selected
		}
		run := func(out string) { runExport(w, sess, plan, out, status, l) }
		if plan.Format == export.FormatPNG {
			dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
				if err != nil {
					dialog.ShowError(err, w)
					return
				}
				if uri != nil {
					run(uri.Path())
				}
			}, w)
			return
		}
		fd := dialog.NewFileSave(func(wc fyne.URIWriteCloser, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if wc == nil {
				return
			}
			out := wc.URI().Path()
			_ = wc.Close()
			run(out)
		}, w)
		fd.SetFileName(store.Slug(sess.Name) + "." + string(plan.Format))
		fd.SetFilter(fstorage.NewExtensionFileFilter([]string{"." + string(plan.Format)}))
		fd.Show()
	}, w)
}

// runExport renders in the background with a cancellable progress dialog.
func runExport(w fyne.Window, sess *workspace.Session, plan workspace.Plan, out string, status *widget.Label, l *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	bar := widget.NewProgressBar()
	label := widget.NewLabel("Preparing…")
	prog := dialog.NewCustom("Exporting", "Cancel", container.NewVBox(label, bar), w)
	prog.SetOnClosed(cancel)
	prog.Show()
	start := time.Now()
	go func() {
		rep, err := sess.Export(ctx, out, plan, func(done, total int) {
			fyne.Do(func() {
				bar.SetValue(float64(done) / float64(max(total, 1)))
				label.SetText(fmt.Sprintf("%d of %d", done, total))
			})
		})
		fyne.Do(func() {
			prog.Hide()
			cancel()
			if err != nil {
				l.Error("export failed", slog.String("out", out), slog.Any("err", err))
				dialog.ShowError(err, w)
				return
			}
			l.Info("export finished", slog.String("out", out), slog.Int("count", rep.Completed), slog.Duration("elapsed", time.Since(start)))
			status.SetText(fmt.Sprintf("Exported %d certificates (%s) to %s", rep.Completed, humanize.Bytes(uint64(rep.Bytes)), out))
		})
	}()
}
