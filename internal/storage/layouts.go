/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"certcanvas/internal/domain"
	applog "certcanvas/internal/log"
	"certcanvas/internal/version"
)

const (
	// LayoutExt is the file suffix of layouts kept by a FileStore.
	LayoutExt      = ".layout.json"
	BackupsDirName = "backups"

	// keepBackups bounds the timestamped backups kept per layout file.
	keepBackups = 10
)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug maps a layout name to the file stem used on disk.
func Slug(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "layout"
	}
	return s
}

// EncodeLayout renders l as the persisted JSON blob: indented, stamped with the app version,
// and checked against the schema. The document invariants are verified first.
func EncodeLayout(l domain.Layout) ([]byte, error) {
	if err := checkName(l.Name); err != nil {
		return nil, err
	}
	if err := l.Document().Validate(); err != nil {
		return nil, err
	}
	if l.Elements == nil {
		l.Elements = []domain.Element{}
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal layout: %w", err)
	}
	if l.Timestamp.IsZero() {
		if data, err = sjson.SetBytes(data, "timestamp", time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("stamp timestamp: %w", err)
		}
	}
	if data, err = sjson.SetBytes(data, "app", version.String()); err != nil {
		return nil, fmt.Errorf("stamp app version: %w", err)
	}
	if err := ValidateLayoutJSON(data); err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeLayout parses a persisted blob, rejecting schema violations and broken invariants.
func DecodeLayout(data []byte) (domain.Layout, error) {
	var l domain.Layout
	if !gjson.ValidBytes(data) {
		return l, errors.New("parse layout: malformed JSON")
	}
	if err := ValidateLayoutJSON(data); err != nil {
		return l, err
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return l, fmt.Errorf("parse layout: %w", err)
	}
	if err := l.Document().Validate(); err != nil {
		return l, err
	}
	return l, nil
}

// summarize reads the listing fields straight from the blob.
func summarize(data []byte) Summary {
	r := gjson.GetManyBytes(data, "name", "timestamp", "elements.#", "canvasSize.width", "canvasSize.height")
	return Summary{
		Name:      r[0].String(),
		Timestamp: r[1].String(),
		Elements:  int(r[2].Int()),
		Width:     int(r[3].Int()),
		Height:    int(r[4].Int()),
	}
}

// WriteLayoutFile writes l to path with transactional semantics. An existing file is first
// copied into a timestamped backup under the sibling backups directory.
func WriteLayoutFile(path string, l domain.Layout) error {
	data, err := EncodeLayout(l)
	if err != nil {
		return err
	}
	return writeTransactional(path, data)
}

// ReadLayoutFile loads the layout at path. When an existing file cannot be read, parsed or
// validated the newest backup is tried instead. A missing file is ErrNotFound.
func ReadLayoutFile(path string) (domain.Layout, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "read_layout").With(slog.String("path", path))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Layout{}, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}
	if err == nil {
		lay, derr := DecodeLayout(data)
		if derr == nil {
			return lay, nil
		}
		err = derr
	}
	lay, berr := openFromLatestBackup(path)
	if berr != nil {
		return domain.Layout{}, fmt.Errorf("open layout: %w; backup attempt: %v", err, berr)
	}
	l.Warn("layout unreadable, recovered from backup", slog.Any("err", err))
	return lay, nil
}

func writeTransactional(path string, data []byte) error {
	dir := filepath.Dir(path)
	bdir := filepath.Join(dir, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	base := filepath.Base(path)
	if _, statErr := os.Stat(path); statErr == nil {
		stamp := time.Now().Format("20060102-150405")
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", base, stamp))
		if cerr := copyFile(path, bpath); cerr != nil {
			return fmt.Errorf("backup current layout: %w", cerr)
		}
		pruneBackups(bdir, base, keepBackups)
	}
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", base, os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		return fmt.Errorf("write temp layout: %w", werr)
	}
	// Windows refuses to rename over an existing file.
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	if rerr := os.Rename(temp, path); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace layout: %w", rerr)
	}
	return nil
}

// writeFileSync writes data to a file and flushes it to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies src to dst, overwriting dst.
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

var errNoBackups = errors.New("no backups found")

// backupsOf lists the backups of the file named base, oldest first.
func backupsOf(bdir, base string) []string {
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, base+".") && strings.HasSuffix(name, ".bak") {
			out = append(out, filepath.Join(bdir, name))
		}
	}
	sort.Strings(out) // timestamp in name yields lexicographic order
	return out
}

func pruneBackups(bdir, base string, keep int) {
	all := backupsOf(bdir, base)
	for len(all) > keep {
		_ = os.Remove(all[0])
		all = all[1:]
	}
}

func openFromLatestBackup(path string) (domain.Layout, error) {
	candidates := backupsOf(filepath.Join(filepath.Dir(path), BackupsDirName), filepath.Base(path))
	if len(candidates) == 0 {
		return domain.Layout{}, errNoBackups
	}
	latest := candidates[len(candidates)-1]
	b, err := os.ReadFile(latest)
	if err != nil {
		return domain.Layout{}, fmt.Errorf("read latest backup: %w", err)
	}
	lay, err := DecodeLayout(b)
	if err != nil {
		return domain.Layout{}, fmt.Errorf("parse latest backup: %w", err)
	}
	return lay, nil
}

// FileStore keeps one JSON file per layout in Dir.
type FileStore struct {
	Dir string
}

// NewFileStore prepares dir (and its backups folder) for use.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("layout directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, BackupsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create layout dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Path returns the file that holds the layout called name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.Dir, Slug(name)+LayoutExt)
}

func (s *FileStore) Save(ctx context.Context, l domain.Layout) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(l.Name); err != nil {
		return err
	}
	return WriteLayoutFile(s.Path(l.Name), l)
}

func (s *FileStore) Load(ctx context.Context, name string) (domain.Layout, error) {
	if err := ctx.Err(); err != nil {
		return domain.Layout{}, err
	}
	if err := checkName(name); err != nil {
		return domain.Layout{}, err
	}
	return ReadLayoutFile(s.Path(name))
}

// List summarizes every readable layout file, sorted by name. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*"+LayoutExt))
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(matches))
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(m)
		if err != nil || !gjson.ValidBytes(data) {
			continue
		}
		out = append(out, summarize(data))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes the layout file. Its backups are kept.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

func (s *FileStore) Close() error { return nil }
