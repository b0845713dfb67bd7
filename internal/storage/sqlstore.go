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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	// Postgres through database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"

	"certcanvas/internal/domain"
	applog "certcanvas/internal/log"
	"certcanvas/internal/version"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	// schemaVersion tracks the SQL schema. Bump it together with a new migration step.
	schemaVersion = 2

	DefaultKeepRevisions = 20
	DefaultThumbnailCap  = 64 * 1024 * 1024

	// tsLayout is fixed width so stored timestamps sort lexicographically.
	tsLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLStore keeps layouts, their revisions and thumbnails in SQLite or Postgres.
type SQLStore struct {
	db            *sql.DB
	driver        string
	keepRevisions int
	thumbCap      int64
	now           func() time.Time
	log           *slog.Logger
}

// SQLOption tunes an SQLStore.
type SQLOption func(*SQLStore)

// WithRevisions bounds the revisions kept per layout. Zero or less keeps all.
func WithRevisions(n int) SQLOption { return func(s *SQLStore) { s.keepRevisions = n } }

// WithThumbnailCap bounds the total PNG bytes in the thumbnail cache. Zero or less disables eviction.
func WithThumbnailCap(bytes int64) SQLOption { return func(s *SQLStore) { s.thumbCap = bytes } }

// OpenSQL opens (and migrates) the store. For sqlite a plain path is turned into a file URI
// with a busy timeout and its directory is created.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...SQLOption) (*SQLStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	l := applog.WithOperation(applog.WithComponent("storage"), "sql_open").With(slog.String("driver", driver))
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("storage dsn is required")
	}
	s := &SQLStore{
		driver:        driver,
		keepRevisions: DefaultKeepRevisions,
		thumbCap:      DefaultThumbnailCap,
		now:           time.Now,
		log:           l,
	}
	for _, o := range opts {
		o(s)
	}
	var err error
	switch driver {
	case DriverSQLite:
		dsn, err = sqliteDSN(dsn)
		if err != nil {
			return nil, err
		}
		s.db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// Embedded usage: one writer.
			s.db.SetMaxOpenConns(1)
			s.db.SetMaxIdleConns(1)
		}
	case DriverPostgres:
		s.db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown sql driver %q", driver)
	}
	if err != nil {
		l.Error("sql open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			_ = s.db.Close()
			l.Error("enable WAL failed", slog.Any("err", err))
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if err := s.ensureVersion(ctx); err != nil {
		_ = s.db.Close()
		l.Error("ensure version failed", slog.Any("err", err))
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		_ = s.db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	l.Info("layout store ready")
	return s, nil
}

func sqliteDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "file:") || dsn == ":memory:" {
		return dsn, nil
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return "", fmt.Errorf("create database dir: %w", err)
	}
	return fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(dsn)), nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// DB exposes the handle for maintenance tooling.
func (s *SQLStore) DB() *sql.DB { return s.db }

// q adapts a query written with ? placeholders and dialect markers to the open driver.
func (s *SQLStore) q(query string) string {
	blob, serial := "BLOB", "INTEGER PRIMARY KEY"
	if s.driver == DriverPostgres {
		blob, serial = "BYTEA", "BIGSERIAL PRIMARY KEY"
	}
	query = strings.NewReplacer("{{blob}}", blob, "{{serial}}", serial).Replace(query)
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) stamp() string { return s.now().UTC().Format(tsLayout) }

// language=SQL
const createVersionSQL = `CREATE TABLE IF NOT EXISTS version (
	id          INTEGER PRIMARY KEY CHECK(id=1),
	schema      INTEGER NOT NULL,
	app         TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
)`

func (s *SQLStore) ensureVersion(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createVersionSQL); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	now := s.stamp()
	var cur int
	err := s.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// fresh database: migrations start from zero
		if _, err := s.db.ExecContext(ctx, s.q(`INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 0, ?, ?, ?)`), version.String(), now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := s.db.ExecContext(ctx, s.q(`UPDATE version SET app=?, updated_at=? WHERE id=1`), version.String(), now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// migrations[i] brings the schema from version i to i+1.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS layouts (
			name       TEXT PRIMARY KEY,
			blob       {{blob}} NOT NULL,
			elements   INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS revisions (
			id    {{serial}},
			name  TEXT NOT NULL,
			ts    TEXT NOT NULL,
			blob  {{blob}} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_revisions_name ON revisions(name, id)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS thumbnails (
			name        TEXT    NOT NULL,
			w           INTEGER NOT NULL,
			h           INTEGER NOT NULL,
			png         {{blob}} NOT NULL,
			size        INTEGER NOT NULL DEFAULT 0,
			updated_at  TEXT    NOT NULL,
			last_access TEXT    NOT NULL,
			PRIMARY KEY(name, w, h)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_thumbnails_access ON thumbnails(last_access)`,
	},
}

// SchemaVersion reports the schema version recorded in the database.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var cur int
	if err := s.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return cur, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	cur, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if cur > schemaVersion {
		s.log.Warn("database schema is newer than this build", slog.Int("schema", cur))
		return nil
	}
	for ; cur < schemaVersion; cur++ {
		next := cur + 1
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, stmt := range migrations[cur] {
			if _, err := tx.ExecContext(ctx, s.q(stmt)); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE version SET schema=?, updated_at=? WHERE id=1`), next, s.stamp()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		s.log.Debug("migrated", slog.Int("schema", next))
	}
	return nil
}

// language=SQL
const upsertLayoutSQL = `INSERT INTO layouts(name, blob, elements, updated_at) VALUES(?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET blob=excluded.blob, elements=excluded.elements, updated_at=excluded.updated_at`

// language=SQL
const insertRevisionSQL = `INSERT INTO revisions(name, ts, blob) VALUES(?, ?, ?)`

// language=SQL
const pruneRevisionsSQL = `DELETE FROM revisions WHERE name = ? AND id NOT IN (
	SELECT id FROM revisions WHERE name = ? ORDER BY id DESC LIMIT ?
)`

// Save upserts the layout and records a revision, pruning revisions beyond the configured depth.
func (s *SQLStore) Save(ctx context.Context, l domain.Layout) error {
	data, err := EncodeLayout(l)
	if err != nil {
		return err
	}
	now := s.stamp()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(upsertLayoutSQL), l.Name, data, len(l.Elements), now); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert layout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(insertRevisionSQL), l.Name, now, data); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert revision: %w", err)
	}
	if s.keepRevisions > 0 {
		if _, err := tx.ExecContext(ctx, s.q(pruneRevisionsSQL), l.Name, l.Name, s.keepRevisions); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("prune revisions: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.log.Debug("layout saved", slog.String("name", l.Name), slog.Int("bytes", len(data)))
	return nil
}

func (s *SQLStore) Load(ctx context.Context, name string) (domain.Layout, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT blob FROM layouts WHERE name = ?`), name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Layout{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return domain.Layout{}, fmt.Errorf("query layout: %w", err)
	}
	return DecodeLayout(blob)
}

func (s *SQLStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blob FROM layouts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list layouts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Summary
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		out = append(out, summarize(blob))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, rows.Err()
}

// Delete removes the layout with its revisions and thumbnails.
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM layouts WHERE name = ?`), name)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete layout: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	for _, q := range []string{`DELETE FROM revisions WHERE name = ?`, `DELETE FROM thumbnails WHERE name = ?`} {
		if _, err := tx.ExecContext(ctx, s.q(q), name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete layout data: %w", err)
		}
	}
	return tx.Commit()
}

// Revision is one stored version of a layout.
type Revision struct {
	ID   int64
	Time time.Time
	Data []byte
}

// Revisions returns up to limit most recent revisions of name, newest first.
func (s *SQLStore) Revisions(ctx context.Context, name string, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, ts, blob FROM revisions WHERE name = ? ORDER BY id DESC LIMIT ?`), name, limit)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Revision
	for rows.Next() {
		var r Revision
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.Data); err != nil {
			return nil, err
		}
		r.Time, _ = time.Parse(tsLayout, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadRevision decodes a single revision by id.
func (s *SQLStore) LoadRevision(ctx context.Context, id int64) (domain.Layout, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT blob FROM revisions WHERE id = ?`), id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Layout{}, fmt.Errorf("%w: revision %d", ErrNotFound, id)
	}
	if err != nil {
		return domain.Layout{}, fmt.Errorf("query revision: %w", err)
	}
	return DecodeLayout(blob)
}
