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
	"errors"
	"fmt"
	"strings"

	"certcanvas/internal/domain"
)

var (
	// ErrNotFound is returned when no layout is stored under the requested name.
	ErrNotFound = errors.New("layout not found")
	// ErrInvalidName rejects empty or unusable layout names.
	ErrInvalidName = errors.New("invalid layout name")
)

// Summary describes a stored layout without decoding its elements.
type Summary struct {
	Name      string
	Timestamp string
	Elements  int
	Width     int
	Height    int
}

// LayoutStore is implemented by the file and SQL backends.
type LayoutStore interface {
	Save(ctx context.Context, l domain.Layout) error
	Load(ctx context.Context, name string) (domain.Layout, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// Open returns the store selected by driver: "file" (dsn is a directory), "sqlite" or "pgx".
// opts apply to the SQL backends only.
func Open(ctx context.Context, driver, dsn string, opts ...SQLOption) (LayoutStore, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "file", "json":
		return NewFileStore(dsn)
	case DriverSQLite, DriverPostgres:
		return OpenSQL(ctx, driver, dsn, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	return nil
}
