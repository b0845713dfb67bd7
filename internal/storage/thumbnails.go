/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/nfnt/resize"
)

// language=SQL
const upsertThumbnailSQL = `INSERT INTO thumbnails(name, w, h, png, size, updated_at, last_access)
	VALUES(?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name, w, h) DO UPDATE SET png=excluded.png, size=excluded.size,
		updated_at=excluded.updated_at, last_access=excluded.last_access`

// PutThumbnail scales img to fit within maxW x maxH, stores the PNG under (name, maxW, maxH)
// and evicts least recently used thumbnails beyond the cache cap. It returns the stored bytes.
func (s *SQLStore) PutThumbnail(ctx context.Context, name string, img image.Image, maxW, maxH int) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if img == nil || maxW <= 0 || maxH <= 0 {
		return nil, errors.New("thumbnail needs an image and positive bounds")
	}
	thumb := resize.Thumbnail(uint(maxW), uint(maxH), img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	data := buf.Bytes()
	now := s.stamp()
	if _, err := s.db.ExecContext(ctx, s.q(upsertThumbnailSQL), name, maxW, maxH, data, len(data), now, now); err != nil {
		return nil, fmt.Errorf("upsert thumbnail: %w", err)
	}
	if s.thumbCap > 0 {
		if err := s.EvictThumbnails(ctx, s.thumbCap); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Thumbnail returns the cached PNG for (name, maxW, maxH) and marks it as recently used.
func (s *SQLStore) Thumbnail(ctx context.Context, name string, maxW, maxH int) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT png FROM thumbnails WHERE name = ? AND w = ? AND h = ?`), name, maxW, maxH).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: thumbnail %s %dx%d", ErrNotFound, name, maxW, maxH)
	}
	if err != nil {
		return nil, fmt.Errorf("query thumbnail: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, s.q(`UPDATE thumbnails SET last_access = ? WHERE name = ? AND w = ? AND h = ?`), s.stamp(), name, maxW, maxH)
	return data, nil
}

// ThumbnailBytes sums the PNG bytes held by the cache.
func (s *SQLStore) ThumbnailBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM thumbnails`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum thumbnails: %w", err)
	}
	return total, nil
}

type thumbKey struct {
	name string
	w, h int
}

// EvictThumbnails deletes least recently used thumbnails until the total is at most capBytes.
func (s *SQLStore) EvictThumbnails(ctx context.Context, capBytes int64) error {
	total, err := s.ThumbnailBytes(ctx)
	if err != nil {
		return err
	}
	if total <= capBytes {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, w, h, size FROM thumbnails ORDER BY last_access ASC`)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	var victims []thumbKey
	for rows.Next() {
		var k thumbKey
		var size int64
		if err := rows.Scan(&k.name, &k.w, &k.h, &size); err != nil {
			_ = rows.Close()
			return err
		}
		victims = append(victims, k)
		total -= size
		if total <= capBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// close the cursor before writing; sqlite runs on a single connection
	if err := rows.Close(); err != nil {
		return err
	}
	for _, k := range victims {
		if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM thumbnails WHERE name = ? AND w = ? AND h = ?`), k.name, k.w, k.h); err != nil {
			return fmt.Errorf("evict thumbnail: %w", err)
		}
	}
	s.log.Debug("thumbnails evicted", slog.Int("count", len(victims)))
	return nil
}
