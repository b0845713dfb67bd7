/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestEntry describes one file in a ZIP bundle.
type ManifestEntry struct {
	Row   int    `json:"row"`
	File  string `json:"file"`
	Bytes int    `json:"bytes"`
}

// Manifest is written as manifest.json at the root of a ZIP bundle.
type Manifest struct {
	Created time.Time       `json:"created"`
	Count   int             `json:"count"`
	Entries []ManifestEntry `json:"entries"`
}

// ZipSink bundles rows as PNG entries plus a manifest.
type ZipSink struct {
	f        *os.File
	zw       *zip.Writer
	names    nameSet
	manifest Manifest
}

// NewZipSink creates the archive at path.
func NewZipSink(path string) (*ZipSink, error) {
	zw, f, err := createZip(path)
	if err != nil {
		return nil, err
	}
	return &ZipSink{f: f, zw: zw, names: nameSet{}, manifest: Manifest{Created: time.Now().UTC()}}, nil
}

func (s *ZipSink) Put(index int, name string, data []byte) error {
	file := s.names.unique(name) + ".png"
	if err := addZipFile(s.zw, file, data); err != nil {
		return fmt.Errorf("zip add image: %w", err)
	}
	s.manifest.Entries = append(s.manifest.Entries, ManifestEntry{Row: index, File: file, Bytes: len(data)})
	return nil
}

// Close writes the manifest and closes the archive.
func (s *ZipSink) Close() error {
	s.manifest.Count = len(s.manifest.Entries)
	if s.manifest.Entries == nil {
		s.manifest.Entries = []ManifestEntry{}
	}
	blob, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	if err := addZipFile(s.zw, "manifest.json", blob); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("zip add manifest: %w", err)
	}
	if err := s.zw.Close(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("close zip: %w", err)
	}
	return s.f.Close()
}

func createZip(outPath string) (*zip.Writer, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure out dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create zip: %w", err)
	}
	return zip.NewWriter(f), f, nil
}

func addZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
