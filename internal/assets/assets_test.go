/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeRejectsGarbageAndEmptySVG(t *testing.T) {
	if _, _, err := Decode([]byte("definitely not an image")); !errors.Is(err, ErrMalformedImage) {
		t.Fatalf("garbage: want ErrMalformedImage, got %v", err)
	}
	empty := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 0 0"></svg>`
	if _, _, err := Decode([]byte(empty)); !errors.Is(err, ErrMalformedImage) {
		t.Fatalf("zero-size svg: want ErrMalformedImage, got %v", err)
	}
	img, format, err := Decode(pngBytes(t, 3, 2, color.White))
	if err != nil || format != "png" || img.Bounds().Dx() != 3 {
		t.Fatalf("png decode: %v %s %v", img, format, err)
	}
}

func TestDecodeSVG(t *testing.T) {
	svg := `<?xml version="1.0"?>
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 8"><rect x="0" y="0" width="10" height="8" fill="#ff0000"/></svg>`
	img, format, err := Decode([]byte(svg))
	if err != nil || format != "svg" {
		t.Fatalf("svg: %v %s", err, format)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 8 {
		t.Fatalf("svg size %v", b)
	}
	r, g, _, a := img.At(5, 4).RGBA()
	if r>>8 != 255 || g != 0 || a>>8 != 255 {
		t.Fatalf("svg fill not rendered: %v", img.At(5, 4))
	}
}

func TestLoadFileAndDataURI(t *testing.T) {
	dir := t.TempDir()
	data := pngBytes(t, 4, 4, color.Black)
	if err := os.WriteFile(filepath.Join(dir, "seal.png"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	f := NewFetcher(Options{BaseDir: dir})
	img, err := f.Load(context.Background(), "seal.png")
	if err != nil || img.Bounds().Dx() != 4 {
		t.Fatalf("file load: %v", err)
	}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	if _, err := f.Load(context.Background(), uri); err != nil {
		t.Fatalf("data uri load: %v", err)
	}
	if _, err := f.Load(context.Background(), "missing.png"); err == nil {
		t.Fatalf("missing file should fail")
	}
	if _, err := f.Load(context.Background(), "ftp://host/x.png"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("ftp: want ErrUnsupported, got %v", err)
	}
}

func TestRemoteSendsTokenAndCaches(t *testing.T) {
	data := pngBytes(t, 2, 2, color.White)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	f := NewFetcher(Options{Client: srv.Client(), Token: func() (string, error) { return "s3cret", nil }, CacheSize: 4})
	for i := 0; i < 3; i++ {
		if _, err := f.Load(context.Background(), srv.URL+"/logo.png"); err != nil {
			t.Fatalf("remote load %d: %v", i, err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected a single fetch, got %d", n)
	}

	noTok := NewFetcher(Options{Client: srv.Client()})
	if _, err := noTok.Load(context.Background(), srv.URL+"/logo.png"); err == nil {
		t.Fatalf("unauthorized fetch should fail")
	}
}

func TestRemoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	f := NewFetcher(Options{Client: srv.Client(), Timeout: 30 * time.Millisecond})
	start := time.Now()
	if _, err := f.Load(context.Background(), srv.URL+"/slow.png"); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"photo.jpg":             KindFile,
		"/abs/photo.jpg":        KindFile,
		"data:image/png;base64": KindData,
		"https://example.org/a": KindRemote,
	}
	for src, want := range cases {
		got, err := Classify(src)
		if err != nil || got != want {
			t.Fatalf("Classify(%q) = %v, %v; want %v", src, got, err, want)
		}
	}
	if _, err := Classify("  "); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("blank source should be unsupported")
	}
}
