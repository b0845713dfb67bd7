/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package assets loads and verifies image sources: local files, data URIs,
// remote http(s) URLs and SVG documents. Every decoded image is checked for
// positive dimensions before it is handed out.
package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fredbi/uri"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	clog "certcanvas/internal/log"
)

var (
	ErrMalformedImage = errors.New("malformed image")
	ErrUnsupported    = errors.New("unsupported image source")
	ErrTooLarge       = errors.New("image source too large")
)

// DefaultTimeout bounds a single load.
const DefaultTimeout = 30 * time.Second

// Loader resolves an image source into a verified image.
type Loader interface {
	Load(ctx context.Context, src string) (image.Image, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, src string) (image.Image, error)

func (f LoaderFunc) Load(ctx context.Context, src string) (image.Image, error) { return f(ctx, src) }

// TokenSource returns the bearer token sent with remote fetches, or "" for none.
type TokenSource func() (string, error)

// Options configures a Fetcher.
type Options struct {
	BaseDir  string        // relative file paths resolve against it
	Timeout  time.Duration // per load; DefaultTimeout if zero
	MaxBytes int64         // 0 means 64 MiB
	Client   *http.Client
	Token    TokenSource
	// CacheSize bounds the decoded image cache; 0 disables caching.
	CacheSize int
}

// Fetcher is the default Loader. Concurrent loads of the same source share a
// single fetch and decode.
type Fetcher struct {
	opts  Options
	group singleflight.Group

	mu    sync.Mutex
	cache map[string]image.Image
	order []string
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 64 << 20
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &Fetcher{opts: opts, cache: make(map[string]image.Image)}
}

// Kind classifies a source string.
type Kind int

const (
	KindFile Kind = iota
	KindData
	KindRemote
)

// Classify reports how src would be loaded.
func Classify(src string) (Kind, error) {
	s := strings.TrimSpace(src)
	switch {
	case s == "":
		return 0, fmt.Errorf("empty source: %w", ErrUnsupported)
	case strings.HasPrefix(s, "data:"):
		return KindData, nil
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		u, err := uri.Parse(s)
		if err != nil {
			return 0, fmt.Errorf("source %q: %v: %w", s, err, ErrUnsupported)
		}
		if u.Authority().Host() == "" {
			return 0, fmt.Errorf("source %q has no host: %w", s, ErrUnsupported)
		}
		return KindRemote, nil
	case strings.Contains(s, "://"):
		return 0, fmt.Errorf("source %q: %w", s, ErrUnsupported)
	default:
		return KindFile, nil
	}
}

// Load fetches, decodes and verifies src, bounded by the configured timeout.
// A cancelled ctx returns early; the shared fetch keeps running for other
// callers and its result is cached.
func (f *Fetcher) Load(ctx context.Context, src string) (image.Image, error) {
	if img, ok := f.cached(src); ok {
		return img, nil
	}
	ch := f.group.DoChan(src, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.Timeout)
		defer cancel()
		img, err := f.load(lctx, src)
		if err != nil {
			return nil, err
		}
		f.store(src, img)
		return img, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	}
}

func (f *Fetcher) load(ctx context.Context, src string) (image.Image, error) {
	kind, err := Classify(src)
	if err != nil {
		return nil, err
	}
	var data []byte
	switch kind {
	case KindData:
		data, err = parseDataURI(src)
	case KindRemote:
		data, err = f.fetch(ctx, src)
	default:
		data, err = f.readFile(src)
	}
	if err != nil {
		return nil, err
	}
	img, format, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", shorten(src), err)
	}
	clog.WithComponent("assets").Debug("image loaded", "src", shorten(src), "format", format,
		"size", humanize.Bytes(uint64(len(data))), "w", img.Bounds().Dx(), "h", img.Bounds().Dy())
	return img, nil
}

func (f *Fetcher) readFile(src string) ([]byte, error) {
	p := src
	if !filepath.IsAbs(p) && f.opts.BaseDir != "" {
		p = filepath.Join(f.opts.BaseDir, p)
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if fi.Size() > f.opts.MaxBytes {
		return nil, fmt.Errorf("%s is %s: %w", p, humanize.Bytes(uint64(fi.Size())), ErrTooLarge)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return b, nil
}

func (f *Fetcher) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.opts.Token != nil {
		tok, err := f.opts.Token()
		if err != nil {
			return nil, fmt.Errorf("asset token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", redact(src), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %s", redact(src), resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", redact(src), err)
	}
	if int64(len(b)) > f.opts.MaxBytes {
		return nil, fmt.Errorf("%s: %w", redact(src), ErrTooLarge)
	}
	return b, nil
}

func (f *Fetcher) cached(src string) (image.Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.cache[src]
	return img, ok
}

func (f *Fetcher) store(src string, img image.Image) {
	if f.opts.CacheSize <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cache[src]; ok {
		return
	}
	f.cache[src] = img
	f.order = append(f.order, src)
	for len(f.order) > f.opts.CacheSize {
		delete(f.cache, f.order[0])
		f.order = f.order[1:]
	}
}

// Decode decodes raster formats registered with image (png, jpeg, gif, bmp,
// tiff, webp) and SVG documents. Images without area are rejected.
func Decode(data []byte) (image.Image, string, error) {
	if looksLikeSVG(data) {
		img, err := rasterizeSVG(data)
		if err != nil {
			return nil, "svg", err
		}
		return img, "svg", nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%v: %w", err, ErrMalformedImage)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, format, fmt.Errorf("%s has zero dimensions: %w", format, ErrMalformedImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, fmt.Errorf("%v: %w", err, ErrMalformedImage)
	}
	return img, format, nil
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.TrimSpace(head)
	return bytes.HasPrefix(head, []byte("<svg")) ||
		(bytes.HasPrefix(head, []byte("<?xml")) && bytes.Contains(head, []byte("<svg")))
}

func rasterizeSVG(data []byte) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("svg: %v: %w", err, ErrMalformedImage)
	}
	w, h := int(icon.ViewBox.W+0.5), int(icon.ViewBox.H+0.5)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("svg has zero dimensions: %w", ErrMalformedImage)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	icon.Draw(rasterx.NewDasher(w, h, rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())), 1)
	return rgba, nil
}

func parseDataURI(src string) ([]byte, error) {
	rest := strings.TrimPrefix(strings.TrimSpace(src), "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("data uri without payload: %w", ErrMalformedImage)
	}
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("data uri: %v: %w", err, ErrMalformedImage)
		}
		return b, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("data uri: %v: %w", err, ErrMalformedImage)
	}
	return []byte(s), nil
}

func shorten(src string) string {
	if strings.HasPrefix(src, "data:") && len(src) > 40 {
		return src[:40] + "..."
	}
	return redact(src)
}

// redact drops query strings, which may carry signed credentials.
func redact(src string) string {
	if i := strings.IndexByte(src, '?'); i >= 0 && !strings.HasPrefix(src, "data:") {
		return src[:i] + "?..."
	}
	return src
}
