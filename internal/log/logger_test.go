/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestJSONConsoleCarriesStaticAndContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Format: "json", Writer: &buf})
	defer Init(Options{Writer: &bytes.Buffer{}})

	l := WithElement(WithOperation(WithComponent("render"), "reconcile"), "el-1")
	l.Info("node created", slog.Int("z", 3))

	line := strings.TrimSpace(buf.String())
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if m["app"] != "certcanvas" {
		t.Fatalf("app attr: %v", m["app"])
	}
	if _, ok := m["ver"].(string); !ok {
		t.Fatalf("missing ver attr")
	}
	if m["component"] != "render" || m["op"] != "reconcile" || m["element"] != "el-1" {
		t.Fatalf("context attrs mismatch: %v", m)
	}
	if m["z"] != float64(3) {
		t.Fatalf("record attr mismatch: %v", m["z"])
	}
}

func TestFileLoggingRotatesThroughLumberjack(t *testing.T) {
	dir := t.TempDir()
	fpath := filepath.Join(dir, "certcanvas.log")
	Init(Options{Level: "info", File: fpath, Writer: &bytes.Buffer{}})
	WithComponent("export").Warn("row skipped", slog.Int("row", 4))
	if err := Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	defer Init(Options{Writer: &bytes.Buffer{}})

	b, err := os.ReadFile(fpath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(b, []byte(`"msg":"row skipped"`)) || !bytes.Contains(b, []byte(`"component":"export"`)) {
		t.Fatalf("unexpected file content: %s", b)
	}
}

func TestFromEnvAndMerge(t *testing.T) {
	t.Setenv("CCV_LOG_LEVEL", "warn")
	t.Setenv("CCV_LOG_FORMAT", "json")
	t.Setenv("CCV_LOG_SOURCE", "true")
	t.Setenv("CCV_LOG_FILE", "")

	env := FromEnv()
	if env.Level != "warn" || env.Format != "json" || !env.AddSource || env.File != "" {
		t.Fatalf("FromEnv mismatch: %+v", env)
	}
	got := Options{Level: "debug"}.Merge(env)
	if got.Level != "debug" || got.Format != "json" || !got.AddSource {
		t.Fatalf("Merge mismatch: %+v", got)
	}
	if v := getenv("CCV_SOME_UNSET_VAR", "fallback"); v != "fallback" {
		t.Fatalf("getenv fallback failed: %q", v)
	}
}

func TestPrettyTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &prettyTextHandler{opts: prettyOpts{Level: slog.LevelWarn, AddSource: true}, w: &buf}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}

	h2 := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).WithGroup("grp")
	r := slog.NewRecord(time.Now(), slog.LevelError, "boom", 0)
	r.AddAttrs(slog.Int("n", 42), slog.Float64("pi", 3.14), slog.Bool("ok", true), slog.String("name", "two words"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ERR", "boom", " k=v", "grp.n=42", "grp.pi=3.14", "grp.ok=true", `grp.name="two words"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}
