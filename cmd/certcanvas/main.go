/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"certcanvas/internal/config"
	"certcanvas/internal/crash"
	applog "certcanvas/internal/log"
	"certcanvas/internal/version"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "CertCanvas - certificate layout editor and batch renderer")
	fmt.Fprintf(w, "Version: %s\n", version.String())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  certcanvas version                                  Show version")
	fmt.Fprintln(w, "  certcanvas validate <layout> [--data file]          Check a layout, optionally against a dataset")
	fmt.Fprintln(w, "  certcanvas render <layout> [-o out.png] [--data file --row N] [--watch]")
	fmt.Fprintln(w, "                                                      Render one certificate to PNG")
	fmt.Fprintln(w, "  certcanvas export <layout> --data file --out path [--preset web|print|archive]")
	fmt.Fprintln(w, "                                                      Render one certificate per dataset row")
	fmt.Fprintln(w, "  certcanvas layouts list|save|show|delete|revisions|restore|thumbnail ...")
	fmt.Fprintln(w, "                                                      Manage the layout store")
	fmt.Fprintln(w, "  certcanvas styles list|export <zip>|install <zip>    Manage text style presets")
	fmt.Fprintln(w, "  certcanvas token set <value>|set -|clear|status      Asset server token in the OS keychain")
	fmt.Fprintln(w, "  certcanvas config path|init                         Show or create the user config file")
	fmt.Fprintln(w, "  certcanvas ui [<layout>]                            Launch desktop UI (build with -tags fyne for full UI)")
}

// usageError marks bad invocations; they exit with status 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error { return usageError{fmt.Sprintf(format, args...)} }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli carries what every command needs.
type cli struct {
	cfg    config.AppConfig
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger
	crash  *crash.Session
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	applog.Init(cfg.Logging.LogOptions())
	l := applog.WithComponent("cli")
	cs := &crash.Session{Dir: cfg.General.AutosaveDir}
	defer crash.Recover(cs)

	if len(args) == 0 {
		usage(stdout)
		return 2
	}
	l.Debug("start", slog.String("command", args[0]), slog.Int("args", len(args)-1))
	c := &cli{cfg: cfg, stdin: stdin, stdout: stdout, stderr: stderr, log: l, crash: cs}

	var cmdErr error
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, "CertCanvas")
		fmt.Fprintln(stdout, version.String())
		return 0
	case "help", "--help", "-h":
		usage(stdout)
		return 0
	case "validate":
		cmdErr = c.validate(args[1:])
	case "render":
		cmdErr = c.render(ctx, args[1:])
	case "export":
		cmdErr = c.exportCmd(ctx, args[1:])
	case "layouts":
		cmdErr = c.layouts(ctx, args[1:])
	case "styles":
		cmdErr = c.styles(args[1:])
	case "token":
		cmdErr = c.token(args[1:])
	case "config":
		cmdErr = c.configCmd(args[1:])
	case "ui":
		cmdErr = c.uiCmd(args[1:])
	default:
		cmdErr = usagef("unknown command %q", args[0])
	}

	var ue usageError
	switch {
	case cmdErr == nil:
		return 0
	case errors.Is(cmdErr, flag.ErrHelp):
		return 0
	case errors.As(cmdErr, &ue):
		fmt.Fprintln(stderr, "Error:", ue.msg)
		fmt.Fprintln(stderr)
		usage(stderr)
		return 2
	default:
		l.Error("command failed", slog.String("command", args[0]), slog.Any("err", cmdErr))
		fmt.Fprintln(stderr, "Error:", cmdErr)
		return 1
	}
}
