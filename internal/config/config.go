/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	applog "certcanvas/internal/log"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are read-only overrides applied at load time.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Unknown fields are ignored on unmarshal.

type GeneralConfig struct {
	Theme     string `yaml:"theme"`      // "system" | "light" | "dark"
	AssetsDir string `yaml:"assets_dir"` // base for relative image paths
	// AutosaveDir receives crash autosaves and reports.
	AutosaveDir string `yaml:"autosave_dir"`
}

type EditorConfig struct {
	HistoryDepth   int      `yaml:"history_depth"`
	DebounceMs     int      `yaml:"debounce_ms"`
	AssetTimeoutMs int      `yaml:"asset_timeout_ms"`
	AssetCacheSize int      `yaml:"asset_cache_size"`
	Highlight      bool     `yaml:"highlight"`
	Palette        []string `yaml:"palette"`
	CanvasWidth    int      `yaml:"canvas_width"`
	CanvasHeight   int      `yaml:"canvas_height"`

	// StylesFile holds user text style presets; see internal/stylepack.
	StylesFile string `yaml:"styles_file"`
}

type ExportConfig struct {
	Preset        string `yaml:"preset"` // web | print | archive
	Format        string `yaml:"format"` // png | zip | pdf; overrides the preset when set
	DPI           int    `yaml:"dpi"`
	SettleDelayMs int    `yaml:"settle_delay_ms"`
	Guides        bool   `yaml:"guides"`
	NameColumn    string `yaml:"name_column"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // file | sqlite | pgx
	DSN    string `yaml:"dsn"`    // directory for file, path for sqlite, URL for pgx
	// KeepRevisions bounds stored revisions per layout in SQL stores.
	KeepRevisions int `yaml:"keep_revisions"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Editor        EditorConfig  `yaml:"editor"`
	Export        ExportConfig  `yaml:"export"`
	Storage       StorageConfig `yaml:"storage"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	dataDir := filepath.Join(userDataDir(), "certcanvas")
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{Theme: "system", AutosaveDir: filepath.Join(dataDir, "autosave")},
		Editor: EditorConfig{
			HistoryDepth: 50, DebounceMs: 300, AssetTimeoutMs: 30000, AssetCacheSize: 32,
			Highlight: true, CanvasWidth: 1123, CanvasHeight: 794,
			StylesFile: filepath.Join(dataDir, "styles.yaml"),
		},
		Export:  ExportConfig{Preset: "web", DPI: 96},
		Storage: StorageConfig{Driver: "file", DSN: filepath.Join(dataDir, "layouts"), KeepRevisions: 20},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath     = "CCV_CONFIG"
	EnvAssetsDir      = "CCV_ASSETS_DIR"
	EnvHistoryDepth   = "CCV_HISTORY_DEPTH"
	EnvDebounceMs     = "CCV_DEBOUNCE_MS"
	EnvAssetTimeoutMs = "CCV_ASSET_TIMEOUT_MS"
	EnvHighlight      = "CCV_HIGHLIGHT"
	EnvStylesFile     = "CCV_STYLES_FILE"
	EnvExportFormat   = "CCV_EXPORT_FORMAT"
	EnvExportDPI      = "CCV_EXPORT_DPI"
	EnvStorageDriver  = "CCV_STORAGE_DRIVER"
	EnvStorageDSN     = "CCV_STORAGE_DSN"
	// EnvAssetToken overrides the keychain token without persisting it.
	EnvAssetToken = "CCV_ASSET_TOKEN"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "CCV_LOG_LEVEL"
	EnvLogFormat = "CCV_LOG_FORMAT"
	EnvLogSource = "CCV_LOG_SOURCE"
	EnvLogFile   = "CCV_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService = "CertCanvas"
	keyringToken   = "asset_token"
)

// tokenStore abstracts keyring, so we can stub in tests.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// SetTokenStore swaps the keychain backend and returns a function restoring the previous one.
func SetTokenStore(ts TokenStore) (restore func()) {
	prev := tokenStore
	tokenStore = ts
	return func() { tokenStore = prev }
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// MemoryTokens is an in-process TokenStore for tests and headless hosts without a keychain.
type MemoryTokens map[string]string

func (m MemoryTokens) Get(service, key string) (string, error) {
	v, ok := m[service+"/"+key]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}
func (m MemoryTokens) Set(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}
func (m MemoryTokens) Delete(service, key string) error {
	delete(m, service+"/"+key)
	return nil
}

// Token returns the asset bearer token: the env override first, then the keychain.
// A missing keychain entry is not an error.
func Token() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvAssetToken)); v != "" {
		return v, nil
	}
	tok, err := tokenStore.Get(keyringService, keyringToken)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return tok, err
}

// SetToken stores the asset token in the keychain; an empty token removes it.
func SetToken(token string) error {
	if token == "" {
		err := tokenStore.Delete(keyringService, keyringToken)
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	return tokenStore.Set(keyringService, keyringToken, token)
}

func userDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("LocalAppData"); v != "" {
			return v
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support")
	default:
		if v := os.Getenv("XDG_DATA_HOME"); v != "" {
			return v
		}
		return filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
}

// ConfigPath returns the per-user config file path, or CCV_CONFIG when set.
func ConfigPath() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		return v, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "CertCanvas")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "CertCanvas")
	default: // linux and others
		base = filepath.Join(os.Getenv("HOME"), ".config", "certcanvas")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults and merges environment overrides.
func Load() (AppConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return Defaults(), err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit file. A missing file yields the defaults; a malformed one
// is an error so a typo is not silently ignored.
func LoadFrom(path string) (AppConfig, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg, data)
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes the user config YAML.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

func SaveTo(path string, cfg AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// mergeInto copies the values set in the file over dst. raw is the file content, used to tell an
// explicit false apart from an absent boolean.
func mergeInto(dst *AppConfig, src *AppConfig, raw []byte) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if src.General.Theme != "" {
		dst.General.Theme = src.General.Theme
	}
	if s := strings.TrimSpace(src.General.AssetsDir); s != "" {
		dst.General.AssetsDir = s
	}
	if s := strings.TrimSpace(src.General.AutosaveDir); s != "" {
		dst.General.AutosaveDir = s
	}
	// editor
	if src.Editor.HistoryDepth > 0 {
		dst.Editor.HistoryDepth = src.Editor.HistoryDepth
	}
	if src.Editor.DebounceMs > 0 {
		dst.Editor.DebounceMs = src.Editor.DebounceMs
	}
	if src.Editor.AssetTimeoutMs > 0 {
		dst.Editor.AssetTimeoutMs = src.Editor.AssetTimeoutMs
	}
	if src.Editor.AssetCacheSize != 0 {
		dst.Editor.AssetCacheSize = src.Editor.AssetCacheSize
	}
	if hasKey(raw, "editor", "highlight") {
		dst.Editor.Highlight = src.Editor.Highlight
	}
	if len(src.Editor.Palette) > 0 {
		dst.Editor.Palette = append([]string(nil), src.Editor.Palette...)
	}
	if src.Editor.CanvasWidth > 0 && src.Editor.CanvasHeight > 0 {
		dst.Editor.CanvasWidth, dst.Editor.CanvasHeight = src.Editor.CanvasWidth, src.Editor.CanvasHeight
	}
	if s := strings.TrimSpace(src.Editor.StylesFile); s != "" {
		dst.Editor.StylesFile = s
	}
	// export
	if s := strings.ToLower(strings.TrimSpace(src.Export.Preset)); s != "" {
		dst.Export.Preset = s
	}
	if s := strings.ToLower(strings.TrimSpace(src.Export.Format)); s != "" {
		dst.Export.Format = s
	}
	if src.Export.DPI > 0 {
		dst.Export.DPI = src.Export.DPI
	}
	if src.Export.SettleDelayMs > 0 {
		dst.Export.SettleDelayMs = src.Export.SettleDelayMs
	}
	dst.Export.Guides = src.Export.Guides
	if s := strings.TrimSpace(src.Export.NameColumn); s != "" {
		dst.Export.NameColumn = s
	}
	// storage
	if s := strings.ToLower(strings.TrimSpace(src.Storage.Driver)); s != "" {
		dst.Storage.Driver = s
	}
	if s := strings.TrimSpace(src.Storage.DSN); s != "" {
		dst.Storage.DSN = s
	}
	if src.Storage.KeepRevisions != 0 {
		dst.Storage.KeepRevisions = src.Storage.KeepRevisions
	}
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

// hasKey reports whether the YAML document sets section.key.
func hasKey(raw []byte, section, key string) bool {
	var probe map[string]map[string]any
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, ok := probe[section][key]
	return ok
}

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func envInt(name string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvAssetsDir)); v != "" {
		cfg.General.AssetsDir = v
	}
	envInt(EnvHistoryDepth, &cfg.Editor.HistoryDepth)
	envInt(EnvDebounceMs, &cfg.Editor.DebounceMs)
	envInt(EnvAssetTimeoutMs, &cfg.Editor.AssetTimeoutMs)
	if v := strings.TrimSpace(os.Getenv(EnvHighlight)); v != "" {
		cfg.Editor.Highlight = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStylesFile)); v != "" {
		cfg.Editor.StylesFile = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvExportFormat)); v != "" {
		cfg.Export.Format = strings.ToLower(v)
	}
	envInt(EnvExportDPI, &cfg.Export.DPI)
	if v := strings.TrimSpace(os.Getenv(EnvStorageDriver)); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageDSN)); v != "" {
		cfg.Storage.DSN = v
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var envKeys = map[string]string{
	"general.assets_dir":      EnvAssetsDir,
	"editor.history_depth":    EnvHistoryDepth,
	"editor.debounce_ms":      EnvDebounceMs,
	"editor.asset_timeout_ms": EnvAssetTimeoutMs,
	"editor.highlight":        EnvHighlight,
	"editor.styles_file":      EnvStylesFile,
	"export.format":           EnvExportFormat,
	"export.dpi":              EnvExportDPI,
	"storage.driver":          EnvStorageDriver,
	"storage.dsn":             EnvStorageDSN,
	"logging.level":           EnvLogLevel,
	"logging.format":          EnvLogFormat,
	"logging.source":          EnvLogSource,
	"logging.file":            EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// Debounce is the history burst window.
func (e EditorConfig) Debounce() time.Duration { return time.Duration(e.DebounceMs) * time.Millisecond }

// AssetTimeout bounds a single image load.
func (e EditorConfig) AssetTimeout() time.Duration {
	return time.Duration(e.AssetTimeoutMs) * time.Millisecond
}

// SettleDelay is the pause between exported rows.
func (e ExportConfig) SettleDelay() time.Duration {
	return time.Duration(e.SettleDelayMs) * time.Millisecond
}

// LogOptions maps the logging section onto the logger's options.
func (l LoggingConfig) LogOptions() applog.Options {
	return applog.Options{Level: l.Level, Format: l.Format, AddSource: l.Source, File: l.File}
}
