// Package userconfig reads and writes the themethumb config file,
// ~/.config/themethumb/config.yaml. Every setting is optional; accessors
// return the built-in default for anything unset.
package userconfig

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"

	"github.com/docker/themethumb/pkg/paths"
	"github.com/docker/themethumb/pkg/protocol"
	"github.com/docker/themethumb/pkg/themes"
)

// CurrentVersion is the config file format version.
const CurrentVersion = "v1"

const (
	defaultShutdownTimeout = 2 * time.Second
	defaultCacheTTL        = 30 * time.Minute
	defaultScale           = 1.0
	maxScale               = 8.0
)

// Worker configures the render worker process.
type Worker struct {
	// Command replaces the default worker (this binary's hidden worker
	// subcommand).
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	// ShutdownTimeout is a Go duration such as "2s".
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`
}

type Themes struct {
	// Dirs are searched before the default theme directories.
	Dirs []string `yaml:"dirs,omitempty"`
	// Watch enables reloading themes when their files change.
	Watch *bool `yaml:"watch,omitempty"`
}

type Cache struct {
	Disabled bool `yaml:"disabled,omitempty"`
	// Persistent enables the on-disk tier. Defaults to true.
	Persistent *bool  `yaml:"persistent,omitempty"`
	Path       string `yaml:"path,omitempty"`
	TTL        string `yaml:"ttl,omitempty"`
}

type Render struct {
	DefaultFont string  `yaml:"default_font,omitempty"`
	Scale       float64 `yaml:"scale,omitempty"`
}

// Config is the user configuration.
type Config struct {
	Version string  `yaml:"version,omitempty"`
	Worker  *Worker `yaml:"worker,omitempty"`
	Themes  *Themes `yaml:"themes,omitempty"`
	Cache   *Cache  `yaml:"cache,omitempty"`
	Render  *Render `yaml:"render,omitempty"`

	path string
}

// Path returns the default config file path.
func Path() string {
	return filepath.Join(paths.GetConfigDir(), "config.yaml")
}

// Load reads the config from the default path.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config at path. A missing file is an empty config.
func LoadFrom(path string) (*Config, error) {
	config := &Config{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}

// Validate checks values that can only be checked after parsing.
func (c *Config) Validate() error {
	if w := c.Worker; w != nil && w.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(w.ShutdownTimeout); err != nil {
			return fmt.Errorf("worker.shutdown_timeout: %w", err)
		}
	}
	if cc := c.Cache; cc != nil && cc.TTL != "" {
		if _, err := time.ParseDuration(cc.TTL); err != nil {
			return fmt.Errorf("cache.ttl: %w", err)
		}
	}
	if r := c.Render; r != nil {
		if r.Scale < 0 || r.Scale > maxScale {
			return fmt.Errorf("render.scale must be between 0 and %v", maxScale)
		}
		if !protocol.ValidField(r.DefaultFont) {
			return errors.New("render.default_font contains a NUL byte")
		}
	}
	return nil
}

// File returns the path the config was loaded from.
func (c *Config) File() string {
	if c.path == "" {
		return Path()
	}
	return c.path
}

// Save writes the config back to the file it was loaded from.
func (c *Config) Save() error {
	return c.SaveTo(c.File())
}

// SaveTo writes the config to path atomically.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	c.Version = CurrentVersion

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	c.path = path
	slog.Debug("Saved config", "path", path)
	return nil
}

// Defaults returns a config with every setting spelled out.
func Defaults() *Config {
	persistent, watch := true, true
	return &Config{
		Version: CurrentVersion,
		Worker:  &Worker{ShutdownTimeout: defaultShutdownTimeout.String()},
		Themes:  &Themes{Watch: &watch},
		Cache: &Cache{
			Persistent: &persistent,
			Path:       defaultCachePath(),
			TTL:        defaultCacheTTL.String(),
		},
		Render: &Render{
			DefaultFont: protocol.DefaultFont,
			Scale:       defaultScale,
		},
	}
}

// WorkerCommand returns the configured worker command, empty for the
// default.
func (c *Config) WorkerCommand() (string, []string) {
	if c.Worker == nil {
		return "", nil
	}
	return c.Worker.Command, slices.Clone(c.Worker.Args)
}

func (c *Config) ShutdownTimeout() time.Duration {
	if c.Worker != nil && c.Worker.ShutdownTimeout != "" {
		if d, err := time.ParseDuration(c.Worker.ShutdownTimeout); err == nil && d > 0 {
			return d
		}
	}
	return defaultShutdownTimeout
}

// ThemeDirs returns the configured theme directories followed by the
// default ones.
func (c *Config) ThemeDirs() []string {
	var dirs []string
	if c.Themes != nil {
		dirs = append(dirs, c.Themes.Dirs...)
	}
	return append(dirs, themes.DefaultDirs()...)
}

func (c *Config) WatchThemes() bool {
	if c.Themes == nil || c.Themes.Watch == nil {
		return true
	}
	return *c.Themes.Watch
}

func (c *Config) CacheEnabled() bool {
	return c.Cache == nil || !c.Cache.Disabled
}

// CachePath returns the persistent cache location, or "" when the
// persistent tier is off.
func (c *Config) CachePath() string {
	if c.Cache == nil {
		return defaultCachePath()
	}
	if c.Cache.Persistent != nil && !*c.Cache.Persistent {
		return ""
	}
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return defaultCachePath()
}

func (c *Config) CacheTTL() time.Duration {
	if c.Cache != nil && c.Cache.TTL != "" {
		if d, err := time.ParseDuration(c.Cache.TTL); err == nil && d > 0 {
			return d
		}
	}
	return defaultCacheTTL
}

func (c *Config) DefaultFont() string {
	if c.Render != nil && c.Render.DefaultFont != "" {
		return c.Render.DefaultFont
	}
	return protocol.DefaultFont
}

func (c *Config) Scale() float64 {
	if c.Render != nil && c.Render.Scale > 0 {
		return c.Render.Scale
	}
	return defaultScale
}

// CacheNamespace identifies settings that change rendered pixels: the scale
// and the font the worker substitutes for requests without one.
func (c *Config) CacheNamespace() string {
	return "scale=" + strconv.FormatFloat(c.Scale(), 'f', -1, 64) + ";font=" + c.DefaultFont()
}

func defaultCachePath() string {
	return filepath.Join(paths.GetCacheDir(), "thumbnails.db")
}
