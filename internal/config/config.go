// Package config loads and validates the server configuration. Settings
// come from an optional TOML file, overridden by LSP initialization
// options; both merge over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Common configuration errors.
var (
	// ErrInvalidLogLevel indicates an unrecognized log level name.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidExportFormat indicates an unsupported default export
	// format.
	ErrInvalidExportFormat = errors.New("invalid export format")
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	World    WorldConfig    `toml:"world"`
	Watcher  WatcherConfig  `toml:"watcher"`
	Render   RenderConfig   `toml:"render"`
	Export   ExportConfig   `toml:"export"`
	Commands CommandsConfig `toml:"commands"`
}

// ServerConfig controls the transport and logging.
type ServerConfig struct {
	// Listen is a TCP address ("127.0.0.1:9257"). Empty means stdio.
	Listen string `toml:"listen"`

	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`
}

// WorldConfig seeds the compiler configuration.
type WorldConfig struct {
	// Root pins the workspace root; empty derives it from the LSP
	// initialize request.
	Root string `toml:"root"`

	Fonts []string `toml:"fonts"`

	// Features toggles optional behavior by name ("periscope").
	Features map[string]bool `toml:"features"`
}

// WatcherConfig controls filesystem watching.
type WatcherConfig struct {
	DebounceMS int      `toml:"debounce_ms"`
	Ignore     []string `toml:"ignore"`
	Extensions []string `toml:"extensions"`
}

// Debounce returns the debounce as a duration.
func (w WatcherConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}

// RenderConfig controls the render actor.
type RenderConfig struct {
	CacheSize int `toml:"cache_size"`
}

// ExportConfig controls document export.
type ExportConfig struct {
	// DefaultFormat is used when an export command names none.
	DefaultFormat string `toml:"default_format"`

	// OnSave re-exports the saved entry in the default format.
	OnSave bool `toml:"on_save"`
}

// CommandsConfig wires user-defined commands.
type CommandsConfig struct {
	// Scripts maps command names to Lua script paths, exposed through
	// workspace/executeCommand under the "user." prefix.
	Scripts map[string]string `toml:"scripts"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			LogLevel: "info",
		},
		Watcher: WatcherConfig{
			DebounceMS: 100,
			Ignore:     []string{".git", ".DS_Store", "*.tmp", "*.swp"},
			Extensions: []string{".typ"},
		},
		Render: RenderConfig{
			CacheSize: 128,
		},
		Export: ExportConfig{
			DefaultFormat: "pdf",
		},
	}
}

// Load reads a TOML file over the defaults. A missing path returns the
// defaults unchanged; an empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyOptions merges LSP initialization options over the loaded
// configuration. Only recognized keys are applied; unknown keys are
// ignored so older clients keep working.
func (c *Config) ApplyOptions(opts map[string]any) {
	if opts == nil {
		return
	}

	if v, ok := opts["root"].(string); ok {
		c.World.Root = v
	}
	if v, ok := opts["fonts"].([]any); ok {
		fonts := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				fonts = append(fonts, s)
			}
		}
		c.World.Fonts = fonts
	}
	if v, ok := opts["features"].(map[string]any); ok {
		if c.World.Features == nil {
			c.World.Features = make(map[string]bool)
		}
		for name, raw := range v {
			if b, ok := raw.(bool); ok {
				c.World.Features[name] = b
			}
		}
	}
	if v, ok := opts["exportFormat"].(string); ok {
		c.Export.DefaultFormat = v
	}
	if v, ok := opts["exportOnSave"].(bool); ok {
		c.Export.OnSave = v
	}
	if v, ok := opts["periscope"].(bool); ok {
		if c.World.Features == nil {
			c.World.Features = make(map[string]bool)
		}
		c.World.Features["periscope"] = v
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Server.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Server.LogLevel)
	}

	switch c.Export.DefaultFormat {
	case "", "pdf", "svg":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidExportFormat, c.Export.DefaultFormat)
	}

	if c.Watcher.DebounceMS < 0 {
		return fmt.Errorf("watcher debounce_ms must not be negative, got %d", c.Watcher.DebounceMS)
	}
	if c.Render.CacheSize < 0 {
		return fmt.Errorf("render cache_size must not be negative, got %d", c.Render.CacheSize)
	}
	return nil
}
