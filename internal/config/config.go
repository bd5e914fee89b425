package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for biblfs.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Mount    MountConfig    `toml:"mount"`
	XAttr    XAttrConfig    `toml:"xattr"`
	Query    QueryConfig    `toml:"query"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// DatabaseConfig locates the bibliothecula database.
type DatabaseConfig struct {
	Path     string `toml:"path" validate:"required"`
	ReadOnly bool   `toml:"read_only"`
}

// MountConfig holds kernel mount settings.
type MountConfig struct {
	MountPoint string   `toml:"mount_point,omitempty"`
	FsName     string   `toml:"fs_name" validate:"required"`
	AllowOther bool     `toml:"allow_other"`
	AttrTTL    Duration `toml:"attr_ttl"`
}

// XAttrConfig controls how extended attributes map onto text metadata.
type XAttrConfig struct {
	// NeverReplaceCommonTags refuses to overwrite text metadata that other
	// documents also reference.
	NeverReplaceCommonTags bool `toml:"never_replace_common_tags"`
}

// QueryConfig sets the optional query shown at the root of the mount.
type QueryConfig struct {
	Default     string `toml:"default,omitempty"`
	DefaultKind string `toml:"default_kind" validate:"oneof=fts sql"` // "fts" or "sql"
}

// LogConfig controls logging output.
type LogConfig struct {
	Dir   string `toml:"dir,omitempty"` // empty logs to stderr only
	Level string `toml:"level" validate:"oneof=debug info warn error"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// Duration is a time.Duration written as a string such as "1s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// NewConfig creates a new Config for the database at dbPath with defaults
// for everything else.
func NewConfig(dbPath string) *Config {
	return &Config{
		Database: DatabaseConfig{Path: dbPath},
		Mount: MountConfig{
			FsName:  "bibliothecula",
			AttrTTL: Duration{time.Second},
		},
		Query: QueryConfig{DefaultKind: "fts"},
		Log:   LogConfig{Level: "info"},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Mount.AttrTTL.Duration < 0 {
		return fmt.Errorf("invalid config: mount.attr_ttl must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Fields absent from the
// input keep the defaults of NewConfig.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := NewConfig("")
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
