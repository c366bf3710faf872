// Package config loads the service configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// MasterKeyEnv overrides server.masterKey when set.
const MasterKeyEnv = "ANANSI_MASTER_KEY"

type ServerConfig struct {
	Listen    string `yaml:"listen"`
	MasterKey string `yaml:"masterKey"`
}

type DatabaseConfig struct {
	// Path of the sqlite file. ":memory:" keeps everything in process.
	Path             string `yaml:"path"`
	CollectionPrefix string `yaml:"collectionPrefix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type CacheConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// Config is the root of the configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Cache    CacheConfig    `yaml:"cache"`
}

// Default returns the configuration used for omitted keys.
func Default() *Config {
	enabled := true
	return &Config{
		Server:   ServerConfig{Listen: ":1337"},
		Database: DatabaseConfig{Path: "anansi.db"},
		Log:      LogConfig{Level: "info"},
		Cache:    CacheConfig{Enabled: &enabled},
	}
}

// CacheEnabled reports whether the schema cache is on.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.Log.Level)
}

// Load reads path over the defaults. An empty path yields the defaults.
// The master key environment variable wins over the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if key, ok := os.LookupEnv(MasterKeyEnv); ok {
		cfg.Server.MasterKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping the values of keys the document omits.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse the config file: %w", err)
	}
	return nil
}

// Validate reports the first invalid key.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("server.listen: must not be empty")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path: must not be empty")
	}
	if p := c.Database.CollectionPrefix; p != "" && strings.ContainsAny(p, "\"' ;") {
		return fmt.Errorf("database.collectionPrefix: %q contains forbidden characters", p)
	}
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
