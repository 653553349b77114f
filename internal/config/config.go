// Package config loads the application configuration: a modulo.yaml file,
// MODULO_ environment overrides, and defaults, in ascending precedence of
// defaults < file < environment < flags bound by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full application configuration shared by the serve and
// client commands. Fields map 1:1 onto modulo.yaml keys.
type Config struct {
	// DataDir holds the local database and device state.
	DataDir string `mapstructure:"data_dir"`

	Server ServerConfig `mapstructure:"server"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig tunes serve mode.
type ServerConfig struct {
	Port int `mapstructure:"port"`

	// Tokens maps bearer tokens to owner ids. Empty means single-user
	// mode: every request resolves to the local owner.
	Tokens map[string]string `mapstructure:"tokens"`

	// Retention is how long tombstones are kept before the sweeper purges
	// them. Late mutations against a purged note become orphans.
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// SyncConfig tunes the device-side client.
type SyncConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	BatchLimit int           `mapstructure:"batch_limit"`
}

// LogConfig controls serve-mode logging. An empty file means stderr;
// otherwise the file is size-rotated.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfig returns the configuration used when no file and no
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Server: ServerConfig{
			Port:          8080,
			Retention:     30 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Sync: SyncConfig{
			Timeout:    30 * time.Second,
			BatchLimit: 500,
		},
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configuration. An explicit path must exist; with an empty
// path the usual locations are searched and a missing file is fine.
//
// Search order: ./modulo.yaml, then $HOME/.modulo/modulo.yaml. Every key
// can be overridden through the environment as MODULO_SECTION_KEY, e.g.
// MODULO_SERVER_PORT=9000. Flags bind on top of everything: pass the
// command's flag set and any changed flag wins.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MODULO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())
	if flags != nil {
		bindFlags(v, flags)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("modulo")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".modulo"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindFlags attaches recognized command-line flags. Only flags the user
// actually set are bound; an untouched flag must not shadow a value from
// the file or the environment with its default.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	bound := map[string]string{
		"data_dir":    "data-dir",
		"server.port": "port",
		"log.file":    "log-file",
	}
	for key, name := range bound {
		if f := flags.Lookup(name); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}
}

// setDefaults registers every key so environment overrides apply even
// without a config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.tokens", d.Server.Tokens)
	v.SetDefault("server.retention", d.Server.Retention)
	v.SetDefault("server.sweep_interval", d.Server.SweepInterval)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.batch_limit", d.Sync.BatchLimit)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// Validate rejects configurations the daemons would choke on later.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Retention <= 0 {
		return fmt.Errorf("server.retention must be positive (got %v)", c.Server.Retention)
	}
	if c.Server.SweepInterval <= 0 {
		return fmt.Errorf("server.sweep_interval must be positive (got %v)", c.Server.SweepInterval)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive (got %v)", c.Sync.Timeout)
	}
	if c.Sync.BatchLimit <= 0 {
		return fmt.Errorf("sync.batch_limit must be positive (got %d)", c.Sync.BatchLimit)
	}
	return nil
}

// DBPath returns where the local notes database lives.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "notes.db")
}

// StatePath returns where the device sync state lives.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "device.toml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".modulo"
	}
	return filepath.Join(home, ".modulo")
}
