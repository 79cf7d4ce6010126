// Package config handles loading and parsing the application's configuration.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the application.
// Struct tags map TOML keys to struct fields.
type Config struct {
	HTTP  HTTPConfig  `toml:"http"`
	Store StoreConfig `toml:"store"`
	Log   LogConfig   `toml:"log"`
	Raft  RaftConfig  `toml:"raft"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	StaticDir   string   `toml:"static_dir"`   // Served for paths outside /api; empty disables
	CORSOrigins []string `toml:"cors_origins"` // Allowed origins, "*" for any
	RateLimit   float64  `toml:"rate_limit"`   // Requests per second per client IP, 0 disables
	RateBurst   int      `toml:"rate_burst"`
}

// StoreConfig configures the record store.
type StoreConfig struct {
	DataFile   string `toml:"data_file"`
	BackupFile string `toml:"backup_file"`
	KeyField   string `toml:"key_field"`   // Field matching incoming records to stored ones
	StrictLoad bool   `toml:"strict_load"` // Report corrupt content instead of reading it as empty
	Watch      bool   `toml:"watch"`       // Warn about changes made to the data file by other processes
}

// LogConfig configures logging.
type LogConfig struct {
	Level        string `toml:"level"`          // debug, info, warn or error
	AccessLogDir string `toml:"access_log_dir"` // Hourly request logs; empty disables
}

// RaftConfig configures the optional replicated write path.
type RaftConfig struct {
	Enabled      bool     `toml:"enabled"`
	NodeID       string   `toml:"node_id"`   // Unique ID for the node in the cluster
	Bind         string   `toml:"bind"`      // Address for Raft's internal communication
	DataDir      string   `toml:"data_dir"`  // Directory to store Raft's data
	ApplyTimeout Duration `toml:"apply_timeout"`
}

// Duration is a time.Duration decoded from strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// New returns a new Config with default values.
func New() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:        "localhost",
			Port:        3000,
			StaticDir:   "public",
			CORSOrigins: []string{"*"},
			RateBurst:   20,
		},
		Store: StoreConfig{
			DataFile:   "./data.json",
			BackupFile: "./data.json.bak",
			KeyField:   "nosis",
		},
		Log: LogConfig{
			Level: "info",
		},
		Raft: RaftConfig{
			Bind:         "localhost:9080",
			DataDir:      "./raft",
			ApplyTimeout: Duration{5 * time.Second},
		},
	}
}

// Load reads a configuration file from the given path and populates the Config struct.
func (c *Config) Load(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}
	return c.Validate()
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.Store.DataFile == "" {
		return fmt.Errorf("store.data_file must be set")
	}
	if c.Store.BackupFile == "" || c.Store.BackupFile == c.Store.DataFile {
		return fmt.Errorf("store.backup_file must be set and differ from store.data_file")
	}
	if c.Store.KeyField == "" {
		return fmt.Errorf("store.key_field must be set")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range", c.HTTP.Port)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative")
	}
	if c.Raft.Enabled && c.Raft.NodeID == "" {
		return fmt.Errorf("raft.node_id is required when raft is enabled")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
