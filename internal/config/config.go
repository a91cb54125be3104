// Package config provides configuration loading for quench using Viper.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (handled in cmd/quench/main.go)
//  2. Environment variables (QUENCH_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// Environment variables are mapped from QUENCH_CATEGORY_SETTING format,
// e.g. QUENCH_SERVER_PORT maps to server.port in YAML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults mirrored by setDefaults; kept exported for startup logging.
const (
	DefaultPort        = 8080
	DefaultUpstream    = "[2001:558:feed::1]:53"
	DefaultDBDir       = "./var/db"
	DefaultSeedFile    = "init.txt"
	DefaultBlocklist   = "https://easylist.to/easylist/easylist.txt"
	DefaultRefreshEach = 168 * time.Hour
	DefaultMaxInFlight = 1024
	DefaultAnswerTTL   = 300
)

// ServerConfig contains the client-facing listener settings.
type ServerConfig struct {
	Port        int `yaml:"port"          mapstructure:"port"`
	Workers     int `yaml:"workers"       mapstructure:"workers"`       // 0 = one per CPU
	MaxInFlight int `yaml:"max_in_flight" mapstructure:"max_in_flight"` // per-worker task bound
}

// UpstreamConfig names the recursive resolver queries are forwarded to.
type UpstreamConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // host:port
}

// BlocklistConfig controls the block-list lifecycle.
type BlocklistConfig struct {
	URL             string `yaml:"url"              mapstructure:"url"`
	RefreshInterval string `yaml:"refresh_interval" mapstructure:"refresh_interval"` // e.g. "168h"
	DBDir           string `yaml:"db_dir"           mapstructure:"db_dir"`
	SeedFile        string `yaml:"seed_file"        mapstructure:"seed_file"` // relative to db_dir unless absolute
	BlockAction     string `yaml:"block_action"     mapstructure:"block_action"` // "sinkhole" or "nxdomain"
	AnswerTTL       int    `yaml:"answer_ttl"       mapstructure:"answer_ttl"`   // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string `yaml:"level"             mapstructure:"level"`
	Structured       bool   `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool   `yaml:"include_pid"       mapstructure:"include_pid"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"    mapstructure:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"  mapstructure:"upstream"`
	Blocklist BlocklistConfig `yaml:"blocklist" mapstructure:"blocklist"`
	Logging   LoggingConfig   `yaml:"logging"   mapstructure:"logging"`
}

// RefreshInterval parses the configured interval, falling back to the
// default on an empty or malformed value.
func (c *Config) RefreshInterval() time.Duration {
	if c.Blocklist.RefreshInterval == "" {
		return DefaultRefreshEach
	}
	d, err := time.ParseDuration(c.Blocklist.RefreshInterval)
	if err != nil || d <= 0 {
		return DefaultRefreshEach
	}
	return d
}

// NXDomain reports whether blocked names are answered with NXDOMAIN
// instead of the sinkhole record.
func (c *Config) NXDomain() bool {
	return strings.EqualFold(c.Blocklist.BlockAction, "nxdomain")
}

// Load reads configuration from the optional YAML file and the
// environment, applies defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.workers", 0)
	v.SetDefault("server.max_in_flight", DefaultMaxInFlight)

	v.SetDefault("upstream.addr", DefaultUpstream)

	v.SetDefault("blocklist.url", DefaultBlocklist)
	v.SetDefault("blocklist.refresh_interval", DefaultRefreshEach.String())
	v.SetDefault("blocklist.db_dir", DefaultDBDir)
	v.SetDefault("blocklist.seed_file", DefaultSeedFile)
	v.SetDefault("blocklist.block_action", "sinkhole")
	v.SetDefault("blocklist.answer_ttl", DefaultAnswerTTL)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.Workers < 0 {
		return fmt.Errorf("server.workers must not be negative")
	}
	if cfg.Server.MaxInFlight < 1 {
		return fmt.Errorf("server.max_in_flight must be at least 1")
	}
	if cfg.Upstream.Addr == "" {
		return fmt.Errorf("upstream.addr must be set")
	}
	if cfg.Blocklist.URL == "" {
		return fmt.Errorf("blocklist.url must be set")
	}
	switch strings.ToLower(cfg.Blocklist.BlockAction) {
	case "", "sinkhole", "nxdomain":
	default:
		return fmt.Errorf("blocklist.block_action %q not recognized", cfg.Blocklist.BlockAction)
	}
	if cfg.Blocklist.AnswerTTL < 0 {
		return fmt.Errorf("blocklist.answer_ttl must not be negative")
	}
	return nil
}
