package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DEFAULT_HOST = "127.0.0.1"
const DEFAULT_PORT = 29456

const (
	OneMegabyte = 1024 * 1024

	DefaultDataDir        = "./data"
	DefaultIPVersion      = "unspec"
	DefaultMaxConnections = 5
	DefaultMaxMessageSize = OneMegabyte
	DefaultKeyDirSize     = 1024
	DefaultKeyDirMaxSize  = 1 << 20
	DefaultMaxSegmentSize = 512 * OneMegabyte
	DefaultSyncInterval   = "15s"
)

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stdout", "stderr", "file", "none"
	Format string `yaml:"format"` // "text" or "json"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// Config holds everything needed to run a server or connect a client.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	IPVersion      string        `yaml:"ip_version"` // "unspec", "inet4" or "inet6"
	MaxConnections int           `yaml:"max_connections"`
	MaxMessageSize int           `yaml:"max_message_size"`
	DataDir        string        `yaml:"data_dir"`
	KeyDirSize     int           `yaml:"keydir_size"`
	KeyDirMaxSize  int           `yaml:"keydir_max_size"`
	MaxSegmentSize uint64        `yaml:"max_segment_size"`
	SyncInterval   string        `yaml:"sync_interval"`
	DebugAddress   string        `yaml:"debug_address"` // serves /debug/vars when set
	Logging        LoggingConfig `yaml:"logging"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:           DEFAULT_HOST,
		Port:           DEFAULT_PORT,
		IPVersion:      DefaultIPVersion,
		MaxConnections: DefaultMaxConnections,
		MaxMessageSize: DefaultMaxMessageSize,
		DataDir:        DefaultDataDir,
		KeyDirSize:     DefaultKeyDirSize,
		KeyDirMaxSize:  DefaultKeyDirMaxSize,
		MaxSegmentSize: DefaultMaxSegmentSize,
		SyncInterval:   DefaultSyncInterval,
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			Format: "text",
			File:   "keycask.log",
		},
	}
}

// Load reads configuration from an io.Reader on top of the defaults.
// A nil or empty reader yields the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing file
// is not an error; the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Environment variables understood by ApplyEnv.
const (
	EnvPort           = "KEYCASK_PORT"
	EnvKeyDirSize     = "KEYCASK_KDSIZE"
	EnvKeyDirMaxSize  = "KEYCASK_KDMAX"
	EnvMaxConnections = "KEYCASK_MAXCONN"
	EnvMaxMessageSize = "KEYCASK_MAX_MSG_SIZE"
	EnvIPVersion      = "KEYCASK_IPV"
	EnvDataDir        = "KEYCASK_DIR"
	EnvSegmentSize    = "KEYCASK_SEGMENT_SIZE"
)

// ApplyEnv overrides fields from environment variables read through
// lookup (os.LookupEnv in production). Numbers that are zero or do not
// parse keep the default and log a warning.
func (c *Config) ApplyEnv(lookup func(string) (string, bool), logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	envInt := func(name string, dst *int, def int) {
		s, ok := lookup(name)
		if !ok {
			return
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || v <= 0 {
			logger.Warn("Invalid environment value, using default", "variable", name, "value", s, "default", def)
			*dst = def
			return
		}
		*dst = v
	}

	envInt(EnvPort, &c.Port, DEFAULT_PORT)
	envInt(EnvKeyDirSize, &c.KeyDirSize, DefaultKeyDirSize)
	envInt(EnvKeyDirMaxSize, &c.KeyDirMaxSize, DefaultKeyDirMaxSize)
	envInt(EnvMaxConnections, &c.MaxConnections, DefaultMaxConnections)
	envInt(EnvMaxMessageSize, &c.MaxMessageSize, DefaultMaxMessageSize)

	if s, ok := lookup(EnvSegmentSize); ok {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil || v == 0 {
			logger.Warn("Invalid environment value, using default", "variable", EnvSegmentSize, "value", s, "default", DefaultMaxSegmentSize)
			c.MaxSegmentSize = DefaultMaxSegmentSize
		} else {
			c.MaxSegmentSize = v
		}
	}

	if s, ok := lookup(EnvIPVersion); ok {
		switch v := strings.ToLower(strings.TrimSpace(s)); v {
		case "inet4", "inet6", "unspec":
			c.IPVersion = v
		default:
			logger.Warn("Unrecognised IP version, using default", "variable", EnvIPVersion, "value", s, "default", DefaultIPVersion)
			c.IPVersion = DefaultIPVersion
		}
	}

	if s, ok := lookup(EnvDataDir); ok && s != "" {
		c.DataDir = s
	}
}

// Validate replaces zero values with defaults and rejects settings that
// cannot work together.
func (c *Config) Validate() error {
	if c.Port <= 0 {
		c.Port = DEFAULT_PORT
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.KeyDirSize <= 0 {
		c.KeyDirSize = DefaultKeyDirSize
	}
	if c.KeyDirMaxSize <= 0 {
		c.KeyDirMaxSize = DefaultKeyDirMaxSize
	}
	if c.MaxSegmentSize == 0 {
		c.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.IPVersion == "" {
		c.IPVersion = DefaultIPVersion
	}

	if c.KeyDirSize > c.KeyDirMaxSize {
		return fmt.Errorf("keydir_size (%d) is larger than keydir_max_size (%d)", c.KeyDirSize, c.KeyDirMaxSize)
	}

	switch c.IPVersion {
	case "unspec", "inet4", "inet6":
	default:
		return fmt.Errorf("invalid ip_version %q", c.IPVersion)
	}

	return nil
}

// SyncEvery parses SyncInterval. Zero disables periodic syncing.
func (c *Config) SyncEvery(logger *slog.Logger) time.Duration {
	if c.SyncInterval == "" || c.SyncInterval == "0" {
		return 0
	}
	d, err := time.ParseDuration(c.SyncInterval)
	if err != nil {
		def, _ := time.ParseDuration(DefaultSyncInterval)
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", c.SyncInterval, "default", def.String(), "error", err)
		}
		return def
	}
	return d
}

// Network returns the listen network for IPVersion.
func (c *Config) Network() string {
	switch c.IPVersion {
	case "inet4":
		return "tcp4"
	case "inet6":
		return "tcp6"
	default:
		return "tcp"
	}
}
