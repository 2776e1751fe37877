package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	DefaultConfigFile = "project-echo.yaml"
	EnvPrefix         = "ECHO_"
)

type Config struct {
	Port            int           `koanf:"port"`
	RPCPort         int           `koanf:"rpc_port"`
	StoragePath     string        `koanf:"storage_path"`
	ConnectionsFile string        `koanf:"connections_file"`
	EncryptionKey   string        `koanf:"encryption_key"`
	ReadOnly        bool          `koanf:"read_only"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
	DetectTimeout   time.Duration `koanf:"detect_timeout"`
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
	Watch           bool          `koanf:"watch"`
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`

	// ConfigFileUsed is the YAML file that was read, if any.
	ConfigFileUsed string `koanf:"-"`
}

func defaults() map[string]any {
	return map[string]any{
		"port":              8080,
		"rpc_port":          9000,
		"storage_path":      "./data",
		"connections_file":  "connections.json",
		"encryption_key":    "",
		"read_only":         false,
		"query_timeout":     "30s",
		"detect_timeout":    "5s",
		"default_page_size": 100,
		"max_page_size":     1000,
		"watch":             true,
		"log_level":         "info",
		"log_format":        "json",
	}
}

// Load layers configuration. Precedence, highest first: flags, ECHO_*
// environment variables, the YAML file, defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// ECHO_STORAGE_PATH -> storage_path
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigFileUsed = used
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{DefaultConfigFile, "project-echo.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port %d out of range", c.RPCPort)
	}
	if strings.TrimSpace(c.StoragePath) == "" {
		return fmt.Errorf("storage_path is required")
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("default_page_size %d exceeds max_page_size %d", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.QueryTimeout < 0 || c.DetectTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// RegistryPath is where the connection list lives. A relative
// connections_file is taken relative to storage_path.
func (c *Config) RegistryPath() string {
	if filepath.IsAbs(c.ConnectionsFile) {
		return c.ConnectionsFile
	}
	return filepath.Join(c.StoragePath, c.ConnectionsFile)
}
