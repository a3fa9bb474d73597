package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file looked up in the working directory.
const DefaultConfigFile = "onionharvest.yaml"

// Environment variables read by ApplyEnv.
const (
	EnvControlPassword = "TOR_CONTROL_PASSWORD"
	EnvSocksPort       = "TOR_SOCKS_PORT"
	EnvControlPort     = "TOR_CONTROL_PORT"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvOutputDir       = "OUTPUT_DIR"
)

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadFile reads a YAML configuration file on top of the defaults.
// Keys absent from the file keep their default value.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	sites := make(map[string]SiteConfig, len(cfg.Sites))
	for host, site := range cfg.Sites {
		sites[strings.ToLower(host)] = site
	}
	cfg.Sites = sites

	return cfg, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. onionharvest.yaml in the current directory
// 3. config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	xdgConfig := filepath.Join(XDGConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig
	}

	return ""
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. With no arguments it loads ./.env. Missing files are not an
// error; variables already set in the environment are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration from environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvControlPassword); ok {
		c.Tor.ControlPassword = v
	}

	if v, ok := lookup(EnvSocksPort); ok && v != "" {
		addr, err := replacePort(c.Tor.SocksAddress, v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSocksPort, err)
		}
		c.Tor.SocksAddress = addr
	}

	if v, ok := lookup(EnvControlPort); ok && v != "" {
		addr, err := replacePort(c.Tor.ControlAddress, v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvControlPort, err)
		}
		c.Tor.ControlAddress = addr
	}

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.LogFormat = strings.ToLower(v)
	}

	if v, ok := lookup(EnvOutputDir); ok && v != "" {
		c.Storage.OutputDir = v
	}
	return nil
}

// replacePort keeps the host of addr and swaps in port.
func replacePort(addr, port string) (string, error) {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", ErrInvalidPort
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(n)), nil
}
