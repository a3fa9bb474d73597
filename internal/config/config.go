package config

import (
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/onionharvest/internal/intel"
	"github.com/nao1215/onionharvest/internal/log"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "onionharvest"

	// DefaultSocksAddress is the standard Tor SOCKS5 proxy address.
	// 127.0.0.1 avoids a localhost lookup that could resolve to IPv6.
	DefaultSocksAddress = "127.0.0.1:9050"

	// DefaultControlAddress is the standard Tor control port address.
	DefaultControlAddress = "127.0.0.1:9051"

	// DefaultRenewCircuitEvery is the number of accepted pages, counted
	// across all sites, after which a new circuit is requested.
	DefaultRenewCircuitEvery = 10

	// DefaultRenewSettle is how long to wait after SIGNAL NEWNYM before the
	// next request. Tor rate-limits NEWNYM to one per few seconds.
	DefaultRenewSettle = 5 * time.Second

	// DefaultTorStartupTimeout bounds the bootstrap of the embedded daemon.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultMaxDepth is the BFS depth limit per site. The seed is depth 0.
	DefaultMaxDepth = 2

	// DefaultMaxPages is the fetch budget per site.
	DefaultMaxPages = 20

	// DefaultMaxWorkers is the number of sites crawled concurrently.
	DefaultMaxWorkers = 3

	// DefaultDelay is the politeness delay before every request to a host.
	DefaultDelay = 7 * time.Second

	// DefaultTimeout is the per-request timeout. Hidden services are slow,
	// but a single hung request must not stall a site for minutes.
	DefaultTimeout = 30 * time.Second

	// DefaultRetryCount is the number of attempts for a transient failure.
	DefaultRetryCount = 3

	// DefaultBackoffBase is the first retry delay; it doubles per attempt.
	DefaultBackoffBase = 4 * time.Second

	// DefaultMaxBodySize caps the response body read per page.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultOutputDir is where exports, reports and the database live.
	DefaultOutputDir = "results"

	// DefaultDBName is the SQLite file name inside the output directory.
	DefaultDBName = "onionharvest.db"

	// DefaultLogLevel is the slog level used when none is configured.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the slog handler used when none is configured.
	DefaultLogFormat = LogFormatText
)

// Log output formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// DefaultBlacklist holds path patterns that are never crawled.
// Authentication flows rarely carry content and often trap crawlers.
func DefaultBlacklist() []string {
	return []string{"/register", "/login", "/signup", "/auth"}
}

// Config is the resolved configuration of a run. It is built once by
// LoadFile, ApplyEnv and the CLI flags, then passed by value into the
// crawl engine and never modified again.
type Config struct {
	// SeedURLs are the onion base URLs to crawl.
	SeedURLs []string `yaml:"seed_urls"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`

	// LogFile, when set, receives log output in addition to stderr.
	LogFile string `yaml:"log_file"`

	Tor     TorConfig     `yaml:"tor"`
	Crawler CrawlerConfig `yaml:"crawler"`
	Storage StorageConfig `yaml:"storage"`
	Intel   IntelConfig   `yaml:"intel"`

	// Sites holds per-site overrides keyed by onion hostname.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`
}

// TorConfig describes how to reach the Tor daemon.
type TorConfig struct {
	SocksAddress   string `yaml:"socks_address"`
	ControlAddress string `yaml:"control_address"`

	// ControlPassword is read from TOR_CONTROL_PASSWORD only. It is never
	// read from or written to a config file.
	ControlPassword string `yaml:"-"`

	RenewCircuitEvery int           `yaml:"renew_circuit_every"`
	RenewSettle       time.Duration `yaml:"renew_settle"`

	// Embedded starts a private Tor daemon instead of using SocksAddress.
	Embedded       bool          `yaml:"embedded"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// Verify checks that traffic exits through Tor before crawling.
	Verify bool `yaml:"verify"`
}

// CrawlerConfig holds the frontier and transport policy.
type CrawlerConfig struct {
	MaxDepth    int           `yaml:"max_depth"`
	MaxPages    int           `yaml:"max_pages"`
	MaxWorkers  int           `yaml:"max_workers"`
	Delay       time.Duration `yaml:"delay"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	MaxBodySize int64         `yaml:"max_body_size"`
	Blacklist   []string      `yaml:"blacklist"`

	// StayOnSite restricts link following to the seed's own host.
	StayOnSite bool `yaml:"stay_on_site"`

	// Resume preloads every URL known to the database so it is not fetched again.
	Resume bool `yaml:"resume"`
}

// StorageConfig selects where results go.
type StorageConfig struct {
	OutputDir string `yaml:"output_dir"`
	DBName    string `yaml:"db_name"`

	JSON       bool `yaml:"json"`
	CSV        bool `yaml:"csv"`
	SQLite     bool `yaml:"sqlite"`
	XLSX       bool `yaml:"xlsx"`
	HTMLReport bool `yaml:"html_report"`
	Markdown   bool `yaml:"markdown"`
}

// IntelConfig tunes the classifier.
type IntelConfig struct {
	Thresholds intel.Thresholds `yaml:"thresholds"`
	Saturation float64          `yaml:"saturation"`
}

// NewConfig creates a Config populated with default values.
func NewConfig() *Config {
	return &Config{
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Tor: TorConfig{
			SocksAddress:      DefaultSocksAddress,
			ControlAddress:    DefaultControlAddress,
			RenewCircuitEvery: DefaultRenewCircuitEvery,
			RenewSettle:       DefaultRenewSettle,
			StartupTimeout:    DefaultTorStartupTimeout,
		},
		Crawler: CrawlerConfig{
			MaxDepth:    DefaultMaxDepth,
			MaxPages:    DefaultMaxPages,
			MaxWorkers:  DefaultMaxWorkers,
			Delay:       DefaultDelay,
			Timeout:     DefaultTimeout,
			RetryCount:  DefaultRetryCount,
			BackoffBase: DefaultBackoffBase,
			MaxBodySize: DefaultMaxBodySize,
			Blacklist:   DefaultBlacklist(),
		},
		Storage: StorageConfig{
			OutputDir:  DefaultOutputDir,
			DBName:     DefaultDBName,
			JSON:       true,
			CSV:        true,
			SQLite:     true,
			HTMLReport: true,
		},
		Intel: IntelConfig{
			Thresholds: intel.DefaultThresholds(),
			Saturation: intel.DefaultSaturation,
		},
		Sites: make(map[string]SiteConfig),
	}
}

// DBPath returns the path of the SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.OutputDir, c.Storage.DBName)
}

// XDGDataDir returns the XDG data directory for onionharvest.
// On Linux: ~/.local/share/onionharvest
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for onionharvest.
// On Linux: ~/.config/onionharvest
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
// Seeds are required; use ValidateSettings to check everything else.
func (c *Config) Validate() error {
	if len(c.SeedURLs) == 0 {
		return ErrNoSeeds
	}
	return c.ValidateSettings()
}

// ValidateSettings checks every setting except the seed list.
func (c *Config) ValidateSettings() error {
	if !isHostPort(c.Tor.SocksAddress) {
		return ErrInvalidSocksAddress
	}
	if c.Tor.ControlAddress != "" && !isHostPort(c.Tor.ControlAddress) {
		return ErrInvalidControlAddress
	}
	if c.Tor.RenewCircuitEvery < 0 {
		return ErrInvalidRenewEvery
	}
	if c.Tor.RenewSettle < 0 {
		return ErrInvalidRenewSettle
	}

	cr := c.Crawler
	if cr.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}
	if cr.MaxPages <= 0 {
		return ErrInvalidMaxPages
	}
	if cr.MaxWorkers <= 0 {
		return ErrInvalidMaxWorkers
	}
	if cr.Delay < 0 {
		return ErrInvalidDelay
	}
	if cr.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if cr.RetryCount <= 0 {
		return ErrInvalidRetryCount
	}
	if cr.BackoffBase < 0 {
		return ErrInvalidBackoffBase
	}
	if cr.MaxBodySize <= 0 {
		return ErrInvalidMaxBodySize
	}

	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return ErrEmptyOutputDir
	}
	if strings.TrimSpace(c.Storage.DBName) == "" {
		return ErrEmptyDBName
	}

	if err := c.Intel.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Intel.Saturation <= 0 {
		return intel.ErrInvalidSaturation
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return ErrInvalidLogLevel
	}
	switch c.LogFormat {
	case "", LogFormatText, LogFormatJSON:
	default:
		return ErrInvalidLogFormat
	}

	for host, site := range c.Sites {
		if err := site.validate(); err != nil {
			return &SiteError{Host: host, Err: err}
		}
	}
	return nil
}

func isHostPort(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	return err == nil && host != "" && port != ""
}
