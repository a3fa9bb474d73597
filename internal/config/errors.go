package config

import (
	"errors"
	"fmt"
)

// Configuration validation errors returned by Config.Validate.
// Callers match them with errors.Is.
var (
	// ErrNoSeeds is returned when no seed URL was supplied by file, flag or argument.
	ErrNoSeeds = errors.New("no seed URL specified: provide --url or seed_urls in the config file")

	// ErrInvalidSocksAddress is returned when the SOCKS address is not host:port.
	ErrInvalidSocksAddress = errors.New("invalid tor socks address: must be host:port")

	// ErrInvalidControlAddress is returned when the control address is not host:port.
	ErrInvalidControlAddress = errors.New("invalid tor control address: must be host:port")

	// ErrInvalidRenewEvery is returned when the renewal interval is negative.
	// Zero disables circuit renewal.
	ErrInvalidRenewEvery = errors.New("invalid renew_circuit_every: must be non-negative")

	// ErrInvalidRenewSettle is returned when the post-renewal wait is negative.
	ErrInvalidRenewSettle = errors.New("invalid renew_settle: must be non-negative")

	// ErrInvalidMaxDepth is returned when the depth limit is negative.
	ErrInvalidMaxDepth = errors.New("invalid max depth: must be non-negative")

	// ErrInvalidMaxPages is returned when the page budget is not positive.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be positive")

	// ErrInvalidMaxWorkers is returned when the worker count is not positive.
	ErrInvalidMaxWorkers = errors.New("invalid max workers: must be positive")

	// ErrInvalidDelay is returned when the request delay is negative.
	ErrInvalidDelay = errors.New("invalid delay: must be non-negative")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRetryCount is returned when the attempt count is not positive.
	ErrInvalidRetryCount = errors.New("invalid retry count: must be positive")

	// ErrInvalidBackoffBase is returned when the backoff base is negative.
	ErrInvalidBackoffBase = errors.New("invalid backoff base: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the body cap is not positive.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be positive")

	// ErrEmptyOutputDir is returned when no output directory is set.
	ErrEmptyOutputDir = errors.New("output directory must not be empty")

	// ErrEmptyDBName is returned when no database file name is set.
	ErrEmptyDBName = errors.New("database name must not be empty")

	// ErrInvalidLogLevel is returned for an unknown log level.
	ErrInvalidLogLevel = errors.New("invalid log level: must be debug, info, warn or error")

	// ErrInvalidLogFormat is returned for a log format other than text or json.
	ErrInvalidLogFormat = errors.New("invalid log format: must be text or json")

	// ErrInvalidPort is returned when a port environment variable is not a TCP port.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")
)

// SiteError reports an invalid per-site override.
type SiteError struct {
	Host string
	Err  error
}

func (e *SiteError) Error() string {
	return fmt.Sprintf("site %s: %v", e.Host, e.Err)
}

func (e *SiteError) Unwrap() error {
	return e.Err
}
