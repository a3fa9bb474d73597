package tor

import (
	"errors"
	"fmt"
)

// Tor connectivity errors.
var (
	// ErrProxyNotTor is returned when the proxy answers but does not speak SOCKS5.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// could be made. Tor is usually not running.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout is returned when the proxy does not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")

	// ErrInvalidProxyAddress is returned when the proxy address is not host:port.
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrNotTor is returned by VerifyTor when the exit check says the
	// traffic does not leave through Tor.
	ErrNotTor = errors.New("traffic is not routed through Tor")

	// ErrNoControlPassword is returned by RenewCircuit when no control
	// password is configured. Circuit renewal is skipped.
	ErrNoControlPassword = errors.New("tor control password not set: circuit renewal disabled")

	// ErrEmbeddedNotRunning is returned when the embedded daemon is used before Start.
	ErrEmbeddedNotRunning = errors.New("embedded Tor daemon is not running")
)

// ProxyStatus is the outcome of CheckConnection.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the proxy is a working SOCKS5 proxy.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates the endpoint answered but is not SOCKS5.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates no connection could be established.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the check timed out.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Err returns the error matching the status, or nil if OK.
func (s ProxyStatus) Err() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}

// ErrorKind classifies a fetch failure.
type ErrorKind int

const (
	// Transient failures are retried with backoff: timeouts, resets, EOF,
	// SOCKS failures, HTTP 5xx and 429.
	Transient ErrorKind = iota

	// Terminal failures are never retried: other 4xx, malformed responses
	// and TLS errors. A transient failure that exhausts its retries is
	// reported as Terminal.
	Terminal
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "terminal"
}

// FetchError describes a failed fetch.
type FetchError struct {
	URL      string
	Kind     ErrorKind
	Status   int // HTTP status, zero when no response was received
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s failure after %d attempt(s): HTTP %d", e.URL, e.Kind, e.Attempts, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s failure after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err is a FetchError of kind Terminal.
func IsTerminal(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Terminal
}

// CircuitRenewalError reports a failed NEWNYM request. It is never fatal
// to the crawl.
type CircuitRenewalError struct {
	Step string // dial, authenticate, signal
	Err  error
}

func (e *CircuitRenewalError) Error() string {
	return fmt.Sprintf("circuit renewal failed at %s: %v", e.Step, e.Err)
}

func (e *CircuitRenewalError) Unwrap() error {
	return e.Err
}
