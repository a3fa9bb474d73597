package tor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultTorStartupTimeout bounds the bootstrap of the embedded daemon.
const DefaultTorStartupTimeout = 3 * time.Minute

// ErrEmbeddedRunning is returned by Start on a daemon that is already up.
var ErrEmbeddedRunning = errors.New("embedded Tor daemon is already running")

// daemon is the part of a running Tor process the harvester uses.
type daemon interface {
	SocksAddr() string
	ControlAddr() string
	Stop() error
}

// launchFunc starts a daemon and blocks until it has bootstrapped.
type launchFunc func(startupTimeout time.Duration) (daemon, error)

// launchTornago starts tor through tornago on OS-assigned ports.
func launchTornago(startupTimeout time.Duration) (daemon, error) {
	cfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(startupTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid tor launch config: %w", err)
	}
	process, err := tornago.StartTorDaemon(cfg)
	if err != nil {
		return nil, err
	}
	return process, nil
}

// EmbeddedTor is a private Tor daemon for hosts without a system Tor.
// Its SOCKS and control ports replace the configured addresses for the
// whole run.
type EmbeddedTor struct {
	startupTimeout time.Duration
	launch         launchFunc

	mu      sync.Mutex
	process daemon
}

// EmbeddedTorOption configures an EmbeddedTor.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout bounds the bootstrap. Non-positive values are ignored.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		if timeout > 0 {
			e.startupTimeout = timeout
		}
	}
}

// NewEmbeddedTor creates a stopped daemon; Start launches it.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{
		startupTimeout: DefaultTorStartupTimeout,
		launch:         launchTornago,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the daemon and waits for it to bootstrap, which usually
// takes one to three minutes. When ctx ends first, Start returns ctx's
// error and the daemon is stopped as soon as its launch returns.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.process != nil {
		return ErrEmbeddedRunning
	}

	type result struct {
		process daemon
		err     error
	}
	done := make(chan result, 1)
	go func() {
		p, err := e.launch(e.startupTimeout)
		done <- result{process: p, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("failed to start embedded Tor daemon: %w", r.err)
		}
		e.process = r.process
		return nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				_ = r.process.Stop() //nolint:errcheck // nobody is left to report to
			}
		}()
		return ctx.Err()
	}
}

// Stop shuts the daemon down. Stopping an unstarted daemon is a no-op.
func (e *EmbeddedTor) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	return err
}

// SocksAddr returns the SOCKS5 address, or "" when not running.
func (e *EmbeddedTor) SocksAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.process == nil {
		return ""
	}
	return e.process.SocksAddr()
}

// ControlAddr returns the control port address, or "" when not running.
func (e *EmbeddedTor) ControlAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.process == nil {
		return ""
	}
	return e.process.ControlAddr()
}

// IsRunning reports whether Start succeeded and Stop was not called since.
func (e *EmbeddedTor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process != nil
}

// NewClient returns a Client bound to the daemon's SOCKS port.
func (e *EmbeddedTor) NewClient(timeout time.Duration, opts ...ClientOption) (*Client, error) {
	addr := e.SocksAddr()
	if addr == "" {
		return nil, ErrEmbeddedNotRunning
	}
	return NewClient(addr, timeout, opts...)
}
