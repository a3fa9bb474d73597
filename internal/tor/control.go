package tor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// Control protocol defaults.
const (
	DefaultRenewSettle    = 5 * time.Second
	defaultControlTimeout = 10 * time.Second
)

// Controller requests new circuits over the Tor control port.
type Controller struct {
	address  string
	password string
	cookie   bool
	settle   time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	auth *tornago.ControlAuth
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSettle sets how long RenewCircuit waits after NEWNYM succeeds.
func WithSettle(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.settle = d
	}
}

// WithControlLogger sets the controller's logger.
func WithControlLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithCookieAuth authenticates with the cookie file the daemon announces
// in PROTOCOLINFO instead of a password. The embedded daemon uses it.
func WithCookieAuth() ControllerOption {
	return func(c *Controller) {
		c.cookie = true
	}
}

// WithControlTimeout bounds each control connection.
func WithControlTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewController returns a controller for the control port at address.
// Without cookie auth an empty password disables renewal.
func NewController(address, password string, opts ...ControllerOption) *Controller {
	c := &Controller{
		address:  address,
		password: password,
		settle:   DefaultRenewSettle,
		timeout:  defaultControlTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the controller has credentials to use.
func (c *Controller) Enabled() bool {
	return c.address != "" && (c.cookie || c.password != "")
}

// RenewCircuit authenticates, sends SIGNAL NEWNYM and waits for the
// settle period so that following requests use fresh circuits.
// Without credentials it returns ErrNoControlPassword and does nothing.
// Other failures are *CircuitRenewalError.
func (c *Controller) RenewCircuit(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNoControlPassword
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	auth, err := c.controlAuth()
	if err != nil {
		return &CircuitRenewalError{Step: "authenticate", Err: err}
	}

	client, err := tornago.NewControlClient(c.address, auth, c.timeout)
	if err != nil {
		return &CircuitRenewalError{Step: "dial", Err: err}
	}
	defer client.Close()

	if err := client.Authenticate(); err != nil {
		return &CircuitRenewalError{Step: "authenticate", Err: err}
	}
	if err := client.NewIdentity(ctx); err != nil {
		return &CircuitRenewalError{Step: "signal", Err: err}
	}

	c.logger.Info("tor circuit renewed", "settle", c.settle)
	return sleepContext(ctx, c.settle)
}

// controlAuth returns the credentials of the control port. The cookie is
// read once and reused for later renewals.
func (c *Controller) controlAuth() (tornago.ControlAuth, error) {
	if !c.cookie {
		return tornago.ControlAuthFromPassword(c.password), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth != nil {
		return *c.auth, nil
	}
	auth, cookiePath, err := tornago.ControlAuthFromTor(c.address, c.timeout)
	if err != nil {
		return tornago.ControlAuth{}, err
	}
	c.logger.Debug("tor control cookie loaded", "path", cookiePath)
	c.auth = &auth
	return auth, nil
}
