package tor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// Transport defaults. The crawler overrides them from configuration.
const (
	DefaultRetryCount  = 3
	DefaultBackoffBase = 4 * time.Second
	DefaultMaxBodySize = 5 * 1024 * 1024

	// maxJitter is the largest random fraction added to a backoff delay.
	maxJitter = 0.5

	// defaultAttemptTimeout bounds a request when the client has no timeout.
	defaultAttemptTimeout = 60 * time.Second
)

// ErrHTTPStatus marks a failure caused by a non-2xx response.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// userAgents is the rotation pool. Tor Browser presents itself as Firefox
// ESR, so only Firefox strings are used.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; rv:128.0) Gecko/20100101 Firefox/128.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:115.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:128.0) Gecko/20100101 Firefox/128.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:115.0) Gecko/20100101 Firefox/115.0",
}

var acceptLanguages = []string{
	"en-US,en;q=0.5",
	"en-GB,en;q=0.7,en-US;q=0.3",
	"en-US,en;q=0.9,de;q=0.4",
}

// Response is a successfully fetched page.
type Response struct {
	URL         string // final URL after redirects
	Status      int
	ContentType string
	Body        []byte
	Elapsed     time.Duration // time spent in the successful attempt
	Attempts    int
}

// Transport fetches pages through an HTTP client bound to the Tor proxy,
// with a per-host politeness delay and retry with exponential backoff.
// It is safe for concurrent use by many frontiers.
type Transport struct {
	client      *http.Client
	delay       time.Duration
	retries     int
	backoffBase time.Duration
	maxBodySize int64
	hostHeaders map[string]map[string]string
	logger      *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// replaced in tests
	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithDelay sets the minimum spacing between two requests to the same host.
func WithDelay(d time.Duration) TransportOption {
	return func(t *Transport) {
		t.delay = d
	}
}

// WithRetry sets the number of attempts and the first backoff delay.
func WithRetry(attempts int, base time.Duration) TransportOption {
	return func(t *Transport) {
		t.retries = attempts
		t.backoffBase = base
	}
}

// WithMaxBodySize caps the bytes read from a response body.
func WithMaxBodySize(n int64) TransportOption {
	return func(t *Transport) {
		t.maxBodySize = n
	}
}

// WithHostHeaders adds extra headers to requests for specific hosts.
// Keys are lowercase hostnames.
func WithHostHeaders(headers map[string]map[string]string) TransportOption {
	return func(t *Transport) {
		t.hostHeaders = headers
	}
}

// WithTransportLogger sets the logger used for retry diagnostics.
func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = l
	}
}

// NewTransport wraps client, usually one from Client.NewHTTPClient.
func NewTransport(client *http.Client, opts ...TransportOption) *Transport {
	t := &Transport{
		client:      client,
		retries:     DefaultRetryCount,
		backoffBase: DefaultBackoffBase,
		maxBodySize: DefaultMaxBodySize,
		logger:      slog.Default(),
		limiters:    make(map[string]*rate.Limiter),
		jitter:      rand.Float64,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.retries < 1 {
		t.retries = 1
	}
	return t
}

// Fetch retrieves rawURL. Transient failures are retried up to the
// configured attempt count with exponential backoff and jitter; terminal
// failures return at once. Every attempt first waits for the host's
// politeness delay. Failures are returned as *FetchError.
//
// Cancelling ctx interrupts the delay and the backoff, but a request that
// was already sent runs to completion and its page is returned.
func (t *Transport) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{URL: rawURL, Kind: Terminal, Err: ErrInvalidOnionAddress}
	}
	host := strings.ToLower(u.Hostname())

	var last *FetchError
	for attempt := 1; attempt <= t.retries; attempt++ {
		if err := t.limiter(host).Wait(ctx); err != nil {
			return nil, t.cancelled(ctx, rawURL, attempt-1, err)
		}

		resp, ferr := t.attempt(ctx, rawURL, host)
		if ferr == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		ferr.Attempts = attempt
		last = ferr

		// A failed attempt is not retried after a stop.
		if ctx.Err() != nil {
			return nil, t.cancelled(ctx, rawURL, attempt, ctx.Err())
		}
		if ferr.Kind == Terminal {
			return nil, ferr
		}
		if attempt == t.retries {
			break
		}

		wait := t.backoff(attempt)
		t.logger.Debug("transient fetch failure, retrying",
			"url", rawURL, "attempt", attempt, "status", ferr.Status, "error", ferr.Err, "backoff", wait)
		if err := t.sleep(ctx, wait); err != nil {
			return nil, t.cancelled(ctx, rawURL, attempt, err)
		}
	}

	last.Kind = Terminal
	return nil, last
}

func (t *Transport) cancelled(ctx context.Context, rawURL string, attempts int, err error) *FetchError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &FetchError{URL: rawURL, Kind: Terminal, Attempts: attempts, Err: err}
}

// attempt performs a single request. It is detached from ctx and bounded
// by the client timeout instead.
func (t *Transport) attempt(ctx context.Context, rawURL, host string) (*Response, *FetchError) {
	reqCtx := context.WithoutCancel(ctx)
	if t.client.Timeout <= 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, defaultAttemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: Terminal, Err: err}
	}
	t.setHeaders(req, host)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: classifyError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best effort
		return nil, &FetchError{URL: rawURL, Kind: classifyStatus(resp.StatusCode), Status: resp.StatusCode, Err: ErrHTTPStatus}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: classifyError(err), Status: resp.StatusCode, Err: err}
	}

	return &Response{
		URL:         resp.Request.URL.String(),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Elapsed:     time.Since(start),
	}, nil
}

func (t *Transport) setHeaders(req *http.Request, host string) {
	req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	req.Header.Set("Accept-Language", acceptLanguages[rand.IntN(len(acceptLanguages))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	for k, v := range t.hostHeaders[host] {
		req.Header.Set(k, v)
	}
}

// limiter returns the token bucket of host. The first token is consumed
// on creation so the delay also precedes the first request.
func (t *Transport) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.delay), 1)
		if t.delay > 0 {
			lim.Allow()
		}
		t.limiters[host] = lim
	}
	return lim
}

// backoff returns base*2^(attempt-1) plus up to 50% jitter.
func (t *Transport) backoff(attempt int) time.Duration {
	d := t.backoffBase << (attempt - 1)
	return d + time.Duration(float64(d)*maxJitter*t.jitter())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyStatus(status int) ErrorKind {
	if status == http.StatusTooManyRequests || status >= 500 {
		return Transient
	}
	return Terminal
}

// classifyError maps a transport error to its kind. TLS failures are
// terminal; network level failures are transient; anything unrecognized is
// treated as a malformed exchange and is terminal.
func classifyError(err error) ErrorKind {
	var (
		recordErr tls.RecordHeaderError
		certErr   *tls.CertificateVerificationError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
	)
	switch {
	case errors.As(err, &recordErr), errors.As(err, &certErr),
		errors.As(err, &unknownCA), errors.As(err, &hostErr):
		return Terminal
	case errors.Is(err, ErrRedirectLeavesOnion):
		return Terminal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED), errors.Is(err, syscall.EPIPE),
		errors.Is(err, context.DeadlineExceeded):
		return Transient
	}

	// SOCKS failures (host unreachable, TTL expired, general failure) are
	// reported as *net.OpError by the proxy dialer.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	return Terminal
}
