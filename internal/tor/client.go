package tor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// checkProxyTimeout bounds the SOCKS5 handshake probe.
const checkProxyTimeout = 2 * time.Second

// TorCheckURL is the Tor Project endpoint that reports whether the caller
// reached it through a Tor exit.
const TorCheckURL = "https://check.torproject.org/api/ip"

// maxRedirects is the redirect limit of every client.
const maxRedirects = 10

// Client provides Tor network connectivity through a SOCKS5 proxy.
// Hostnames are handed to the proxy unresolved, so .onion names and
// clearnet names alike are resolved inside Tor.
type Client struct {
	proxyAddress string
	dialer       proxy.ContextDialer
	timeout      time.Duration
	checkURL     string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the SOCKS5 dialer. Tests use it to route onion
// hostnames to a local listener.
func WithDialer(d proxy.ContextDialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithCheckURL replaces the endpoint used by VerifyTor.
func WithCheckURL(u string) ClientOption {
	return func(c *Client) {
		c.checkURL = u
	}
}

// NewClient creates a client for the SOCKS5 proxy at proxyAddress
// ("host:port"). timeout bounds every HTTP request made by clients from
// NewHTTPClient. The proxy is not contacted; use CheckConnection for that.
func NewClient(proxyAddress string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}

	c := &Client{
		proxyAddress: proxyAddress,
		timeout:      timeout,
		checkURL:     TorCheckURL,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		// Tor's SOCKS port does not require authentication.
		d, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("SOCKS5 dialer does not support contexts")
		}
		c.dialer = cd
	}
	return c, nil
}

func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// SOCKS5 protocol constants
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03

	// socks5ProbeHost is a syntactically valid but non-existent onion name.
	// Only the proxy's answer to CONNECT matters, not its outcome.
	socks5ProbeHost = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
)

// CheckConnection verifies that a SOCKS5 proxy listens at the configured
// address by performing the greeting and a CONNECT to a probe onion name.
// Any CONNECT reply, including a failure code, counts as OK.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.proxyAddress)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	greeting := make([]byte, 2)
	if _, err := io.ReadFull(conn, greeting); err != nil {
		return readFailureStatus(err)
	}
	if greeting[0] != socks5Version || greeting[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}

	req := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AddrTypeDomID, byte(len(socks5ProbeHost))}
	req = append(req, socks5ProbeHost...)
	req = append(req, 0x00, 80)
	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}

	reply := make([]byte, 4)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return readFailureStatus(err)
	}
	if reply[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

func readFailureStatus(err error) ProxyStatus {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ProxyStatusTimeout
	}
	return ProxyStatusWrongType
}

// NewHTTPClient returns an HTTP client that sends every request through
// the proxy.
//
// Certificates are not verified because onion services commonly use
// self-signed certificates and the onion address already authenticates
// the service. Compression is disabled against size side channels.
// A redirect that leaves .onion for the clearnet is refused.
func (c *Client) NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: c.dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // Required for .onion services
		},
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: c.timeout,
		DisableCompression:    true,
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	return &http.Client{
		Transport:     transport,
		Timeout:       c.timeout,
		Jar:           jar,
		CheckRedirect: checkRedirect,
	}
}

// ErrRedirectLeavesOnion is returned when an onion page redirects off the onion network.
var ErrRedirectLeavesOnion = errors.New("redirect from an onion service to a non-onion host refused")

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return http.ErrUseLastResponse
	}
	if isOnionHost(via[0].URL.Hostname()) && !isOnionHost(req.URL.Hostname()) {
		return ErrRedirectLeavesOnion
	}
	return nil
}

func isOnionHost(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), OnionSuffix)
}

// DialContext opens a TCP connection through the proxy.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, network, address)
}

// ProxyAddress returns the configured proxy address.
func (c *Client) ProxyAddress() string {
	return c.proxyAddress
}

// TorCheck is the answer of the Tor exit check endpoint.
type TorCheck struct {
	IsTor bool   `json:"IsTor"`
	IP    string `json:"IP"`
}

// VerifyTor asks the Tor Project check endpoint, through the proxy,
// whether traffic exits through Tor. It returns ErrNotTor alongside the
// result when it does not.
func (c *Client) VerifyTor(ctx context.Context) (*TorCheck, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.checkURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.NewHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("tor check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tor check returned HTTP %d", resp.StatusCode)
	}

	var check TorCheck
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&check); err != nil {
		return nil, fmt.Errorf("failed to decode tor check response: %w", err)
	}
	if !check.IsTor {
		return &check, ErrNotTor
	}
	return &check, nil
}
