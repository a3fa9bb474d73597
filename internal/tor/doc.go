// Package tor is the anonymized transport of onionharvest.
//
// Client owns the SOCKS5 dialer and builds HTTP clients that resolve every
// hostname inside Tor. Transport turns such a client into a page fetcher
// with a per-host politeness delay, retry with exponential backoff and
// jitter, and Transient/Terminal error classification. Controller requests
// new circuits over the control port, and EmbeddedTor starts a private
// daemon through tornago when no system Tor is available.
//
// The package also validates v3 onion addresses, including the SHA3
// checksum, for seeds and extracted indicators.
package tor
