package tor

import (
	"encoding/base32"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Onion address constants.
const (
	// OnionV3Length is the length of a v3 address without the ".onion" suffix.
	OnionV3Length = 56

	// OnionV3Version is the version byte embedded in v3 addresses.
	OnionV3Version = 0x03

	// OnionSuffix is the common suffix for all onion addresses.
	OnionSuffix = ".onion"
)

// Onion address errors.
var (
	// ErrInvalidOnionAddress is returned for a host that is not a valid v3 onion address.
	ErrInvalidOnionAddress = errors.New("invalid onion address")

	// ErrV2AddressDeprecated is returned for a 16 character v2 address.
	// V2 services stopped working in October 2021.
	ErrV2AddressDeprecated = errors.New("v2 onion addresses are deprecated and no longer functional")

	// ErrUnsupportedScheme is returned for seed URLs that are not http or https.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme: must be http or https")
)

var (
	onionV3Pattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)
	onionV2Pattern = regexp.MustCompile(`^[a-z2-7]{16}\.onion$`)
)

// checksumPrefix is prepended to the key when computing the v3 checksum.
var checksumPrefix = []byte(".onion checksum")

// IsValidV3Address reports whether address is a v3 onion hostname with a
// correct version byte and checksum. Case is ignored.
func IsValidV3Address(address string) bool {
	address = strings.ToLower(address)
	if !onionV3Pattern.MatchString(address) {
		return false
	}

	// 32 byte ed25519 key, 2 byte checksum, 1 byte version
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(strings.TrimSuffix(address, OnionSuffix)))
	if err != nil || len(decoded) != 35 {
		return false
	}

	pubkey, checksum, version := decoded[:32], decoded[32:34], decoded[34]
	if version != OnionV3Version {
		return false
	}
	expected := computeV3Checksum(pubkey, version)
	return checksum[0] == expected[0] && checksum[1] == expected[1]
}

// computeV3Checksum returns the first two bytes of
// SHA3-256(".onion checksum" || pubkey || version).
func computeV3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)
	sum := sha3.Sum256(data)
	return sum[:2]
}

// ComputeV3AddressFromPublicKey derives the v3 onion hostname of a 32 byte
// ed25519 public key.
func ComputeV3AddressFromPublicKey(pubkey []byte) (string, error) {
	if len(pubkey) != 32 {
		return "", ErrInvalidOnionAddress
	}

	data := make([]byte, 35)
	copy(data[:32], pubkey)
	copy(data[32:34], computeV3Checksum(pubkey, OnionV3Version))
	data[34] = OnionV3Version

	return strings.ToLower(base32.StdEncoding.EncodeToString(data)) + OnionSuffix, nil
}

// NormalizeSeed turns user input into a crawlable seed URL.
//
// A missing scheme defaults to http. Scheme and host are lowercased, the
// fragment is dropped and an empty path becomes "/". The host must be a
// valid v3 onion address.
func NormalizeSeed(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidOnionAddress
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrUnsupportedScheme
	}

	host := strings.ToLower(u.Hostname())
	if !IsValidV3Address(host) {
		if onionV2Pattern.MatchString(host) {
			return "", ErrV2AddressDeprecated
		}
		return "", ErrInvalidOnionAddress
	}
	if port := u.Port(); port != "" {
		host += ":" + port
	}

	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
