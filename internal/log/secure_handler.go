package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// MaskValue replaces every redacted value.
const MaskValue = "***REDACTED***"

// ErrUnknownLevel is returned by ParseLevel for an unrecognized level name.
var ErrUnknownLevel = errors.New("unknown log level")

// redactedKeys are attribute keys whose value is never written.
var redactedKeys = map[string]bool{
	"authorization":         true,
	"proxy-authorization":   true,
	"cookie":                true,
	"set-cookie":            true,
	"password":              true,
	"control_password":      true,
	"tor_control_password":  true,
	"hashedcontrolpassword": true,
	"secret":                true,
	"token":                 true,
	"session":               true,
	"session_id":            true,
	"private_key":           true,
	"mnemonic":              true,
	"wallet_key":            true,
}

// redactedFragments redact any key that contains them.
// "seed" is absent: seed URLs are logged on every site event.
var redactedFragments = []string{"password", "passwd", "secret", "token", "credential", "private", "mnemonic"}

// redactedValues are value patterns that are masked whatever the key.
// Content hashes and onion hostnames are long alphanumerics and stay visible.
var redactedValues = []*regexp.Regexp{
	// Tor control port authentication line
	regexp.MustCompile(`(?i)^\s*AUTHENTICATE\s+`),

	// torrc HashedControlPassword value
	regexp.MustCompile(`^16:[0-9A-F]{58}$`),

	// JWT
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),

	// Bearer and Basic credentials
	regexp.MustCompile(`(?i)^(bearer|basic)\s+\S+`),

	// PEM private keys and onion service secrets
	regexp.MustCompile(`(?i)-----BEGIN.*(PRIVATE|SECRET).*KEY-----`),
	regexp.MustCompile(`== ed25519v1-secret:`),
}

// SecureHandler wraps an slog.Handler and masks sensitive attribute values
// before they reach the wrapped handler.
type SecureHandler struct {
	handler slog.Handler
}

// NewSecureHandler wraps handler. A nil handler wraps slog.Default().Handler().
func NewSecureHandler(handler slog.Handler) *SecureHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &SecureHandler{handler: handler}
}

// Enabled delegates to the wrapped handler.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle masks the record's attributes and forwards it.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	if isSensitiveValue(msg) {
		msg = MaskValue
	}
	out := slog.NewRecord(r.Time, r.Level, msg, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(sanitizeAttr(a))
		return true
	})
	return h.handler.Handle(ctx, out)
}

// WithAttrs masks attrs before attaching them.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = sanitizeAttr(a)
	}
	return &SecureHandler{handler: h.handler.WithAttrs(clean)}
}

// WithGroup delegates to the wrapped handler.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{handler: h.handler.WithGroup(name)}
}

func sanitizeAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		clean := make([]slog.Attr, len(group))
		for i, ga := range group {
			clean[i] = sanitizeAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}

	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, MaskValue)
	}
	if a.Value.Kind() == slog.KindString && isSensitiveValue(a.Value.String()) {
		return slog.String(a.Key, MaskValue)
	}
	return a
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	if redactedKeys[key] {
		return true
	}
	for _, fragment := range redactedFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

func isSensitiveValue(value string) bool {
	for _, pattern := range redactedValues {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// ParseLevel maps debug, info, warn/warning and error to an slog.Level.
// Matching is case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// NewSecureLogger returns a text logger at level that masks secrets.
// The result can be handed to tornago, which logs through slog as well.
func NewSecureLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// NewSecureJSONLogger is NewSecureLogger with JSON output.
func NewSecureJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
