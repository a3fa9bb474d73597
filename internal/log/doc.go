// Package log builds the slog loggers used by onionharvest.
//
// SecureHandler wraps any slog.Handler and masks secrets before they are
// written: HTTP credentials and cookies, the Tor control password and any
// AUTHENTICATE line sent to the control port. Content hashes and onion
// hostnames are long alphanumeric strings too, so no blanket "long token"
// pattern is applied.
//
//	logger := log.NewSecureLogger(os.Stderr, slog.LevelInfo)
//	logger.Info("renewing circuit", "control_password", pw) // value masked
package log
