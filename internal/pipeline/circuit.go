package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nao1215/onionharvest/internal/tor"
)

// Renewer requests a fresh Tor circuit. *tor.Controller implements it.
type Renewer interface {
	RenewCircuit(ctx context.Context) error
}

// CircuitManager counts accepted pages across all frontiers and renews the
// Tor circuit every N of them. The counter and the circuit epoch live
// under one mutex, so each multiple of N triggers exactly one renewal.
type CircuitManager struct {
	renewer Renewer
	every   int
	logger  *slog.Logger
	onRenew func(epoch uint64)

	mu        sync.Mutex
	successes int
	epoch     uint64
	disabled  bool
}

// CircuitOption configures a CircuitManager.
type CircuitOption func(*CircuitManager)

// WithCircuitLogger sets the logger.
func WithCircuitLogger(l *slog.Logger) CircuitOption {
	return func(m *CircuitManager) {
		m.logger = l
	}
}

// WithOnRenew registers a callback that runs after every successful
// renewal, while other frontiers are still held at the counter.
func WithOnRenew(fn func(epoch uint64)) CircuitOption {
	return func(m *CircuitManager) {
		m.onRenew = fn
	}
}

// NewCircuitManager renews through r every `every` accepted pages. A nil
// renewer or a non-positive interval disables renewal but pages are still
// counted.
func NewCircuitManager(r Renewer, every int, opts ...CircuitOption) *CircuitManager {
	m := &CircuitManager{
		renewer: r,
		every:   every,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.disabled = r == nil || every <= 0
	return m
}

// PageAccepted records one accepted page and renews the circuit when the
// count reaches a multiple of the interval. The renewal runs with the
// mutex held, so no other page is counted until the new circuit settles.
// It reports whether a renewal succeeded.
func (m *CircuitManager) PageAccepted(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.successes++
	if m.disabled || m.successes%m.every != 0 {
		return false
	}

	err := m.renewer.RenewCircuit(ctx)
	switch {
	case errors.Is(err, tor.ErrNoControlPassword):
		m.logger.Warn("circuit renewal disabled: no control password set")
		m.disabled = true
		return false
	case err != nil:
		m.logger.Warn("circuit renewal failed, continuing on the current circuit", "pages", m.successes, "error", err)
		return false
	}

	m.epoch++
	m.logger.Info("tor circuit renewed", "epoch", m.epoch, "pages", m.successes)
	if m.onRenew != nil {
		m.onRenew(m.epoch)
	}
	return true
}

// Epoch returns the number of successful renewals.
func (m *CircuitManager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Successes returns the number of accepted pages counted so far.
func (m *CircuitManager) Successes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successes
}
