package auth

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultBackoffBase is the first retry delay after a transient
	// refresh failure.
	DefaultBackoffBase = 500 * time.Millisecond
	// DefaultBackoffCap is the hard ceiling on the retry delay.
	DefaultBackoffCap = 4 * time.Second
	// DefaultBackoffJitter randomizes each delay by up to this fraction.
	DefaultBackoffJitter = 0.2
)

// FailureGateConfig tunes a refresh failure gate.
type FailureGateConfig struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Jitter      float64

	// ClearTerminalOnSuccess lets a successful refresh leave the Terminal
	// state. Most providers require an explicit re-authentication signal
	// instead, so this defaults to off.
	ClearTerminalOnSuccess bool
}

func (c *FailureGateConfig) applyDefaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
}

// FailureGate throttles token refreshes for one credential key. Transient
// failures back off exponentially with jitter up to a cap; a terminal
// grant rejection sticks until an explicit reset.
type FailureGate struct {
	cfg FailureGateConfig
	now func() time.Time

	mu                  sync.Mutex
	bo                  *backoff.ExponentialBackOff
	consecutiveFailures int
	nextRetryAt         time.Time
	terminal            bool
}

func NewFailureGate(cfg FailureGateConfig) *FailureGate {
	cfg.applyDefaults()
	return &FailureGate{
		cfg: cfg,
		now: time.Now,
		bo:  newBackoff(cfg),
	}
}

func newBackoff(cfg FailureGateConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffBase
	bo.MaxInterval = cfg.BackoffCap
	bo.RandomizationFactor = cfg.Jitter
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // the gate owns retry budgets, not the backoff
	bo.Reset()
	return bo
}

// ShouldAttempt reports whether a refresh may be attempted right now.
func (g *FailureGate) ShouldAttempt() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminal {
		return false
	}
	return g.nextRetryAt.IsZero() || !g.now().Before(g.nextRetryAt)
}

// RecordTransientFailure schedules the next permitted attempt.
func (g *FailureGate) RecordTransientFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveFailures++
	g.nextRetryAt = g.now().Add(g.bo.NextBackOff())
}

// RecordTerminalAuthFailure enters the sticky Terminal state.
func (g *FailureGate) RecordTerminalAuthFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminal = true
}

// RecordSuccess clears the transient backoff, and the Terminal state too
// when the gate is configured to allow that.
func (g *FailureGate) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveFailures = 0
	g.nextRetryAt = time.Time{}
	g.bo.Reset()
	if g.cfg.ClearTerminalOnSuccess {
		g.terminal = false
	}
}

// Reset clears all state, including Terminal. Called when an external
// re-authentication replaces the credential.
func (g *FailureGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveFailures = 0
	g.nextRetryAt = time.Time{}
	g.terminal = false
	g.bo.Reset()
}

// State is a point-in-time snapshot for logging and diagnostics.
type State struct {
	ConsecutiveFailures int
	NextRetryAt         time.Time
	Terminal            bool
}

func (g *FailureGate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		ConsecutiveFailures: g.consecutiveFailures,
		NextRetryAt:         g.nextRetryAt,
		Terminal:            g.terminal,
	}
}
