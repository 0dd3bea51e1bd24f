package credentials

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// DefaultPromptCooldown is how long the secure store is left alone after
// a denial. Long on purpose: a periodic refresh loop hitting a store that
// prompts on every access would otherwise re-raise the dialog each cycle.
const DefaultPromptCooldown = 6 * time.Hour

type promptGateState struct {
	DeniedUntil int64 `json:"denied_until,omitempty"` // unix millis
}

// PromptGate is a cooldown gating interactive secure-store prompts. State
// persists across process restarts via a small JSON file.
type PromptGate struct {
	mu       sync.Mutex
	path     string
	cooldown time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	deniedUntil time.Time
	loaded      bool
}

// NewPromptGate opens a gate persisted at path. An empty path keeps the
// gate in-memory only.
func NewPromptGate(path string, cooldown time.Duration, logger zerolog.Logger) *PromptGate {
	if cooldown <= 0 {
		cooldown = DefaultPromptCooldown
	}
	return &PromptGate{
		path:     path,
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger,
	}
}

// ShouldAllowPrompt reports whether a potentially prompting secure-store
// access is currently allowed. A stale cooldown is cleared as a side
// effect.
func (g *PromptGate) ShouldAllowPrompt() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadLocked()

	if g.deniedUntil.IsZero() {
		return true
	}
	if g.now().Before(g.deniedUntil) {
		return false
	}
	g.deniedUntil = time.Time{}
	g.persistLocked()
	return true
}

// RecordDenied starts (or restarts) the cooldown after any denial,
// cancellation, or interaction-required signal from the secure store.
func (g *PromptGate) RecordDenied() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadLocked()

	g.deniedUntil = g.now().Add(g.cooldown)
	g.persistLocked()
	g.logger.Warn().
		Time("denied_until", g.deniedUntil).
		Msg("secure store denied access, suppressing prompts")
}

// Reset clears any active cooldown, e.g. after an explicit user action
// that re-grants access.
func (g *PromptGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deniedUntil = time.Time{}
	g.loaded = true
	g.persistLocked()
}

func (g *PromptGate) loadLocked() {
	if g.loaded {
		return
	}
	g.loaded = true
	if g.path == "" {
		return
	}
	data, err := os.ReadFile(g.path)
	if err != nil {
		return
	}
	var state promptGateState
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupt state file: start over as Allowed.
		return
	}
	if state.DeniedUntil != 0 {
		g.deniedUntil = time.UnixMilli(state.DeniedUntil)
	}
}

func (g *PromptGate) persistLocked() {
	if g.path == "" {
		return
	}
	state := promptGateState{}
	if !g.deniedUntil.IsZero() {
		state.DeniedUntil = g.deniedUntil.UnixMilli()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := EnsureParentDir(g.path); err != nil {
		g.logger.Warn().Err(err).Msg("failed to create gate state directory")
		return
	}
	lock := flock.New(g.path + ".lock")
	if err := lock.Lock(); err == nil {
		defer lock.Unlock()
	}
	if err := atomicWriteFile(g.path, data, 0600); err != nil {
		g.logger.Warn().Err(err).Str("path", g.path).Msg("failed to persist gate state")
	}
}
