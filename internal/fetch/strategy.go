// Package fetch runs an ordered list of usage-acquisition strategies for
// one provider account, falling back strategy-to-strategy according to
// per-strategy, per-error policy.
package fetch

import (
	"context"

	"github.com/dvcrn/quotabar/internal/usage"
)

// Kind names an acquisition method.
type Kind string

const (
	KindOAuth       Kind = "oauth"
	KindCLI         Kind = "cli"
	KindCookie      Kind = "cookie-session"
	KindLocalProbe  Kind = "local-probe"
	KindLocalImport Kind = "local-import"
)

// Mode selects pipeline fallback behavior.
type Mode string

const (
	// ModeAuto walks the strategy list until one succeeds.
	ModeAuto Mode = "auto"
	// ModePinned runs only the first available strategy and surfaces its
	// failure instead of falling back.
	ModePinned Mode = "pinned"
)

// Strategy is one way of acquiring a usage snapshot.
type Strategy interface {
	// ID uniquely names this strategy instance for the attempt log.
	ID() string
	Kind() Kind

	// Available is a cheap, non-prompting check: is a credential present
	// or acquirable, or a local artifact reachable.
	Available(ctx context.Context) bool

	// Fetch performs the acquisition, including any necessary token
	// refresh.
	Fetch(ctx context.Context) (*usage.Snapshot, error)

	// ShouldFallback decides, for a failure from Fetch, whether the
	// pipeline should continue to the next strategy. Consulted in auto
	// mode only; pinned mode never falls back.
	ShouldFallback(err error) bool
}
