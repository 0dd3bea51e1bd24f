// Package provider describes the supported AI-CLI providers: where their
// tokens live, how to refresh them, and how to read their usage APIs.
package provider

import (
	"net/http"
	"time"

	"github.com/dvcrn/quotabar/internal/auth"
	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/fetch"
)

// Provider is one provider descriptor. Behavior differences between
// providers live in the closures; the orchestration around them is
// shared.
type Provider struct {
	Name string

	// EnvVar supplies a direct access-token override for automation.
	EnvVar string

	// Token is the OAuth refresh endpoint. Zero value means the provider
	// has no refreshable OAuth credential.
	Token auth.Endpoint

	// RefreshBuffer widens the refresh window for short-lived tokens.
	RefreshBuffer time.Duration

	// ClearTerminalOnRefresh lets a successful refresh clear a prior
	// terminal failure; provider-dependent.
	ClearTerminalOnRefresh bool

	// Usage is the authenticated usage-API request template, used by the
	// oauth and local-import strategies.
	Usage fetch.APIRequest

	// ParseUsage decodes the usage API body.
	ParseUsage fetch.ParseFunc

	// ConfigFile is the provider CLI's own credential file, ~-expandable.
	ConfigFile string

	// DecodeConfig decodes ConfigFile's schema into a credential.
	DecodeConfig func([]byte) (*credentials.Credential, error)

	// KeyringService names the secure-store entry, empty when the
	// provider stores nothing in the OS keychain. Decode/Encode handle
	// the provider's blob envelope.
	KeyringService string
	KeyringAccount string
	DecodeKeyring  func([]byte) (*credentials.Credential, error)
	EncodeKeyring  func(*credentials.Credential) ([]byte, error)

	// CLI probe: binary plus args producing parseable usage output.
	CLIBinary string
	CLIArgs   []string
	ParseCLI  fetch.ParseFunc

	// Dashboard is the cookie-session request template, for providers
	// whose usage is only on a web dashboard.
	Dashboard      fetch.APIRequest
	ParseDashboard fetch.ParseFunc

	// Probe resolves a local-network usage service (IDE extensions).
	Probe fetch.ProbeResolver

	// Session supplies dashboard cookies for the cookie-session strategy.
	Session fetch.SessionSource

	// Importer decodes a sibling application's state as a last-resort
	// credential source. Nil when no importer is known for the provider.
	Importer credentials.LocalImporter

	// Strategies is the fallback order for auto mode.
	Strategies []fetch.Kind
}

// bearerHeaders is the common Authorization-only header shape.
func bearerHeaders(extra map[string]string) func(*credentials.Credential) http.Header {
	return func(cred *credentials.Credential) http.Header {
		h := http.Header{}
		if cred != nil && cred.AccessToken != "" {
			h.Set("Authorization", "Bearer "+cred.AccessToken)
		}
		for k, v := range extra {
			h.Set(k, v)
		}
		return h
	}
}
