// Package credentials resolves account credentials for AI-CLI providers
// across several storage tiers: a process-environment override, an
// in-memory cache, an encrypted persistent cache, a provider-owned config
// file, the OS secure store, and a last-resort local application import.
package credentials

import (
	"context"
	"time"
)

// Identity is the non-secret account metadata attached to a credential.
type Identity struct {
	Email     string `json:"email,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Plan      string `json:"plan,omitempty"`
}

// Credential is an immutable token value. A refreshed credential is a new
// value superseding the old one, never a mutation.
type Credential struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresAt    int64    `json:"expires_at,omitempty"` // unix millis, 0 = no declared expiry
	Identity     Identity `json:"identity,omitzero"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Valid reports whether the credential carries any usable token material.
// A credential with neither an access token nor a refresh token must never
// be cached or returned as a success.
func (c *Credential) Valid() bool {
	return c != nil && (c.AccessToken != "" || c.RefreshToken != "")
}

// IsExpired reports whether the declared expiry has passed. A credential
// without a declared expiry never expires (caller-supplied overrides).
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != 0 && now.UnixMilli() >= c.ExpiresAt
}

// IsRefreshable reports whether a refresh token is held.
func (c *Credential) IsRefreshable() bool {
	return c != nil && c.RefreshToken != ""
}

// NeedsRefresh reports whether the declared expiry falls within the
// provider's buffer window. Credentials without a declared expiry are
// handled by the store using the cache entry's StoredAt timestamp.
func (c *Credential) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	if !c.IsRefreshable() || c.ExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() >= c.ExpiresAt-buffer.Milliseconds()
}

// Equal compares token material and expiry. Identity and scope changes
// alone do not make a credential "new" for change-detection purposes.
func (c *Credential) Equal(other *Credential) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.AccessToken == other.AccessToken &&
		c.RefreshToken == other.RefreshToken &&
		c.ExpiresAt == other.ExpiresAt
}

// Key identifies one logical credential slot: a provider plus an optional
// account label.
type Key struct {
	Provider string
	Account  string
}

func (k Key) String() string {
	if k.Account == "" {
		return k.Provider
	}
	return k.Provider + "/" + k.Account
}

// CacheEntry wraps a credential for the persistent cache tier.
type CacheEntry struct {
	Credential Credential `json:"credential"`
	StoredAt   time.Time  `json:"stored_at"`
}

// Source is one credential tier. Load returns ErrCredentialNotFound when
// the tier holds nothing; corrupt payloads surface as *DecodeError so the
// resolver can degrade to the next tier while logging distinctly.
type Source interface {
	Name() string
	Load(ctx context.Context) (*Credential, error)
}

// Fingerprinter is implemented by sources whose backing data can change
// behind the process's back. Fingerprint must never trigger an
// interactive prompt.
type Fingerprinter interface {
	Fingerprint(ctx context.Context) (Fingerprint, error)
}

// Writable is implemented by sources that can persist a refreshed
// credential.
type Writable interface {
	Store(ctx context.Context, cred *Credential) error
	Clear(ctx context.Context) error
}

// Refresher exchanges a refresh token for a new access token. Implemented
// by the auth package; injected so the store can be tested with a fake.
type Refresher interface {
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)
}

// LocalImporter decodes a sibling application's on-disk state into a
// credential. Format details stay behind this interface; implementations
// return ErrImportUnavailable when the state is absent or undecodable.
type LocalImporter interface {
	Import(ctx context.Context) (*Credential, error)
}
