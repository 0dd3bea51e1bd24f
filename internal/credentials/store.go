package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMemoryTTL bounds how long a resolved credential is served
	// from process memory before the tiers are consulted again.
	DefaultMemoryTTL = 30 * time.Minute

	// DefaultFingerprintInterval bounds how often the external tiers are
	// fingerprinted for out-of-band changes.
	DefaultFingerprintInterval = 60 * time.Second

	// DefaultRefreshBuffer is how far before the declared expiry a
	// refresh is triggered.
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultNoExpiryRefreshInterval applies to refreshable credentials
	// without a server-declared lifetime.
	DefaultNoExpiryRefreshInterval = 8 * 24 * time.Hour
)

// StoreConfig tunes one credential store.
type StoreConfig struct {
	Key                     Key
	MemoryTTL               time.Duration
	FingerprintInterval     time.Duration
	RefreshBuffer           time.Duration
	NoExpiryRefreshInterval time.Duration
}

func (c *StoreConfig) applyDefaults() {
	if c.MemoryTTL <= 0 {
		c.MemoryTTL = DefaultMemoryTTL
	}
	if c.FingerprintInterval <= 0 {
		c.FingerprintInterval = DefaultFingerprintInterval
	}
	if c.RefreshBuffer <= 0 {
		c.RefreshBuffer = DefaultRefreshBuffer
	}
	if c.NoExpiryRefreshInterval <= 0 {
		c.NoExpiryRefreshInterval = DefaultNoExpiryRefreshInterval
	}
}

// Deps are the collaborators a store resolves against. Any of them may be
// nil except Cache; the resolver simply skips absent tiers.
type Deps struct {
	Env       *EnvSource
	Cache     CacheTier
	File      *FileSource
	Secure    *SecureSource
	Importer  LocalImporter
	Refresher Refresher

	// OnSave is invoked with every newly saved credential when no secure
	// store is configured, so callers still get hold of rotated tokens.
	OnSave func(*Credential)

	Logger zerolog.Logger
}

// Store resolves a credential for one provider/account key across ordered
// tiers, keeps a TTL-bounded memory cache, detects external changes via
// fingerprints, and serializes token refreshes per key.
type Store struct {
	cfg  StoreConfig
	deps Deps
	log  zerolog.Logger
	now  func() time.Time

	sf singleflight.Group

	mu          sync.Mutex
	mem         *Credential
	memAt       time.Time
	memStoredAt time.Time
	stale       bool
	lastCheck   time.Time
	fpInit      bool
	lastFile    Fingerprint
	lastSecure  Fingerprint
}

func NewStore(cfg StoreConfig, deps Deps) *Store {
	cfg.applyDefaults()
	if deps.Cache == nil {
		deps.Cache = NewMemoryTier()
	}
	return &Store{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With().Str("credential", cfg.Key.String()).Logger(),
		now:  time.Now,
	}
}

// Key returns the provider/account key this store serves.
func (s *Store) Key() Key { return s.cfg.Key }

// Available cheaply reports whether some tier could plausibly produce a
// credential. Never prompts and never performs a network call.
func (s *Store) Available(ctx context.Context) bool {
	if s.deps.Env != nil {
		if _, err := s.deps.Env.Load(ctx); err == nil {
			return true
		}
	}
	s.mu.Lock()
	if s.mem.Valid() {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	if _, err := s.deps.Cache.Load(ctx, s.cfg.Key); err == nil {
		return true
	}
	if s.deps.File != nil && s.deps.File.Exists() {
		return true
	}
	return s.deps.Secure != nil && s.deps.Secure.Acquirable(ctx)
}

// MarkStale forces a full tier re-read on the next Resolve. Wired to the
// config-file watcher.
func (s *Store) MarkStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// Resolve produces a valid, preferably non-expired credential. When every
// tier is exhausted and only an expired, non-refreshable credential was
// found, that credential is returned with a nil error so callers can show
// an explicit "expired" state instead of an opaque miss.
func (s *Store) Resolve(ctx context.Context) (*Credential, error) {
	// Tier 1: process-environment override. Bypasses caches and gates.
	if s.deps.Env != nil {
		if cred, err := s.deps.Env.Load(ctx); err == nil {
			return cred, nil
		}
	}

	s.checkExternalChanges(ctx)

	now := s.now()
	s.mu.Lock()
	force := s.stale
	s.stale = false
	if !force && s.mem.Valid() && now.Sub(s.memAt) < s.cfg.MemoryTTL && !s.mem.IsExpired(now) {
		mem := s.mem
		storedAt := s.memStoredAt
		s.mu.Unlock()
		if s.wantsRefresh(mem, storedAt, now) {
			return s.refreshOrKeep(ctx, mem)
		}
		return mem, nil
	}
	// An expired or TTL-stale cached credential stays eligible as the
	// final fallback.
	best := s.mem
	bestStoredAt := s.memStoredAt
	s.mu.Unlock()

	for _, tier := range s.tiers() {
		if tier.source == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cred, storedAt, err := tier.load(ctx)
		if err != nil {
			var de *DecodeError
			switch {
			case errors.As(err, &de):
				s.log.Warn().Err(err).Str("tier", tier.name).Msg("corrupt credential payload, skipping tier")
			case errors.Is(err, ErrCredentialNotFound), errors.Is(err, ErrImportUnavailable):
				// Plain miss.
			case errors.Is(err, ErrSecureStoreDenied):
				s.log.Debug().Str("tier", tier.name).Msg("secure store unavailable, skipping tier")
			default:
				s.log.Warn().Err(err).Str("tier", tier.name).Msg("tier read failed, skipping")
			}
			continue
		}
		if !cred.IsExpired(now) {
			s.adopt(cred, storedAt, now)
			if tier.name == "secure-store" {
				// A successful secure-store read also refreshes the
				// persistent cache so the next resolve avoids the prompt.
				s.persistQuietly(ctx, cred)
			}
			if s.wantsRefresh(cred, storedAt, now) {
				return s.refreshOrKeep(ctx, cred)
			}
			return cred, nil
		}
		if best == nil || (!best.IsRefreshable() && cred.IsRefreshable()) {
			best = cred
			bestStoredAt = storedAt
		}
	}

	if best.Valid() {
		if best.IsRefreshable() && s.deps.Refresher != nil {
			refreshed, err := s.refresh(ctx, best)
			if err == nil {
				return refreshed, nil
			}
			if IsTerminalAuth(err) {
				return nil, err
			}
			s.log.Warn().Err(err).Msg("refresh of expired credential failed, returning stale credential")
		}
		s.adopt(best, bestStoredAt, now)
		return best, nil
	}
	return nil, ErrCredentialNotFound
}

// ForceRefresh refreshes the current credential regardless of its expiry,
// used after the usage API rejects a token that still looked valid.
func (s *Store) ForceRefresh(ctx context.Context) (*Credential, error) {
	cred, err := s.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !cred.IsRefreshable() {
		return nil, fmt.Errorf("%w: credential has no refresh token", ErrCredentialNotFound)
	}
	return s.refresh(ctx, cred)
}

// Save persists a new credential to the durable tiers and the memory
// cache. Cache writes happen only here, after a refresh fully succeeded,
// so a cancelled refresh leaves no partial state behind.
func (s *Store) Save(ctx context.Context, cred *Credential) error {
	if !cred.Valid() {
		return fmt.Errorf("refusing to save credential without token material")
	}
	now := s.now()
	entry := &CacheEntry{Credential: *cred, StoredAt: now}
	if err := s.deps.Cache.Store(ctx, s.cfg.Key, entry); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	if s.deps.Secure != nil {
		if err := s.deps.Secure.Store(ctx, cred); err != nil {
			s.log.Warn().Err(err).Msg("failed to write credential to secure store")
		}
	} else if s.deps.OnSave != nil {
		s.deps.OnSave(cred)
	}
	s.mu.Lock()
	s.mem = cred
	s.memAt = now
	s.memStoredAt = now
	s.mu.Unlock()
	return nil
}

// Clear removes the credential from every tier quotabar owns. Used after
// a terminal refresh failure or an explicit logout.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.mem = nil
	s.memAt = time.Time{}
	s.mu.Unlock()
	if err := s.deps.Cache.Clear(ctx, s.cfg.Key); err != nil {
		return fmt.Errorf("clear cache entry: %w", err)
	}
	if s.deps.Secure != nil {
		if err := s.deps.Secure.Clear(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear secure store entry")
		}
	}
	return nil
}

type tier struct {
	name   string
	source Source
	load   func(ctx context.Context) (*Credential, time.Time, error)
}

func (s *Store) tiers() []tier {
	var cacheSource Source
	var fileSource, secureSource, importSource Source
	if s.deps.File != nil {
		fileSource = s.deps.File
	}
	if s.deps.Secure != nil {
		secureSource = s.deps.Secure
	}
	if s.deps.Importer != nil {
		importSource = importerSource{s.deps.Importer}
	}
	cacheSource = cacheTierSource{}

	return []tier{
		{name: "cache", source: cacheSource, load: func(ctx context.Context) (*Credential, time.Time, error) {
			entry, err := s.deps.Cache.Load(ctx, s.cfg.Key)
			if err != nil {
				return nil, time.Time{}, err
			}
			cred := entry.Credential
			return &cred, entry.StoredAt, nil
		}},
		{name: "file", source: fileSource, load: func(ctx context.Context) (*Credential, time.Time, error) {
			cred, err := s.deps.File.Load(ctx)
			return cred, time.Time{}, err
		}},
		{name: "secure-store", source: secureSource, load: func(ctx context.Context) (*Credential, time.Time, error) {
			cred, err := s.deps.Secure.Load(ctx)
			return cred, time.Time{}, err
		}},
		{name: "import", source: importSource, load: func(ctx context.Context) (*Credential, time.Time, error) {
			cred, err := s.deps.Importer.Import(ctx)
			return cred, time.Time{}, err
		}},
	}
}

// wantsRefresh decides whether a usable credential should still be
// exchanged ahead of time.
func (s *Store) wantsRefresh(cred *Credential, storedAt time.Time, now time.Time) bool {
	if s.deps.Refresher == nil || !cred.IsRefreshable() {
		return false
	}
	// A refresh token without an access token (e.g. an imported grant)
	// must be exchanged before it is usable.
	if cred.AccessToken == "" {
		return true
	}
	if cred.NeedsRefresh(now, s.cfg.RefreshBuffer) {
		return true
	}
	// No declared lifetime: refresh on a fixed interval from the time the
	// credential was stored.
	return cred.ExpiresAt == 0 && !storedAt.IsZero() && now.Sub(storedAt) >= s.cfg.NoExpiryRefreshInterval
}

// refreshOrKeep refreshes ahead of expiry. A transient or backoff-gated
// refresh failure falls back to the still-usable credential in hand;
// only terminal failures, or a grant that has no access token yet,
// surface the refresh error.
func (s *Store) refreshOrKeep(ctx context.Context, cred *Credential) (*Credential, error) {
	refreshed, err := s.refresh(ctx, cred)
	if err == nil {
		return refreshed, nil
	}
	if IsTerminalAuth(err) || cred.AccessToken == "" {
		return nil, err
	}
	s.log.Warn().Err(err).Msg("early refresh failed, serving still-valid credential")
	return cred, nil
}

// refresh serializes token exchanges per credential key: concurrent
// resolvers that both observe a refresh-worthy credential share a single
// endpoint call and the same resulting credential.
func (s *Store) refresh(ctx context.Context, cur *Credential) (*Credential, error) {
	v, err, _ := s.sf.Do(s.cfg.Key.String(), func() (interface{}, error) {
		now := s.now()
		s.mu.Lock()
		if s.mem.Valid() && !s.mem.Equal(cur) && !s.mem.IsExpired(now) {
			// A concurrent caller already refreshed.
			mem := s.mem
			s.mu.Unlock()
			return mem, nil
		}
		s.mu.Unlock()

		newCred, err := s.deps.Refresher.Refresh(ctx, cur)
		if err != nil {
			if IsTerminalAuth(err) {
				s.log.Warn().Err(err).Msg("terminal refresh failure, clearing credential")
				if clearErr := s.Clear(ctx); clearErr != nil {
					s.log.Warn().Err(clearErr).Msg("failed to clear credential after terminal refresh failure")
				}
			}
			return nil, err
		}
		if err := s.Save(ctx, newCred); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist refreshed credential")
		}
		return newCred, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

// adopt installs a freshly read credential into the memory cache unless
// doing so would regress a valid cached credential to an expired one.
func (s *Store) adopt(cred *Credential, storedAt time.Time, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem.Valid() && !s.mem.IsExpired(now) && cred.IsExpired(now) {
		return
	}
	if s.mem.Equal(cred) {
		s.memAt = now
		return
	}
	s.mem = cred
	s.memAt = now
	s.memStoredAt = storedAt
}

// persistQuietly mirrors a secure-store read into the persistent cache;
// failures only log.
func (s *Store) persistQuietly(ctx context.Context, cred *Credential) {
	entry := &CacheEntry{Credential: *cred, StoredAt: s.now()}
	if err := s.deps.Cache.Store(ctx, s.cfg.Key, entry); err != nil {
		s.log.Warn().Err(err).Msg("failed to mirror secure store credential into cache")
	}
}

// checkExternalChanges fingerprints the file and secure-store tiers at
// most once per interval and marks the store stale when either changed.
// Fingerprinting never reads a secret and never prompts.
func (s *Store) checkExternalChanges(ctx context.Context) {
	s.mu.Lock()
	if s.now().Sub(s.lastCheck) < s.cfg.FingerprintInterval {
		s.mu.Unlock()
		return
	}
	s.lastCheck = s.now()
	s.mu.Unlock()

	var fileFP, secureFP Fingerprint
	if s.deps.File != nil {
		if fp, err := s.deps.File.Fingerprint(ctx); err == nil {
			fileFP = fp
		}
	}
	if s.deps.Secure != nil {
		if fp, err := s.deps.Secure.Fingerprint(ctx); err == nil {
			secureFP = fp
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fpInit && (!fileFP.Equal(s.lastFile) || !secureFP.Equal(s.lastSecure)) {
		s.log.Debug().Msg("external credential source changed, invalidating memory cache")
		s.stale = true
	}
	s.fpInit = true
	s.lastFile = fileFP
	s.lastSecure = secureFP
}

// importerSource adapts LocalImporter to the Source shape for logging.
type importerSource struct{ imp LocalImporter }

func (importerSource) Name() string { return "import" }
func (i importerSource) Load(ctx context.Context) (*Credential, error) {
	return i.imp.Import(ctx)
}

// cacheTierSource is a marker so the cache tier participates in the
// ordered walk alongside real sources.
type cacheTierSource struct{}

func (cacheTierSource) Name() string { return "cache" }
func (cacheTierSource) Load(context.Context) (*Credential, error) {
	return nil, ErrCredentialNotFound
}
