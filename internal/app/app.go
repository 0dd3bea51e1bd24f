// Package app wires providers, credential stores, and fetch pipelines
// into one runnable engine.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvcrn/quotabar/internal/auth"
	"github.com/dvcrn/quotabar/internal/config"
	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/fetch"
	"github.com/dvcrn/quotabar/internal/provider"
)

// App owns one credential store and one fetch pipeline per configured
// provider.
type App struct {
	cfg      *config.Config
	registry *provider.Registry
	logger   zerolog.Logger

	watcher *credentials.Watcher

	stores    map[string]*credentials.Store
	pipelines map[string]*fetch.Pipeline
}

// New builds the engine for the given providers; an empty list means all
// built-ins.
func New(cfg *config.Config, providers []string, logger zerolog.Logger) (*App, error) {
	a := &App{
		cfg:       cfg,
		registry:  provider.NewRegistry(),
		logger:    logger,
		stores:    map[string]*credentials.Store{},
		pipelines: map[string]*fetch.Pipeline{},
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = credentials.DefaultStateDir()
	}

	var cache credentials.CacheTier
	if stateDir != "" {
		fileCache, err := credentials.NewEncryptedFileCache(stateDir)
		if err != nil {
			logger.Warn().Err(err).Msg("encrypted cache unavailable, using in-memory cache")
		} else {
			cache = fileCache
		}
	}
	if cache == nil {
		cache = credentials.NewMemoryTier()
	}

	var secure credentials.SecureStore
	if !cfg.DisableKeyring {
		secure = credentials.NewKeyringStore()
	}

	if cfg.Watch {
		watcher, err := credentials.NewWatcher(logger)
		if err != nil {
			logger.Warn().Err(err).Msg("credential file watcher unavailable")
		} else {
			a.watcher = watcher
		}
	}

	if len(providers) == 0 {
		providers = a.registry.Names()
	}
	for _, name := range providers {
		p, err := a.registry.Get(name)
		if err != nil {
			return nil, err
		}
		store := a.buildStore(p, cache, secure, stateDir)
		a.stores[p.Name] = store
		a.pipelines[p.Name] = a.buildPipeline(p, store)

		if a.watcher != nil && p.ConfigFile != "" {
			if err := a.watcher.Watch(p.ConfigFile, store); err != nil {
				logger.Warn().Err(err).Str("provider", p.Name).Msg("cannot watch credential file")
			}
		}
	}
	return a, nil
}

func (a *App) buildStore(p *provider.Provider, cache credentials.CacheTier,
	secure credentials.SecureStore, stateDir string) *credentials.Store {
	deps := credentials.Deps{
		Cache:  cache,
		Logger: a.logger,
	}
	if p.EnvVar != "" {
		deps.Env = credentials.NewEnvSource(p.EnvVar)
	}
	if p.ConfigFile != "" && p.DecodeConfig != nil {
		deps.File = credentials.NewFileSource(credentials.ExpandHome(p.ConfigFile), p.DecodeConfig)
	}
	if secure != nil && p.KeyringService != "" {
		gatePath := ""
		if stateDir != "" {
			gatePath = filepath.Join(stateDir, "gate-"+p.Name+".json")
		}
		gate := credentials.NewPromptGate(gatePath, a.cfg.Prompt.Cooldown, a.logger)
		deps.Secure = credentials.NewSecureSource(secure, gate, p.KeyringService,
			p.KeyringAccount, p.DecodeKeyring, p.EncodeKeyring)
	}
	if p.Importer != nil {
		deps.Importer = p.Importer
	}
	if p.Token.TokenURL != "" {
		gate := auth.NewFailureGate(auth.FailureGateConfig{
			BackoffBase:            a.cfg.Refresh.BackoffBase,
			BackoffCap:             a.cfg.Refresh.BackoffCap,
			Jitter:                 auth.DefaultBackoffJitter,
			ClearTerminalOnSuccess: p.ClearTerminalOnRefresh,
		})
		client := &http.Client{Timeout: a.cfg.Refresh.Timeout}
		deps.Refresher = auth.NewRefresher(p.Token, gate, client, a.logger)
	}
	return credentials.NewStore(credentials.StoreConfig{
		Key:                 credentials.Key{Provider: p.Name},
		MemoryTTL:           a.cfg.Cache.MemoryTTL,
		FingerprintInterval: a.cfg.Cache.FingerprintInterval,
		RefreshBuffer:       p.RefreshBuffer,
	}, deps)
}

func (a *App) buildPipeline(p *provider.Provider, store *credentials.Store) *fetch.Pipeline {
	var strategies []fetch.Strategy
	for _, kind := range p.Strategies {
		switch kind {
		case fetch.KindOAuth:
			strategies = append(strategies,
				fetch.NewOAuthStrategy(p.Name, "", store, p.Usage, p.ParseUsage, nil, a.logger))
		case fetch.KindCLI:
			strategies = append(strategies,
				fetch.NewCLIStrategy(p.Name, "", p.CLIBinary, p.CLIArgs, p.ParseCLI, a.logger))
		case fetch.KindCookie:
			strategies = append(strategies,
				fetch.NewCookieStrategy(p.Name, "", p.Session, p.Dashboard, p.ParseDashboard, nil, a.logger))
		case fetch.KindLocalProbe:
			strategies = append(strategies,
				fetch.NewLocalProbeStrategy(p.Name, "", p.Probe, p.ParseUsage, nil, a.logger))
		case fetch.KindLocalImport:
			strategies = append(strategies,
				fetch.NewLocalImportStrategy(p.Name, "", p.Importer, p.Usage, p.ParseUsage, nil, a.logger))
		}
	}
	return fetch.NewPipeline(p.Name, fetch.Mode(a.cfg.Mode), strategies, a.logger)
}

// Providers returns the configured provider names, sorted.
func (a *App) Providers() []string {
	names := make([]string, 0, len(a.pipelines))
	for name := range a.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store returns the credential store for a provider.
func (a *App) Store(name string) (*credentials.Store, error) {
	store, ok := a.stores[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return store, nil
}

// FetchOne runs one provider's pipeline.
func (a *App) FetchOne(ctx context.Context, name string) (fetch.Outcome, error) {
	pipeline, ok := a.pipelines[name]
	if !ok {
		return fetch.Outcome{}, fmt.Errorf("unknown provider %q", name)
	}
	return pipeline.Fetch(ctx), nil
}

// FetchAll runs every pipeline in parallel. Failures stay inside each
// provider's Outcome, so one broken provider never hides the others.
func (a *App) FetchAll(ctx context.Context) map[string]fetch.Outcome {
	var mu sync.Mutex
	outcomes := make(map[string]fetch.Outcome, len(a.pipelines))
	g, ctx := errgroup.WithContext(ctx)
	for name, pipeline := range a.pipelines {
		name, pipeline := name, pipeline
		g.Go(func() error {
			outcome := pipeline.Fetch(ctx)
			mu.Lock()
			outcomes[name] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// ValidateCredentials logs which providers can resolve a credential
// without prompting. Meant for startup diagnostics.
func (a *App) ValidateCredentials(ctx context.Context) {
	for _, name := range a.Providers() {
		store := a.stores[name]
		if store.Available(ctx) {
			a.logger.Info().Str("provider", name).Msg("credential source available")
		} else {
			a.logger.Warn().Str("provider", name).Msg("no credential source found")
		}
	}
}

// Run starts background pieces (the file watcher) until ctx is done.
func (a *App) Run(ctx context.Context) {
	if a.watcher != nil {
		go a.watcher.Run(ctx)
	}
}

// Close releases watcher resources.
func (a *App) Close() error {
	if a.watcher != nil {
		return a.watcher.Close()
	}
	return nil
}
