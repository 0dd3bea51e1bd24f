package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/quotabar/internal/usage"
)

// ProbeResolver locates a provider's local service: IDE extensions like
// Antigravity expose usage on a loopback port guarded by a CSRF token.
// How the port and token are discovered is provider detail.
type ProbeResolver interface {
	Available() bool
	Resolve(ctx context.Context) (request APIRequest, err error)
}

// LocalProbeStrategy fetches usage from a service listening on localhost.
type LocalProbeStrategy struct {
	id       string
	provider string
	account  string
	resolver ProbeResolver
	client   *http.Client
	parse    ParseFunc
	logger   zerolog.Logger
}

func NewLocalProbeStrategy(provider, account string, resolver ProbeResolver,
	parse ParseFunc, client *http.Client, logger zerolog.Logger) *LocalProbeStrategy {
	if client == nil {
		client = &http.Client{Timeout: DefaultUsageTimeout}
	}
	return &LocalProbeStrategy{
		id:       provider + ":local-probe",
		provider: provider,
		account:  account,
		resolver: resolver,
		client:   client,
		parse:    parse,
		logger:   logger,
	}
}

func (s *LocalProbeStrategy) ID() string { return s.id }

func (s *LocalProbeStrategy) Kind() Kind { return KindLocalProbe }

func (s *LocalProbeStrategy) Available(_ context.Context) bool {
	return s.resolver != nil && s.resolver.Available()
}

func (s *LocalProbeStrategy) Fetch(ctx context.Context) (*usage.Snapshot, error) {
	request, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	body, err := doUsageRequest(ctx, s.client, s.id, request, nil)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.parse(body)
	if err != nil {
		return nil, &MalformedResponseError{Strategy: s.id, Err: err}
	}
	snapshot.Provider = s.provider
	snapshot.Account = s.account
	snapshot.Source = string(KindLocalProbe)
	snapshot.FetchedAt = time.Now()
	return snapshot, nil
}

func (s *LocalProbeStrategy) ShouldFallback(err error) bool {
	var malformed *MalformedResponseError
	return !errors.As(err, &malformed)
}
