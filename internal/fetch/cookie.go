package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/usage"
)

// SessionSource supplies browser-derived session headers. Cookie
// extraction mechanics stay behind this interface.
type SessionSource interface {
	Available() bool
	SessionHeaders(ctx context.Context) (http.Header, error)
}

// CookieStrategy fetches usage from a provider's web dashboard API using
// a browser cookie session instead of an OAuth token.
type CookieStrategy struct {
	id       string
	provider string
	account  string
	session  SessionSource
	client   *http.Client
	request  APIRequest
	parse    ParseFunc
	logger   zerolog.Logger
}

func NewCookieStrategy(provider, account string, session SessionSource,
	request APIRequest, parse ParseFunc, client *http.Client, logger zerolog.Logger) *CookieStrategy {
	if client == nil {
		client = &http.Client{Timeout: DefaultUsageTimeout}
	}
	return &CookieStrategy{
		id:       provider + ":cookie-session",
		provider: provider,
		account:  account,
		session:  session,
		client:   client,
		request:  request,
		parse:    parse,
		logger:   logger,
	}
}

func (s *CookieStrategy) ID() string { return s.id }

func (s *CookieStrategy) Kind() Kind { return KindCookie }

func (s *CookieStrategy) Available(_ context.Context) bool {
	return s.session != nil && s.session.Available()
}

func (s *CookieStrategy) Fetch(ctx context.Context) (*usage.Snapshot, error) {
	headers, err := s.session.SessionHeaders(ctx)
	if err != nil {
		return nil, err
	}
	request := s.request
	base := request.Headers
	request.Headers = func(_ *credentials.Credential) http.Header {
		merged := http.Header{}
		if base != nil {
			for k, v := range base(nil) {
				merged[k] = v
			}
		}
		for k, v := range headers {
			merged[k] = v
		}
		return merged
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
	snapshot.Source = string(KindCookie)
	snapshot.FetchedAt = time.Now()
	return snapshot, nil
}

func (s *CookieStrategy) ShouldFallback(err error) bool {
	var malformed *MalformedResponseError
	return !errors.As(err, &malformed)
}
