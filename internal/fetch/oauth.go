package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/usage"
)

// DefaultUsageTimeout bounds one usage-API round trip.
const DefaultUsageTimeout = 15 * time.Second

// APIRequest describes a provider's usage endpoint. Headers is a closure
// because providers differ in auth header shape (account-id headers,
// beta flags).
type APIRequest struct {
	URL     string
	Method  string
	Body    []byte
	Headers func(cred *credentials.Credential) http.Header
}

// ParseFunc turns a raw usage-API response into a snapshot. The strategy
// fills in provider, account, source, and fetch time afterwards.
type ParseFunc func(body []byte) (*usage.Snapshot, error)

// OAuthStrategy fetches usage from a provider's API with a bearer token
// resolved through a credential store, refreshing once on an
// unauthorized response.
type OAuthStrategy struct {
	id       string
	provider string
	account  string
	store    *credentials.Store
	client   *http.Client
	request  APIRequest
	parse    ParseFunc
	logger   zerolog.Logger
}

func NewOAuthStrategy(provider, account string, store *credentials.Store,
	request APIRequest, parse ParseFunc, client *http.Client, logger zerolog.Logger) *OAuthStrategy {
	if client == nil {
		client = &http.Client{Timeout: DefaultUsageTimeout}
	}
	return &OAuthStrategy{
		id:       provider + ":oauth",
		provider: provider,
		account:  account,
		store:    store,
		client:   client,
		request:  request,
		parse:    parse,
		logger:   logger,
	}
}

func (s *OAuthStrategy) ID() string { return s.id }

func (s *OAuthStrategy) Kind() Kind { return KindOAuth }

func (s *OAuthStrategy) Available(ctx context.Context) bool {
	return s.store.Available(ctx)
}

func (s *OAuthStrategy) Fetch(ctx context.Context) (*usage.Snapshot, error) {
	cred, err := s.store.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	body, err := s.do(ctx, cred)
	var upstream *UpstreamStatusError
	if errors.As(err, &upstream) && upstream.Unauthorized() {
		// The token looked usable but the API disagreed: refresh once and
		// retry. A second rejection means the grant itself is dead.
		s.logger.Debug().Int("status", upstream.Status).Msg("usage API rejected token, refreshing")
		refreshed, refreshErr := s.store.ForceRefresh(ctx)
		if refreshErr != nil {
			return nil, refreshErr
		}
		body, err = s.do(ctx, refreshed)
		if errors.As(err, &upstream) && upstream.Unauthorized() {
			return nil, &unauthorizedError{strategy: s.id, status: upstream.Status}
		}
	}
	if err != nil {
		return nil, err
	}

	snapshot, err := s.parse(body)
	if err != nil {
		return nil, &MalformedResponseError{Strategy: s.id, Err: err}
	}
	s.finalize(snapshot, cred)
	return snapshot, nil
}

func (s *OAuthStrategy) ShouldFallback(err error) bool {
	var malformed *MalformedResponseError
	return !errors.As(err, &malformed)
}

func (s *OAuthStrategy) do(ctx context.Context, cred *credentials.Credential) ([]byte, error) {
	if cred.AccessToken == "" {
		return nil, credentials.ErrCredentialNotFound
	}
	body, err := doUsageRequest(ctx, s.client, s.id, s.request, cred)
	return body, err
}

func (s *OAuthStrategy) finalize(snapshot *usage.Snapshot, cred *credentials.Credential) {
	snapshot.Provider = s.provider
	snapshot.Account = s.account
	snapshot.Source = string(KindOAuth)
	snapshot.FetchedAt = time.Now()
	if snapshot.Identity == (usage.Identity{}) {
		snapshot.Identity = usage.Identity{
			Email:     cred.Identity.Email,
			AccountID: cred.Identity.AccountID,
			Plan:      cred.Identity.Plan,
		}
	}
}

// doUsageRequest performs one authenticated usage-API call and returns
// the raw body. Non-2xx statuses come back as *UpstreamStatusError.
func doUsageRequest(ctx context.Context, client *http.Client, strategyID string,
	request APIRequest, cred *credentials.Credential) ([]byte, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	var reqBody io.Reader
	if len(request.Body) > 0 {
		reqBody = bytes.NewReader(request.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, request.URL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	if request.Headers != nil {
		for name, values := range request.Headers(cred) {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	}
	if req.Header.Get("Authorization") == "" && cred != nil {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read usage response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamStatusError{Strategy: strategyID, Status: resp.StatusCode}
	}
	return body, nil
}

// unauthorizedError is a post-refresh rejection from the usage API. It is
// terminal-equivalent: only re-authentication will help.
type unauthorizedError struct {
	strategy string
	status   int
}

func (e *unauthorizedError) Error() string {
	return fmt.Sprintf("%s: usage API still returns %d after refresh, re-authentication required", e.strategy, e.status)
}

func (e *unauthorizedError) TerminalAuth() bool { return true }

func (e *unauthorizedError) Remediation() string {
	return "re-run the provider's sign-in flow"
}
