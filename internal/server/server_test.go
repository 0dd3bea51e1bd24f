package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/quotabar/internal/fetch"
	"github.com/dvcrn/quotabar/internal/usage"
)

type fakeFetcher struct {
	outcomes map[string]fetch.Outcome
}

func (f *fakeFetcher) Providers() []string {
	return []string{"claude", "codex"}
}

func (f *fakeFetcher) FetchOne(_ context.Context, name string) (fetch.Outcome, error) {
	outcome, ok := f.outcomes[name]
	if !ok {
		return fetch.Outcome{}, errors.New("unknown provider " + name)
	}
	return outcome, nil
}

func (f *fakeFetcher) FetchAll(context.Context) map[string]fetch.Outcome {
	return f.outcomes
}

func newTestServer() *Server {
	return New(zerolog.Nop(), &fakeFetcher{
		outcomes: map[string]fetch.Outcome{
			"codex": {
				Snapshot: &usage.Snapshot{
					Provider: "codex",
					Windows:  []usage.Window{{Label: "primary", Utilization: 0.3}},
				},
				Attempts: []fetch.AttemptRecord{
					{StrategyID: "codex:oauth", Kind: fetch.KindOAuth, WasAvailable: true},
				},
			},
			"claude": {
				Err: fetch.ErrNoStrategy,
				Attempts: []fetch.AttemptRecord{
					{StrategyID: "claude:oauth", Kind: fetch.KindOAuth},
				},
			},
		},
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestProvidersEndpoint(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"claude", "codex"}, body["providers"])
}

func TestUsageEndpoint(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []usageResponse `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)

	assert.Equal(t, "claude", body.Results[0].Provider)
	assert.NotEmpty(t, body.Results[0].Error)
	assert.Nil(t, body.Results[0].Outcome.Snapshot)

	assert.Equal(t, "codex", body.Results[1].Provider)
	assert.Empty(t, body.Results[1].Error)
	require.NotNil(t, body.Results[1].Outcome.Snapshot)
	assert.Len(t, body.Results[1].Outcome.Attempts, 1)
}

func TestUsageProviderEndpoint(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage/codex", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body usageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "codex", body.Provider)
	require.NotNil(t, body.Outcome.Snapshot)
	assert.InDelta(t, 0.3, body.Outcome.Snapshot.Windows[0].Utilization, 1e-9)
}

func TestUsageProviderEndpointFailedFetch(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage/claude", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body usageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
}

func TestUsageProviderEndpointUnknown(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsageEndpointMethodNotAllowed(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/usage", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNotFound(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
