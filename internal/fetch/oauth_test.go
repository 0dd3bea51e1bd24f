package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/usage"
)

type countingRefresher struct {
	calls int32
	cred  *credentials.Credential
	err   error
}

func (r *countingRefresher) Refresh(context.Context, *credentials.Credential) (*credentials.Credential, error) {
	atomic.AddInt32(&r.calls, 1)
	return r.cred, r.err
}

func seededStore(t *testing.T, cred *credentials.Credential, refresher credentials.Refresher) *credentials.Store {
	t.Helper()
	cache := credentials.NewMemoryTier()
	require.NoError(t, cache.Store(context.Background(), credentials.Key{Provider: "demo"},
		&credentials.CacheEntry{Credential: *cred, StoredAt: time.Now()}))
	return credentials.NewStore(credentials.StoreConfig{
		Key: credentials.Key{Provider: "demo"},
	}, credentials.Deps{
		Cache:     cache,
		Refresher: refresher,
		Logger:    zerolog.Nop(),
	})
}

func validCred(token string) *credentials.Credential {
	return &credentials.Credential{
		AccessToken:  token,
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
		Identity:     credentials.Identity{Email: "u@example.com", Plan: "pro"},
	}
}

func parseTestUsage(body []byte) (*usage.Snapshot, error) {
	var payload struct {
		Used float64 `json:"used"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &usage.Snapshot{
		Windows: []usage.Window{{Label: "primary", Utilization: payload.Used}},
	}, nil
}

func TestOAuthStrategyFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"used":0.25}`))
	}))
	defer srv.Close()

	store := seededStore(t, validCred("token-1"), nil)
	strat := NewOAuthStrategy("demo", "", store, APIRequest{URL: srv.URL},
		parseTestUsage, srv.Client(), zerolog.Nop())

	snapshot, err := strat.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", snapshot.Provider)
	assert.Equal(t, string(KindOAuth), snapshot.Source)
	assert.Equal(t, "u@example.com", snapshot.Identity.Email)
	require.Len(t, snapshot.Windows, 1)
	assert.InDelta(t, 0.25, snapshot.Windows[0].Utilization, 1e-9)
	assert.False(t, snapshot.FetchedAt.IsZero())
}

func TestOAuthStrategyRefreshesOnUnauthorized(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		w.Write([]byte(`{"used":0.5}`))
	}))
	defer srv.Close()

	refresher := &countingRefresher{cred: validCred("token-2")}
	store := seededStore(t, validCred("token-1"), refresher)
	strat := NewOAuthStrategy("demo", "", store, APIRequest{URL: srv.URL},
		parseTestUsage, srv.Client(), zerolog.Nop())

	snapshot, err := strat.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Windows, 1)
	assert.InDelta(t, 0.5, snapshot.Windows[0].Utilization, 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refresher.calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestOAuthStrategyStillUnauthorizedAfterRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refresher := &countingRefresher{cred: validCred("token-2")}
	store := seededStore(t, validCred("token-1"), refresher)
	strat := NewOAuthStrategy("demo", "", store, APIRequest{URL: srv.URL},
		parseTestUsage, srv.Client(), zerolog.Nop())

	_, err := strat.Fetch(context.Background())
	require.Error(t, err)
	// A rejection that survives a refresh means the grant is dead.
	assert.True(t, credentials.IsTerminalAuth(err))
	assert.True(t, strat.ShouldFallback(err))
}

func TestOAuthStrategyMalformedResponseNeverFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	store := seededStore(t, validCred("token-1"), nil)
	strat := NewOAuthStrategy("demo", "", store, APIRequest{URL: srv.URL},
		parseTestUsage, srv.Client(), zerolog.Nop())

	_, err := strat.Fetch(context.Background())
	require.Error(t, err)

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.False(t, strat.ShouldFallback(err))
}

func TestOAuthStrategyUpstreamErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := seededStore(t, validCred("token-1"), nil)
	strat := NewOAuthStrategy("demo", "", store, APIRequest{URL: srv.URL},
		parseTestUsage, srv.Client(), zerolog.Nop())

	_, err := strat.Fetch(context.Background())
	require.Error(t, err)

	var upstream *UpstreamStatusError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadGateway, upstream.Status)
	assert.True(t, strat.ShouldFallback(err))
}

func TestOAuthStrategyCustomHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acct-1", r.Header.Get("x-account-id"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"used":0.1}`))
	}))
	defer srv.Close()

	cred := validCred("token-1")
	cred.Identity.AccountID = "acct-1"
	store := seededStore(t, cred, nil)
	request := APIRequest{
		URL: srv.URL,
		Headers: func(c *credentials.Credential) http.Header {
			h := http.Header{}
			h.Set("x-account-id", c.Identity.AccountID)
			return h
		},
	}
	strat := NewOAuthStrategy("demo", "", store, request, parseTestUsage, srv.Client(), zerolog.Nop())

	_, err := strat.Fetch(context.Background())
	require.NoError(t, err)
}
