package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/quotabar/internal/credentials"
)

func newTestRefresher(t *testing.T, handler http.HandlerFunc) (*Refresher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gate := NewFailureGate(FailureGateConfig{BackoffBase: time.Millisecond, BackoffCap: 10 * time.Millisecond})
	r := NewRefresher(Endpoint{
		TokenURL: srv.URL,
		ClientID: "client-123",
	}, gate, srv.Client(), zerolog.Nop())
	return r, srv
}

func refreshableCred() *credentials.Credential {
	return &credentials.Credential{
		AccessToken:  "old-at",
		RefreshToken: "rt-1",
		Identity:     credentials.Identity{Email: "u@example.com"},
	}
}

func TestRefresherSuccess(t *testing.T) {
	var gotBody TokenRequest
	refresher, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "new-at",
			ExpiresIn:   3600,
			Scope:       "openid profile",
		})
	})

	cred, err := refresher.Refresh(context.Background(), refreshableCred())
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotBody.GrantType)
	assert.Equal(t, "rt-1", gotBody.RefreshToken)
	assert.Equal(t, "client-123", gotBody.ClientID)

	assert.Equal(t, "new-at", cred.AccessToken)
	// The endpoint did not rotate the refresh token, so the old one is
	// carried forward.
	assert.Equal(t, "rt-1", cred.RefreshToken)
	assert.Equal(t, "u@example.com", cred.Identity.Email)
	assert.Equal(t, []string{"openid", "profile"}, cred.Scopes)
	assert.Greater(t, cred.ExpiresAt, time.Now().UnixMilli())
}

func TestRefresherRotatedRefreshToken(t *testing.T) {
	refresher, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "new-at",
			RefreshToken: "rt-2",
		})
	})

	cred, err := refresher.Refresh(context.Background(), refreshableCred())
	require.NoError(t, err)
	assert.Equal(t, "rt-2", cred.RefreshToken)
}

func TestRefresherInvalidGrantIsTerminal(t *testing.T) {
	refresher, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	})

	_, err := refresher.Refresh(context.Background(), refreshableCred())
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindTerminal, authErr.Kind)
	assert.Equal(t, "invalid_grant", authErr.Code)
	assert.True(t, credentials.IsTerminalAuth(err))

	// The gate is now terminal: further attempts are suppressed.
	_, err = refresher.Refresh(context.Background(), refreshableCred())
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindSuppressed, authErr.Kind)
}

func TestRefresherNewGrantClearsTerminalState(t *testing.T) {
	calls := 0
	refresher, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "token_revoked"})
			return
		}
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: "new-at"})
	})

	_, err := refresher.Refresh(context.Background(), refreshableCred())
	require.Error(t, err)
	assert.False(t, refresher.Gate().ShouldAttempt())

	// The user re-authenticated out of band: the credential now carries a
	// different refresh token, which lifts the sticky terminal state.
	fresh := refreshableCred()
	fresh.RefreshToken = "rt-after-relogin"
	cred, err := refresher.Refresh(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, "new-at", cred.AccessToken)
}

func TestRefresherServerErrorIsTransient(t *testing.T) {
	refresher, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := refresher.Refresh(context.Background(), refreshableCred())
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindTransient, authErr.Kind)
	assert.False(t, credentials.IsTerminalAuth(err))
	assert.Equal(t, 1, refresher.Gate().State().ConsecutiveFailures)
}

func TestRefresherMissingAccessTokenIsTransient(t *testing.T) {
	refresher, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenResponse{})
	})

	_, err := refresher.Refresh(context.Background(), refreshableCred())
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindTransient, authErr.Kind)
}

func TestRefresherWithoutRefreshToken(t *testing.T) {
	refresher, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called")
	})

	_, err := refresher.Refresh(context.Background(), &credentials.Credential{AccessToken: "at"})
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindTerminal, authErr.Kind)
	assert.Equal(t, "no_refresh_token", authErr.Code)
}

func TestRefresherFormEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: "new-at"})
	}))
	defer srv.Close()

	gate := NewFailureGate(FailureGateConfig{})
	refresher := NewRefresher(Endpoint{
		TokenURL: srv.URL,
		ClientID: "client-123",
		Encoding: EncodingForm,
	}, gate, srv.Client(), zerolog.Nop())

	cred, err := refresher.Refresh(context.Background(), refreshableCred())
	require.NoError(t, err)
	assert.Equal(t, "new-at", cred.AccessToken)
}
