package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/quotabar/internal/credentials"
)

// DefaultRefreshTimeout bounds one token-endpoint round trip.
const DefaultRefreshTimeout = 30 * time.Second

// Encoding selects the token request body format.
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingForm
)

// Endpoint describes one provider's OAuth token endpoint.
type Endpoint struct {
	TokenURL string
	ClientID string
	Scope    string
	Encoding Encoding
}

// Refresher exchanges refresh tokens at one endpoint, gated by a
// FailureGate. Implements credentials.Refresher.
type Refresher struct {
	endpoint Endpoint
	gate     *FailureGate
	client   *http.Client
	logger   zerolog.Logger

	mu                sync.Mutex
	terminalGrantSeen string
}

func NewRefresher(endpoint Endpoint, gate *FailureGate, client *http.Client, logger zerolog.Logger) *Refresher {
	if client == nil {
		client = &http.Client{Timeout: DefaultRefreshTimeout}
	}
	return &Refresher{
		endpoint: endpoint,
		gate:     gate,
		client:   client,
		logger:   logger,
	}
}

// Gate exposes the failure gate for diagnostics and explicit resets.
func (r *Refresher) Gate() *FailureGate { return r.gate }

// Refresh exchanges cred's refresh token for a new access token. The new
// credential carries the old refresh token unless the endpoint rotated
// it, and keeps the identity metadata of the credential it supersedes.
func (r *Refresher) Refresh(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	if !cred.IsRefreshable() {
		return nil, &Error{Kind: KindTerminal, Code: "no_refresh_token",
			Hint: "re-run the provider's sign-in flow"}
	}

	// A refresh token differing from the one that hit a terminal
	// rejection means the user re-authenticated out of band; the sticky
	// Terminal state no longer applies.
	r.mu.Lock()
	if r.terminalGrantSeen != "" && r.terminalGrantSeen != cred.RefreshToken {
		r.terminalGrantSeen = ""
		r.gate.Reset()
	}
	r.mu.Unlock()

	if !r.gate.ShouldAttempt() {
		return nil, &Error{Kind: KindSuppressed, Err: fmt.Errorf("refresh gate denied attempt")}
	}

	resp, err := r.post(ctx, cred.RefreshToken)
	if err != nil {
		r.gate.RecordTransientFailure()
		return nil, &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		r.gate.RecordTransientFailure()
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("read token response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Handled below.
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		var oauthErr tokenErrorBody
		_ = json.Unmarshal(body, &oauthErr)
		if terminalOAuthCodes[oauthErr.Error] {
			r.mu.Lock()
			r.terminalGrantSeen = cred.RefreshToken
			r.mu.Unlock()
			r.gate.RecordTerminalAuthFailure()
			r.logger.Warn().Str("code", oauthErr.Error).Msg("refresh token rejected, re-authentication required")
			return nil, &Error{Kind: KindTerminal, Code: oauthErr.Error,
				Hint: "re-run the provider's sign-in flow",
				Err:  fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
		}
		r.gate.RecordTransientFailure()
		return nil, &Error{Kind: KindTransient, Code: oauthErr.Error,
			Err: fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	default:
		r.gate.RecordTransientFailure()
		return nil, &Error{Kind: KindTransient,
			Err: fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		r.gate.RecordTransientFailure()
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tokenResp.AccessToken == "" {
		r.gate.RecordTransientFailure()
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("token response missing access_token")}
	}

	r.gate.RecordSuccess()

	newCred := &credentials.Credential{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: cred.RefreshToken,
		Identity:     cred.Identity,
		Scopes:       cred.Scopes,
	}
	if tokenResp.RefreshToken != "" {
		newCred.RefreshToken = tokenResp.RefreshToken
	}
	if tokenResp.ExpiresIn > 0 {
		newCred.ExpiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second).UnixMilli()
	}
	if tokenResp.Scope != "" {
		newCred.Scopes = strings.Fields(tokenResp.Scope)
	}
	return newCred, nil
}

func (r *Refresher) post(ctx context.Context, refreshToken string) (*http.Response, error) {
	var req *http.Request
	var err error
	switch r.endpoint.Encoding {
	case EncodingForm:
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
		form.Set("client_id", r.endpoint.ClientID)
		if r.endpoint.Scope != "" {
			form.Set("scope", r.endpoint.Scope)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		payload, merr := json.Marshal(TokenRequest{
			GrantType:    "refresh_token",
			RefreshToken: refreshToken,
			ClientID:     r.endpoint.ClientID,
			Scope:        r.endpoint.Scope,
		})
		if merr != nil {
			return nil, merr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint.TokenURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
	}
	return r.client.Do(req)
}
