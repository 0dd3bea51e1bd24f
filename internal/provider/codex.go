package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dvcrn/quotabar/internal/auth"
	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/fetch"
	"github.com/dvcrn/quotabar/internal/usage"
)

const (
	codexTokenURL = "https://auth.openai.com/oauth/token"
	codexClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
	codexUsageURL = "https://chatgpt.com/backend-api/wham/usage"
)

// codexAuthFile is the schema of ~/.codex/auth.json.
type codexAuthFile struct {
	Tokens struct {
		IDToken      string `json:"id_token"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		AccountID    string `json:"account_id"`
		ExpiresAt    int64  `json:"expiresAt,omitempty"`
	} `json:"tokens"`
}

func decodeCodexConfig(b []byte) (*credentials.Credential, error) {
	var a codexAuthFile
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	token := a.Tokens.AccessToken
	if token == "" {
		token = a.Tokens.IDToken
	}
	return &credentials.Credential{
		AccessToken:  token,
		RefreshToken: a.Tokens.RefreshToken,
		ExpiresAt:    a.Tokens.ExpiresAt,
		Identity:     credentials.Identity{AccountID: a.Tokens.AccountID},
	}, nil
}

type codexUsageResponse struct {
	RateLimits struct {
		Primary   *codexRateWindow `json:"primary"`
		Secondary *codexRateWindow `json:"secondary"`
	} `json:"rate_limits"`
	PlanType string `json:"plan_type,omitempty"`
}

type codexRateWindow struct {
	UsedPercent    float64 `json:"used_percent"`
	WindowMinutes  int64   `json:"window_minutes"`
	ResetsInSecond int64   `json:"resets_in_seconds"`
}

func parseCodexUsage(body []byte) (*usage.Snapshot, error) {
	var resp codexUsageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.RateLimits.Primary == nil && resp.RateLimits.Secondary == nil {
		return nil, fmt.Errorf("response carries no rate limit windows")
	}
	snapshot := &usage.Snapshot{Identity: usage.Identity{Plan: resp.PlanType}}
	for _, entry := range []struct {
		label string
		w     *codexRateWindow
	}{
		{"primary", resp.RateLimits.Primary},
		{"secondary", resp.RateLimits.Secondary},
	} {
		label, w := entry.label, entry.w
		if w == nil {
			continue
		}
		window := usage.Window{
			Label:       label,
			Utilization: w.UsedPercent / 100,
		}
		if w.ResetsInSecond > 0 {
			window.ResetsAt = time.Now().Add(time.Duration(w.ResetsInSecond) * time.Second)
		}
		snapshot.Windows = append(snapshot.Windows, window)
	}
	return snapshot, nil
}

func codexProvider() *Provider {
	return &Provider{
		Name:   "codex",
		EnvVar: "QUOTABAR_CODEX_TOKEN",
		Token: auth.Endpoint{
			TokenURL: codexTokenURL,
			ClientID: codexClientID,
			Scope:    "openid profile email",
			Encoding: auth.EncodingJSON,
		},
		// Codex access tokens live long but ChatGPT rotates aggressively.
		RefreshBuffer: 60 * time.Minute,
		Usage: fetch.APIRequest{
			URL: codexUsageURL,
			Headers: func(cred *credentials.Credential) http.Header {
				h := bearerHeaders(nil)(cred)
				if cred != nil && cred.Identity.AccountID != "" {
					h.Set("chatgpt-account-id", cred.Identity.AccountID)
				}
				return h
			},
		},
		ParseUsage:   parseCodexUsage,
		ConfigFile:   "~/.codex/auth.json",
		DecodeConfig: decodeCodexConfig,
		Strategies:   []fetch.Kind{fetch.KindOAuth},
	}
}
