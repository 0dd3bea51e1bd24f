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
	claudeTokenURL       = "https://console.anthropic.com/v1/oauth/token"
	claudeClientID       = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	claudeUsageURL       = "https://api.anthropic.com/api/oauth/usage"
	claudeKeyringService = "Claude Code-credentials"
	claudeKeyringAccount = "claude-code"
)

// claudeCredentialFile wraps tokens in the claudeAiOauth envelope, both
// in the keychain item and in ~/.claude/.credentials.json.
type claudeCredentialFile struct {
	ClaudeAiOauth struct {
		AccessToken      string   `json:"accessToken"`
		RefreshToken     string   `json:"refreshToken"`
		ExpiresAt        int64    `json:"expiresAt"`
		Scopes           []string `json:"scopes"`
		SubscriptionType string   `json:"subscriptionType,omitempty"`
	} `json:"claudeAiOauth"`
}

func decodeClaudeBlob(b []byte) (*credentials.Credential, error) {
	var f claudeCredentialFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &credentials.Credential{
		AccessToken:  f.ClaudeAiOauth.AccessToken,
		RefreshToken: f.ClaudeAiOauth.RefreshToken,
		ExpiresAt:    f.ClaudeAiOauth.ExpiresAt,
		Scopes:       f.ClaudeAiOauth.Scopes,
		Identity:     credentials.Identity{Plan: f.ClaudeAiOauth.SubscriptionType},
	}, nil
}

func encodeClaudeBlob(cred *credentials.Credential) ([]byte, error) {
	var f claudeCredentialFile
	f.ClaudeAiOauth.AccessToken = cred.AccessToken
	f.ClaudeAiOauth.RefreshToken = cred.RefreshToken
	f.ClaudeAiOauth.ExpiresAt = cred.ExpiresAt
	f.ClaudeAiOauth.Scopes = cred.Scopes
	f.ClaudeAiOauth.SubscriptionType = cred.Identity.Plan
	return json.Marshal(f)
}

type claudeUsageResponse struct {
	FiveHour *claudeUsageWindow `json:"five_hour"`
	SevenDay *claudeUsageWindow `json:"seven_day"`
}

type claudeUsageWindow struct {
	Utilization float64   `json:"utilization"`
	ResetsAt    time.Time `json:"resets_at"`
}

func parseClaudeUsage(body []byte) (*usage.Snapshot, error) {
	var resp claudeUsageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.FiveHour == nil && resp.SevenDay == nil {
		return nil, fmt.Errorf("response carries no usage windows")
	}
	snapshot := &usage.Snapshot{}
	if w := resp.FiveHour; w != nil {
		snapshot.Windows = append(snapshot.Windows, usage.Window{
			Label:       "five_hour",
			Utilization: w.Utilization,
			ResetsAt:    w.ResetsAt,
		})
	}
	if w := resp.SevenDay; w != nil {
		snapshot.Windows = append(snapshot.Windows, usage.Window{
			Label:       "seven_day",
			Utilization: w.Utilization,
			ResetsAt:    w.ResetsAt,
		})
	}
	return snapshot, nil
}

func claudeProvider() *Provider {
	return &Provider{
		Name:   "claude",
		EnvVar: "QUOTABAR_CLAUDE_TOKEN",
		Token: auth.Endpoint{
			TokenURL: claudeTokenURL,
			ClientID: claudeClientID,
			Encoding: auth.EncodingJSON,
		},
		Usage: fetch.APIRequest{
			URL: claudeUsageURL,
			Headers: func(cred *credentials.Credential) http.Header {
				h := bearerHeaders(map[string]string{
					"anthropic-beta": "oauth-2025-04-20",
				})(cred)
				return h
			},
		},
		ParseUsage:     parseClaudeUsage,
		ConfigFile:     "~/.claude/.credentials.json",
		DecodeConfig:   decodeClaudeBlob,
		KeyringService: claudeKeyringService,
		KeyringAccount: claudeKeyringAccount,
		DecodeKeyring:  decodeClaudeBlob,
		EncodeKeyring:  encodeClaudeBlob,
		Strategies:     []fetch.Kind{fetch.KindOAuth, fetch.KindCLI},
		CLIBinary:      "claude",
		CLIArgs:        []string{"usage", "--json"},
		ParseCLI:       parseClaudeUsage,
	}
}
