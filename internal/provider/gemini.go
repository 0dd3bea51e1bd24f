package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dvcrn/quotabar/internal/auth"
	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/fetch"
	"github.com/dvcrn/quotabar/internal/usage"
)

const (
	googleTokenURL = "https://oauth2.googleapis.com/token"
	geminiClientID = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	cloudCodeURL   = "https://cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels"
)

// geminiOAuthFile is the schema of ~/.gemini/oauth_creds.json.
type geminiOAuthFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiryDate   int64  `json:"expiry_date,omitempty"` // unix millis
}

func decodeGeminiConfig(b []byte) (*credentials.Credential, error) {
	var f geminiOAuthFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &credentials.Credential{
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		ExpiresAt:    f.ExpiryDate,
	}, nil
}

// cloudCodeModels is the subset of the Cloud Code models response that
// carries per-model quota fractions.
type cloudCodeModels struct {
	Models []struct {
		Model     string `json:"model"`
		QuotaInfo *struct {
			RemainingFraction float64   `json:"remainingFraction"`
			ResetTime         time.Time `json:"resetTime"`
		} `json:"quotaInfo"`
	} `json:"models"`
}

func parseCloudCodeUsage(body []byte) (*usage.Snapshot, error) {
	var resp cloudCodeModels
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	snapshot := &usage.Snapshot{}
	for _, m := range resp.Models {
		if m.QuotaInfo == nil {
			continue
		}
		snapshot.Windows = append(snapshot.Windows, usage.Window{
			Label:       m.Model,
			Utilization: clampFraction(1 - m.QuotaInfo.RemainingFraction),
			ResetsAt:    m.QuotaInfo.ResetTime,
		})
	}
	if len(snapshot.Windows) == 0 {
		return nil, fmt.Errorf("response carries no quota info")
	}
	return snapshot, nil
}

func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// adcImporter decodes gcloud's application-default-credentials file. The
// file belongs to gcloud, not to us, so it is read-only and any surprise
// in its shape is a plain "not available".
type adcImporter struct {
	path string
}

type adcFile struct {
	Type         string `json:"type"`
	RefreshToken string `json:"refresh_token"`
}

func (i adcImporter) Import(_ context.Context) (*credentials.Credential, error) {
	b, err := os.ReadFile(credentials.ExpandHome(i.path))
	if err != nil {
		return nil, credentials.ErrImportUnavailable
	}
	var f adcFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", credentials.ErrImportUnavailable, err)
	}
	if f.Type != "authorized_user" || f.RefreshToken == "" {
		return nil, credentials.ErrImportUnavailable
	}
	return &credentials.Credential{RefreshToken: f.RefreshToken}, nil
}

func geminiProvider() *Provider {
	return &Provider{
		Name:   "gemini",
		EnvVar: "QUOTABAR_GEMINI_TOKEN",
		Token: auth.Endpoint{
			TokenURL: googleTokenURL,
			ClientID: geminiClientID,
			Encoding: auth.EncodingForm,
		},
		Usage: fetch.APIRequest{
			URL:     cloudCodeURL,
			Method:  "POST",
			Body:    []byte("{}"),
			Headers: bearerHeaders(map[string]string{"Content-Type": "application/json"}),
		},
		ParseUsage:   parseCloudCodeUsage,
		ConfigFile:   "~/.gemini/oauth_creds.json",
		DecodeConfig: decodeGeminiConfig,
		Importer:     adcImporter{path: "~/.config/gcloud/application_default_credentials.json"},
		Strategies:   []fetch.Kind{fetch.KindOAuth, fetch.KindCLI, fetch.KindLocalImport},
		CLIBinary:    "gemini",
		CLIArgs:      []string{"usage", "--output", "json"},
		ParseCLI:     parseCloudCodeUsage,
	}
}
