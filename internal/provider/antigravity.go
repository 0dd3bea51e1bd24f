package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/fetch"
	"github.com/dvcrn/quotabar/internal/usage"
)

// antigravityProbe locates the Antigravity language-server port on
// loopback. The extension writes no stable port file, so discovery is
// environment-driven here; richer discovery (process scanning) can be
// swapped in behind fetch.ProbeResolver.
type antigravityProbe struct {
	portVar string
	csrfVar string
}

func (p antigravityProbe) Available() bool {
	return os.Getenv(p.portVar) != ""
}

func (p antigravityProbe) Resolve(_ context.Context) (fetch.APIRequest, error) {
	port := os.Getenv(p.portVar)
	if port == "" {
		return fetch.APIRequest{}, fmt.Errorf("antigravity port unknown")
	}
	csrf := os.Getenv(p.csrfVar)
	payload, err := json.Marshal(antigravityStatusRequest())
	if err != nil {
		return fetch.APIRequest{}, err
	}
	return fetch.APIRequest{
		URL:    fmt.Sprintf("http://127.0.0.1:%s/exa.language_server_pb.LanguageServerService/GetUserStatus", port),
		Method: http.MethodPost,
		Body:   payload,
		Headers: func(_ *credentials.Credential) http.Header {
			h := http.Header{}
			h.Set("Content-Type", "application/json")
			if csrf != "" {
				h.Set("X-Csrf-Token", csrf)
			}
			return h
		},
	}, nil
}

func antigravityStatusRequest() map[string]interface{} {
	return map[string]interface{}{
		"metadata": map[string]string{
			"api_version":       "1.0.0",
			"ide_name":          "VSCode",
			"ide_version":       "1.80.0",
			"extension_name":    "quotabar",
			"extension_version": "0.1.0",
		},
	}
}

type antigravityStatus struct {
	Response   *antigravityEnvelope  `json:"response"`
	UserStatus antigravityUserStatus `json:"userStatus"`
}

type antigravityEnvelope struct {
	UserStatus antigravityUserStatus `json:"userStatus"`
}

type antigravityUserStatus struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	PlanStatus struct {
		AvailablePromptCredits float64 `json:"availablePromptCredits"`
		PlanInfo               struct {
			MonthlyPromptCredits float64 `json:"monthlyPromptCredits"`
		} `json:"planInfo"`
	} `json:"planStatus"`
	CascadeModelConfigData struct {
		ClientModelConfigs []antigravityModelConfig `json:"clientModelConfigs"`
	} `json:"cascadeModelConfigData"`
}

type antigravityModelConfig struct {
	Label     string `json:"label"`
	QuotaInfo struct {
		RemainingFraction float64   `json:"remainingFraction"`
		ResetTime         time.Time `json:"resetTime"`
	} `json:"quotaInfo"`
}

func parseAntigravityUsage(body []byte) (*usage.Snapshot, error) {
	var parsed antigravityStatus
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	status := parsed.UserStatus
	if parsed.Response != nil {
		status = parsed.Response.UserStatus
	}
	snapshot := &usage.Snapshot{
		Identity: usage.Identity{Email: status.Email},
	}
	for _, cfg := range status.CascadeModelConfigData.ClientModelConfigs {
		snapshot.Windows = append(snapshot.Windows, usage.Window{
			Label:       cfg.Label,
			Utilization: clampFraction(1 - cfg.QuotaInfo.RemainingFraction),
			ResetsAt:    cfg.QuotaInfo.ResetTime,
		})
	}
	if monthly := status.PlanStatus.PlanInfo.MonthlyPromptCredits; monthly > 0 {
		snapshot.Windows = append(snapshot.Windows, usage.Window{
			Label:       "prompt_credits",
			Utilization: clampFraction(1 - status.PlanStatus.AvailablePromptCredits/monthly),
		})
	}
	if len(snapshot.Windows) == 0 {
		return nil, fmt.Errorf("response carries no quota info")
	}
	return snapshot, nil
}

func antigravityProvider() *Provider {
	return &Provider{
		Name:       "antigravity",
		EnvVar:     "QUOTABAR_ANTIGRAVITY_TOKEN",
		ParseUsage: parseAntigravityUsage,
		Probe: antigravityProbe{
			portVar: "QUOTABAR_ANTIGRAVITY_PORT",
			csrfVar: "QUOTABAR_ANTIGRAVITY_CSRF",
		},
		Strategies: []fetch.Kind{fetch.KindLocalProbe},
	}
}
