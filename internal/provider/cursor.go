package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/dvcrn/quotabar/internal/fetch"
	"github.com/dvcrn/quotabar/internal/usage"
)

const cursorUsageURL = "https://cursor.com/api/usage"

// envSessionSource feeds a dashboard cookie from the environment. Real
// browser-cookie extraction is an external collaborator behind
// fetch.SessionSource.
type envSessionSource struct {
	cookieVar string
}

func (s envSessionSource) Available() bool {
	return os.Getenv(s.cookieVar) != ""
}

func (s envSessionSource) SessionHeaders(_ context.Context) (http.Header, error) {
	cookie := os.Getenv(s.cookieVar)
	if cookie == "" {
		return nil, fmt.Errorf("no session cookie configured")
	}
	h := http.Header{}
	h.Set("Cookie", cookie)
	return h, nil
}

type cursorUsageResponse map[string]struct {
	NumRequests      int64 `json:"numRequests"`
	MaxRequestUsage  int64 `json:"maxRequestUsage"`
	NumTokens        int64 `json:"numTokens"`
	MaxTokenUsage    int64 `json:"maxTokenUsage"`
	StartOfMonthUnix int64 `json:"startOfMonth,omitempty"`
}

func parseCursorUsage(body []byte) (*usage.Snapshot, error) {
	var resp cursorUsageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	snapshot := &usage.Snapshot{}
	for model, counts := range resp {
		if counts.MaxRequestUsage <= 0 {
			continue
		}
		snapshot.Windows = append(snapshot.Windows, usage.Window{
			Label:       model,
			Utilization: clampFraction(float64(counts.NumRequests) / float64(counts.MaxRequestUsage)),
		})
	}
	if len(snapshot.Windows) == 0 {
		return nil, fmt.Errorf("response carries no request limits")
	}
	return snapshot, nil
}

func cursorProvider() *Provider {
	return &Provider{
		Name:   "cursor",
		EnvVar: "QUOTABAR_CURSOR_TOKEN",
		Dashboard: fetch.APIRequest{
			URL: cursorUsageURL,
		},
		ParseDashboard: parseCursorUsage,
		Session:        envSessionSource{cookieVar: "QUOTABAR_CURSOR_COOKIE"},
		Strategies:     []fetch.Kind{fetch.KindCookie},
	}
}
