package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/fetch"
)

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"antigravity", "claude", "codex", "cursor", "gemini"}, r.Names())
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()

	p, err := r.Get("codex")
	require.NoError(t, err)
	assert.Equal(t, "codex", p.Name)

	_, err = r.Get("nope")
	assert.Error(t, err)
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	r.Register(&Provider{Name: "custom"})

	p, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Name)
	assert.Contains(t, r.Names(), "custom")
}

func TestEveryProviderDeclaresStrategies(t *testing.T) {
	r := NewRegistry()
	for _, name := range r.Names() {
		p, err := r.Get(name)
		require.NoError(t, err)
		assert.NotEmpty(t, p.Strategies, "provider %s has no strategies", name)
		for _, kind := range p.Strategies {
			switch kind {
			case fetch.KindOAuth:
				assert.NotEmpty(t, p.Usage.URL, "provider %s oauth strategy without usage URL", name)
				assert.NotNil(t, p.ParseUsage, "provider %s oauth strategy without parser", name)
			case fetch.KindCLI:
				assert.NotEmpty(t, p.CLIBinary, "provider %s cli strategy without binary", name)
				assert.NotNil(t, p.ParseCLI, "provider %s cli strategy without parser", name)
			case fetch.KindCookie:
				assert.NotNil(t, p.Session, "provider %s cookie strategy without session source", name)
				assert.NotNil(t, p.ParseDashboard, "provider %s cookie strategy without parser", name)
			case fetch.KindLocalProbe:
				assert.NotNil(t, p.Probe, "provider %s probe strategy without resolver", name)
			case fetch.KindLocalImport:
				assert.NotNil(t, p.Importer, "provider %s import strategy without importer", name)
			}
		}
	}
}

func TestBearerHeaders(t *testing.T) {
	headers := bearerHeaders(map[string]string{"x-extra": "1"})

	h := headers(&credentials.Credential{AccessToken: "tok"})
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
	assert.Equal(t, "1", h.Get("x-extra"))

	h = headers(nil)
	assert.Empty(t, h.Get("Authorization"))
	assert.Equal(t, "1", h.Get("x-extra"))
}
