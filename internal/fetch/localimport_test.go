package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/quotabar/internal/credentials"
)

type fakeImporter struct {
	cred *credentials.Credential
	err  error
}

func (f *fakeImporter) Import(context.Context) (*credentials.Credential, error) {
	return f.cred, f.err
}

func TestLocalImportStrategyFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer imported-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"used":0.35}`))
	}))
	defer srv.Close()

	importer := &fakeImporter{cred: &credentials.Credential{AccessToken: "imported-token"}}
	strat := NewLocalImportStrategy("demo", "", importer, APIRequest{URL: srv.URL},
		parseTestUsage, srv.Client(), zerolog.Nop())

	assert.True(t, strat.Available(context.Background()))
	snapshot, err := strat.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(KindLocalImport), snapshot.Source)
}

func TestLocalImportStrategyUnavailableState(t *testing.T) {
	importer := &fakeImporter{err: credentials.ErrImportUnavailable}
	strat := NewLocalImportStrategy("demo", "", importer, APIRequest{},
		parseTestUsage, nil, zerolog.Nop())

	_, err := strat.Fetch(context.Background())
	assert.ErrorIs(t, err, credentials.ErrImportUnavailable)
	assert.True(t, strat.ShouldFallback(err))
}

func TestLocalImportStrategyNilImporterUnavailable(t *testing.T) {
	strat := NewLocalImportStrategy("demo", "", nil, APIRequest{},
		parseTestUsage, nil, zerolog.Nop())
	assert.False(t, strat.Available(context.Background()))
}
