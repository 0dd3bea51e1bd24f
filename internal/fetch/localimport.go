package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/usage"
)

// LocalImportStrategy decodes a sibling application's on-disk state into
// a credential and calls the usage API with it. Last in line: the format
// is fragile and owned by someone else.
type LocalImportStrategy struct {
	id       string
	provider string
	account  string
	importer credentials.LocalImporter
	client   *http.Client
	request  APIRequest
	parse    ParseFunc
	logger   zerolog.Logger
}

func NewLocalImportStrategy(provider, account string, importer credentials.LocalImporter,
	request APIRequest, parse ParseFunc, client *http.Client, logger zerolog.Logger) *LocalImportStrategy {
	if client == nil {
		client = &http.Client{Timeout: DefaultUsageTimeout}
	}
	return &LocalImportStrategy{
		id:       provider + ":local-import",
		provider: provider,
		account:  account,
		importer: importer,
		client:   client,
		request:  request,
		parse:    parse,
		logger:   logger,
	}
}

func (s *LocalImportStrategy) ID() string { return s.id }

func (s *LocalImportStrategy) Kind() Kind { return KindLocalImport }

// Available is optimistic: whether the sibling application's state exists
// is only known once the importer runs, and running it is not cheap
// enough for an availability check.
func (s *LocalImportStrategy) Available(_ context.Context) bool {
	return s.importer != nil
}

func (s *LocalImportStrategy) Fetch(ctx context.Context) (*usage.Snapshot, error) {
	cred, err := s.importer.Import(ctx)
	if err != nil {
		return nil, err
	}
	if !cred.Valid() || cred.AccessToken == "" {
		return nil, credentials.ErrCredentialNotFound
	}
	body, err := doUsageRequest(ctx, s.client, s.id, s.request, cred)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.parse(body)
	if err != nil {
		return nil, &MalformedResponseError{Strategy: s.id, Err: err}
	}
	snapshot.Provider = s.provider
	snapshot.Account = s.account
	snapshot.Source = string(KindLocalImport)
	snapshot.FetchedAt = time.Now()
	return snapshot, nil
}

func (s *LocalImportStrategy) ShouldFallback(err error) bool {
	var malformed *MalformedResponseError
	return !errors.As(err, &malformed)
}
