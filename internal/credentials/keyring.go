package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// CandidateRef is cheap metadata about one secure-store entry, gathered
// without reading the secret itself.
type CandidateRef struct {
	Account     string
	ModifiedAt  int64
	CreatedAt   int64
	ContentHash string
}

// SecureStore is the contract an OS credential store must satisfy. Find
// may surface an interactive authorization prompt depending on platform
// policy; ListCandidates must never prompt and returns whatever metadata
// the backend exposes cheaply, possibly none.
type SecureStore interface {
	Find(ctx context.Context, service, account string) ([]byte, error)
	Store(ctx context.Context, service, account string, blob []byte) error
	Delete(ctx context.Context, service, account string) error
	ListCandidates(ctx context.Context, service string) ([]CandidateRef, error)
}

// keyringStore backs SecureStore with the system keyring via
// zalando/go-keyring (Keychain, Secret Service, Credential Manager).
type keyringStore struct{}

// NewKeyringStore returns the default OS-backed secure store.
func NewKeyringStore() SecureStore {
	return keyringStore{}
}

func (keyringStore) Find(_ context.Context, service, account string) ([]byte, error) {
	data, err := keyring.Get(service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		// Anything else from the keyring layer (locked collection, user
		// cancellation, missing DBus service) counts as a denial signal.
		return nil, fmt.Errorf("%w: %v", ErrSecureStoreDenied, err)
	}
	return []byte(data), nil
}

func (keyringStore) Store(_ context.Context, service, account string, blob []byte) error {
	if err := keyring.Set(service, account, string(blob)); err != nil {
		return fmt.Errorf("%w: %v", ErrSecureStoreDenied, err)
	}
	return nil
}

func (keyringStore) Delete(_ context.Context, service, account string) error {
	if err := keyring.Delete(service, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrSecureStoreDenied, err)
	}
	return nil
}

// ListCandidates returns no metadata: the keyring API offers no way to
// enumerate entries without reading them, and reading can prompt. Change
// detection for this tier falls back to cache TTL expiry.
func (keyringStore) ListCandidates(context.Context, string) ([]CandidateRef, error) {
	return nil, nil
}

// SecureSource adapts a SecureStore entry into a credential tier. Every
// Find goes through the prompt gate so a denied store cannot storm the
// user with authorization dialogs.
type SecureSource struct {
	store   SecureStore
	gate    *PromptGate
	service string
	account string
	decode  func([]byte) (*Credential, error)
	encode  func(*Credential) ([]byte, error)
}

// NewSecureSource builds a gated secure-store tier. decode and encode are
// provider-specific because stores hold provider-shaped blobs (e.g. the
// Claude keychain item wraps tokens in a claudeAiOauth envelope). A nil
// encode makes the source read-only.
func NewSecureSource(store SecureStore, gate *PromptGate, service, account string,
	decode func([]byte) (*Credential, error), encode func(*Credential) ([]byte, error)) *SecureSource {
	return &SecureSource{
		store:   store,
		gate:    gate,
		service: service,
		account: account,
		decode:  decode,
		encode:  encode,
	}
}

func (s *SecureSource) Name() string { return "secure-store" }

func (s *SecureSource) Load(ctx context.Context) (*Credential, error) {
	if !s.gate.ShouldAllowPrompt() {
		return nil, fmt.Errorf("%w: prompt cooldown active", ErrSecureStoreDenied)
	}
	blob, err := s.store.Find(ctx, s.service, s.account)
	if err != nil {
		if errors.Is(err, ErrSecureStoreDenied) {
			s.gate.RecordDenied()
		}
		return nil, err
	}
	cred, err := s.decode(blob)
	if err != nil {
		return nil, &DecodeError{Tier: s.Name(), Err: err}
	}
	if !cred.Valid() {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

// Acquirable reports whether a resolve could plausibly obtain a
// credential from this source: the backend exposes matching entries, or
// the prompt gate would currently allow a Find. Never reads a secret.
func (s *SecureSource) Acquirable(ctx context.Context) bool {
	candidates, err := s.store.ListCandidates(ctx, s.service)
	if err == nil && len(candidates) > 0 {
		return true
	}
	return s.gate.ShouldAllowPrompt()
}

// Fingerprint uses ListCandidates only; it never calls Find and therefore
// never prompts, regardless of gate state.
func (s *SecureSource) Fingerprint(ctx context.Context) (Fingerprint, error) {
	candidates, err := s.store.ListCandidates(ctx, s.service)
	if err != nil || len(candidates) == 0 {
		return Fingerprint{}, nil
	}
	for _, c := range candidates {
		if c.Account == s.account || s.account == "" {
			return Fingerprint{
				ModifiedAt:  c.ModifiedAt,
				CreatedAt:   c.CreatedAt,
				ContentHash: c.ContentHash,
			}, nil
		}
	}
	return Fingerprint{}, nil
}

func (s *SecureSource) Store(ctx context.Context, cred *Credential) error {
	if s.encode == nil {
		return fmt.Errorf("secure source for %s is read-only", s.service)
	}
	blob, err := s.encode(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := s.store.Store(ctx, s.service, s.account, blob); err != nil {
		if errors.Is(err, ErrSecureStoreDenied) {
			s.gate.RecordDenied()
		}
		return err
	}
	return nil
}

func (s *SecureSource) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, s.service, s.account)
}

// JSONCredentialCodec returns decode/encode funcs for stores that hold a
// plain JSON-serialized Credential, which is what quotabar writes for
// entries it owns itself.
func JSONCredentialCodec() (func([]byte) (*Credential, error), func(*Credential) ([]byte, error)) {
	decode := func(b []byte) (*Credential, error) {
		var cred Credential
		if err := json.Unmarshal(b, &cred); err != nil {
			return nil, err
		}
		return &cred, nil
	}
	encode := func(c *Credential) ([]byte, error) {
		return json.Marshal(c)
	}
	return decode, encode
}
