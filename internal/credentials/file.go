package credentials

import (
	"context"
	"fmt"
	"os"
)

// FileSource reads a provider-owned plaintext config file, e.g. the
// auth.json a CLI writes after login. Read-only at this layer; the schema
// is provider-specific, so decoding is a closure supplied by the provider
// descriptor.
type FileSource struct {
	Path   string
	Decode func([]byte) (*Credential, error)
}

func NewFileSource(path string, decode func([]byte) (*Credential, error)) *FileSource {
	return &FileSource{Path: path, Decode: decode}
}

func (f *FileSource) Name() string { return "file" }

// Exists reports whether the backing file is present, without decoding it.
func (f *FileSource) Exists() bool {
	return FileExists(f.Path)
}

func (f *FileSource) Load(_ context.Context) (*Credential, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	cred, err := f.Decode(b)
	if err != nil {
		return nil, &DecodeError{Tier: f.Name(), Err: err}
	}
	if !cred.Valid() {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

func (f *FileSource) Fingerprint(_ context.Context) (Fingerprint, error) {
	return FileFingerprint(f.Path)
}
