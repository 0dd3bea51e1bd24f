package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialNotFound means no tier produced a usable credential.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrSecureStoreDenied means the secure store signalled a denial,
	// cancellation, or interaction-required condition. Distinct from not
	// found; feeds the prompt-cooldown gate.
	ErrSecureStoreDenied = errors.New("secure store access denied")

	// ErrImportUnavailable means the local application state is absent or
	// its format could not be decoded.
	ErrImportUnavailable = errors.New("local import unavailable")
)

// DecodeError marks a tier whose stored payload was corrupt. Resolution
// treats it as a miss and degrades to the next tier.
type DecodeError struct {
	Tier string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s credential: %v", e.Tier, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TerminalAuthError marks refresh failures that cannot be resolved by
// retrying and require user re-authentication. The auth package's error
// type implements it; the store reacts by clearing its caches.
type TerminalAuthError interface {
	error
	TerminalAuth() bool
}

// IsTerminalAuth reports whether err carries a terminal auth failure.
func IsTerminalAuth(err error) bool {
	var te TerminalAuthError
	return errors.As(err, &te) && te.TerminalAuth()
}
