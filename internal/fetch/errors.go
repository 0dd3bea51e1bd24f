package fetch

import (
	"errors"
	"fmt"
)

// ErrNoStrategy is returned when every strategy was exhausted without a
// success.
var ErrNoStrategy = errors.New("no available strategy produced a result")

// UpstreamStatusError is a non-2xx response from a usage API itself,
// independent of token refresh. 401/403 always means unauthorized
// regardless of provider.
type UpstreamStatusError struct {
	Strategy string
	Status   int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s: usage endpoint returned %d", e.Strategy, e.Status)
}

// Unauthorized reports whether the upstream rejected the token.
func (e *UpstreamStatusError) Unauthorized() bool {
	return e.Status == 401 || e.Status == 403
}

// MalformedResponseError marks a response that could not be parsed into a
// snapshot. Retrying a different strategy does not fix an API contract
// mismatch, so pipelines surface this directly instead of falling back.
type MalformedResponseError struct {
	Strategy string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed usage response: %v", e.Strategy, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
