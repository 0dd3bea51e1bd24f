package auth

import "fmt"

// Kind classifies a refresh failure.
type Kind int

const (
	// KindTransient covers network failures, 5xx responses, and timeouts.
	// Eligible for backoff-and-retry.
	KindTransient Kind = iota
	// KindTerminal covers invalid/revoked/reused grants. No retry will
	// help; the user has to re-authenticate.
	KindTerminal
	// KindSuppressed means the failure gate denied the attempt; the
	// endpoint was never called.
	KindSuppressed
)

func (k Kind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	case KindSuppressed:
		return "suppressed"
	default:
		return "transient"
	}
}

// Error is a classified refresh failure. Terminal errors carry a
// human-readable remediation hint.
type Error struct {
	Kind Kind
	Code string // OAuth error code when the endpoint supplied one
	Hint string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("token refresh failed (%s", e.Kind)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// TerminalAuth implements credentials.TerminalAuthError.
func (e *Error) TerminalAuth() bool { return e.Kind == KindTerminal }

// Remediation returns the user-facing hint for terminal failures.
func (e *Error) Remediation() string {
	if e.Hint != "" {
		return e.Hint
	}
	if e.Kind == KindTerminal {
		return "re-run the provider's sign-in flow"
	}
	return ""
}

// terminalOAuthCodes are the grant rejections that no retry can fix.
var terminalOAuthCodes = map[string]bool{
	"invalid_grant": true,
	"token_revoked": true,
	"token_reused":  true,
}
