package wallet

import (
	"errors"
	"fmt"
)

// ValidationError reports a caller-supplied argument rejected before any
// network or signing interaction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wallet: invalid %s: %s", e.Field, e.Reason)
}

// ErrSigningRejected marks a user declining the signing prompt. It is a benign
// cancellation, not a system failure.
var ErrSigningRejected = errors.New("wallet: signing rejected by user")

// ErrNotSignedIn is returned by mutating operations attempted without an
// active session.
var ErrNotSignedIn = &ValidationError{Field: "session", Reason: "not signed in"}

// SigningFailedError carries the signing agent's own error message. The
// operation is never retried automatically.
type SigningFailedError struct {
	Message string
}

func (e *SigningFailedError) Error() string {
	return "wallet: signing failed: " + e.Message
}
