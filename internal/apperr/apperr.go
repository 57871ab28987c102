// Package apperr defines the closed set of domain failure kinds surfaced at
// the API boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure.
type Kind int

const (
	// KindUnknown is reported for errors that carry no kind.
	KindUnknown Kind = iota
	// InvalidCredential covers bad, expired or malformed tokens and failed logins.
	InvalidCredential
	// OAuthExchangeFailed is returned when the provider rejects the authorization code.
	OAuthExchangeFailed
	// OAuthProfileFailed is returned when the provider profile cannot be fetched.
	OAuthProfileFailed
	// ClassificationFailed wraps any sentiment model failure.
	ClassificationFailed
	// SearchFailed wraps any social provider transport or response failure.
	SearchFailed
)

func (k Kind) String() string {
	switch k {
	case InvalidCredential:
		return "invalid_credential"
	case OAuthExchangeFailed:
		return "oauth_exchange_failed"
	case OAuthProfileFailed:
		return "oauth_profile_failed"
	case ClassificationFailed:
		return "classification_failed"
	case SearchFailed:
		return "search_failed"
	default:
		return "unknown"
	}
}

// Error is a kinded error carrying the operation and underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps cause with kind. A nil cause is allowed.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Errorf builds a kinded error from a format string. %w verbs are preserved as the cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
