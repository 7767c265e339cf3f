package errs

import "fmt"

// AuthKind enumerates authentication/authorization failure causes.
type AuthKind int

const (
	MissingCredential AuthKind = iota + 1
	InvalidToken
	TokenExpired
	WrongTokenType
	AccountDisabled
	SessionNotFound
	SessionRevoked
	PermissionDenied
)

func (k AuthKind) String() string {
	switch k {
	case MissingCredential:
		return "missing credential"
	case InvalidToken:
		return "invalid token"
	case TokenExpired:
		return "token expired"
	case WrongTokenType:
		return "wrong token type"
	case AccountDisabled:
		return "account disabled"
	case SessionNotFound:
		return "session not found"
	case SessionRevoked:
		return "session revoked"
	case PermissionDenied:
		return "permission denied"
	default:
		return "auth failure"
	}
}

// AuthError is a terminal authentication or authorization outcome.
// Required is set only for PermissionDenied.
type AuthError struct {
	Kind     AuthKind
	Required string
}

func (e *AuthError) Error() string {
	if e.Kind == PermissionDenied && e.Required != "" {
		return fmt.Sprintf("permission denied: %s required", e.Required)
	}
	return e.Kind.String()
}

// Is matches another *AuthError of the same kind, and ErrUnauthorized for every
// kind except PermissionDenied.
func (e *AuthError) Is(target error) bool {
	if target == ErrUnauthorized {
		return e.Kind != PermissionDenied
	}
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Required == "" || t.Required == e.Required
}

// Denied builds a PermissionDenied error for the given permission.
func Denied(required string) error {
	return &AuthError{Kind: PermissionDenied, Required: required}
}

// Kind-only sentinels for errors.Is matching.
var (
	ErrMissingCredential = &AuthError{Kind: MissingCredential}
	ErrInvalidToken      = &AuthError{Kind: InvalidToken}
	ErrTokenExpired      = &AuthError{Kind: TokenExpired}
	ErrWrongTokenType    = &AuthError{Kind: WrongTokenType}
	ErrAccountDisabled   = &AuthError{Kind: AccountDisabled}
	ErrSessionNotFound   = &AuthError{Kind: SessionNotFound}
	ErrSessionRevoked    = &AuthError{Kind: SessionRevoked}
	ErrPermissionDenied  = &AuthError{Kind: PermissionDenied}
)
