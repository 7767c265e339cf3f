package errs

// PolicyKind enumerates password strength rules in evaluation order.
type PolicyKind int

const (
	TooShort PolicyKind = iota + 1
	MissingUppercase
	MissingLowercase
	MissingDigit
	MissingSymbol
)

// PolicyViolation reports the first password rule that failed.
type PolicyViolation struct {
	Kind   PolicyKind
	Reason string
}

func (e *PolicyViolation) Error() string { return e.Reason }

// Is matches another *PolicyViolation of the same kind.
func (e *PolicyViolation) Is(target error) bool {
	t, ok := target.(*PolicyViolation)
	return ok && t.Kind == e.Kind
}

var (
	ErrTooShort         = &PolicyViolation{Kind: TooShort, Reason: "password must be at least 8 characters long"}
	ErrMissingUppercase = &PolicyViolation{Kind: MissingUppercase, Reason: "password must contain at least one uppercase letter"}
	ErrMissingLowercase = &PolicyViolation{Kind: MissingLowercase, Reason: "password must contain at least one lowercase letter"}
	ErrMissingDigit     = &PolicyViolation{Kind: MissingDigit, Reason: "password must contain at least one digit"}
	ErrMissingSymbol    = &PolicyViolation{Kind: MissingSymbol, Reason: "password must contain at least one special character"}
)
