package errs

// DBKind classifies a store failure.
type DBKind int

const (
	Unknown DBKind = iota
	ConnectionLost
	Timeout
	ConstraintViolation
)

func (k DBKind) String() string {
	switch k {
	case ConnectionLost:
		return "connection lost"
	case Timeout:
		return "timeout"
	case ConstraintViolation:
		return "constraint violation"
	default:
		return "unknown"
	}
}

// DBError wraps an error surfaced by the store after classification.
type DBError struct {
	Kind DBKind
	Op   string
	Err  error
}

func (e *DBError) Error() string {
	if e.Err == nil {
		return "store " + e.Op + ": " + e.Kind.String()
	}
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *DBError) Unwrap() error { return e.Err }

// Is matches another *DBError of the same kind.
func (e *DBError) Is(target error) bool {
	t, ok := target.(*DBError)
	return ok && t.Kind == e.Kind
}

var (
	ErrConnectionLost      = &DBError{Kind: ConnectionLost}
	ErrTimeout             = &DBError{Kind: Timeout}
	ErrConstraintViolation = &DBError{Kind: ConstraintViolation}
)
