package apperr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies failures so callers can tell recoverable conditions from fatal ones.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindRateLimitTimeout
	KindExternalService
	KindStoreAccess
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimitTimeout:
		return "rate_limit_timeout"
	case KindExternalService:
		return "external_service"
	case KindStoreAccess:
		return "store_access"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error from a message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: eris.New(msg)}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: eris.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the outermost kind found in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
