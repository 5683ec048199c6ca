package resolve

import (
	"errors"
	"fmt"
)

// Kind classifies resolution failures. The set is closed; the HTTP layer maps
// each kind to a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindMalformed
	KindUnauthenticated
	KindNotFound
	KindNotOwned
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not found"
	case KindNotOwned:
		return "not owned"
	default:
		return "internal"
	}
}

// Error is returned by Resolver.Resolve.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "resolve: " + e.Kind.String()
	}
	return fmt.Sprintf("resolve: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of err, or KindInternal for errors that did not
// come from a Resolver.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}
