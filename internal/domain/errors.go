package domain

import (
	"errors"
	"fmt"
)

var (
	ErrForbidden       = errors.New("not allowed for your role")
	ErrInvalidState    = errors.New("table/order not in a valid state")
	ErrStale           = errors.New("changed by someone else, reload and try again")
	ErrStoreFailure    = errors.New("system error - try again")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// TransitionError is a rejected state change. Kind is one of the sentinels above.
type TransitionError struct {
	Kind   error
	Entity string // "table" | "order"
	ID     string
	From   string
	To     string
	Detail string
	Cause  error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Entity, e.ID)
	if e.From != "" || e.To != "" {
		msg += fmt.Sprintf(" %s -> %s", e.From, e.To)
	}
	msg += ": " + e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransitionError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Reason is the text shown to a user for a rejected request.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return "Not allowed for your role"
	case errors.Is(err, ErrStale):
		return "Someone else changed this first - refresh and try again"
	case errors.Is(err, ErrInvalidState):
		var te *TransitionError
		if errors.As(err, &te) && te.Detail != "" {
			return "Table/order not in a valid state: " + te.Detail
		}
		return "Table/order not in a valid state"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.Is(err, ErrInvalidArgument):
		var te *TransitionError
		if errors.As(err, &te) && te.Detail != "" {
			return "Invalid request: " + te.Detail
		}
		return "Invalid request"
	default:
		return "System error - try again"
	}
}
