package spc

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid user id or password")
	ErrSessionExpired     = errors.New("session expired")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrUnexpectedPage     = errors.New("unexpected page")
)

// Kind classifies errors returned by a Session, so callers can switch on a
// closed set instead of matching concrete network or parser errors.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuth
	KindPanel
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindPanel:
		return "panel"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func authError(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

func panelError(op string, err error) error {
	return &Error{Kind: KindPanel, Op: op, Err: err}
}

// transportError wraps network and value errors. Context cancellation is
// returned as-is so it is never mistaken for an unavailable panel.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}
