// Package gatewayerr defines the closed error taxonomy used across schema
// synthesis, RPC dispatch, and the request runtime. Every failure the
// gateway surfaces to a GraphQL client carries one of these kinds so the
// response envelope can attach a stable extensions.code string.
package gatewayerr

import "fmt"

// Kind is one of the eleven closed error kinds.
type Kind int

const (
	Internal Kind = iota
	Grpc
	Transport
	Schema
	InvalidRequest
	Unauthorized
	Middleware
	Serialization
	Connection
	WebSocket
	Io
)

// Code returns the extensions.code string for a kind.
func (k Kind) Code() string {
	switch k {
	case Grpc:
		return "GRPC_ERROR"
	case Transport:
		return "TRANSPORT_ERROR"
	case Schema:
		return "SCHEMA_ERROR"
	case InvalidRequest:
		return "INVALID_REQUEST"
	case Unauthorized:
		return "UNAUTHORIZED"
	case Middleware:
		return "MIDDLEWARE_ERROR"
	case Serialization:
		return "SERIALIZATION_ERROR"
	case Connection:
		return "CONNECTION_ERROR"
	case WebSocket:
		return "WEBSOCKET_ERROR"
	case Io:
		return "IO_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// Error wraps a Kind and an underlying cause.
type Error struct {
	Kind Kind
	msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.Err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.Err }

// GraphQLExtensions satisfies the executor's optional extension-carrying
// error interface so located GraphQL errors surface extensions.code.
func (e *Error) GraphQLExtensions() map[string]any {
	return map[string]any{"code": e.Kind.Code()}
}

// New builds a kinded error from a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return Internal
}

// as is a local equivalent of errors.As for *Error: it walks the single-error
// Unwrap chain and stops at the first *Error.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
