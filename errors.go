package inpage

import (
	"context"
	"errors"
	"fmt"

	"github.com/filegrind/inpage-go/jsonrpc"
	"github.com/filegrind/inpage-go/mux"
	"github.com/filegrind/inpage-go/rpcstream"
)

// ErrorKind classifies provider errors by where they originated.
type ErrorKind int

const (
	// KindTransport means the connection to the remote process failed or ended.
	KindTransport ErrorKind = iota
	// KindProtocol means the remote sent traffic that could not be understood.
	KindProtocol
	// KindRemote means the remote process answered with an error.
	KindRemote
	// KindLocalValidation means the request was rejected before it was sent.
	KindLocalValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindRemote:
		return "remote"
	case KindLocalValidation:
		return "local_validation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every provider call that fails.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransport:
		return fmt.Sprintf("transport error: %s", e.Message)
	case KindProtocol:
		return fmt.Sprintf("protocol error: %s", e.Message)
	case KindRemote:
		return fmt.Sprintf("remote error: [%d] %s", e.Code, e.Message)
	case KindLocalValidation:
		return fmt.Sprintf("invalid request: [%d] %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("unknown error: %s", e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RPCError returns the JSON-RPC error object equivalent to e.
func (e *Error) RPCError() *jsonrpc.Error {
	if remote, ok := e.Err.(*jsonrpc.Error); ok {
		return remote
	}
	return jsonrpc.NewError(e.Code, e.Message)
}

func remoteError(rpcErr *jsonrpc.Error) *Error {
	return &Error{Kind: KindRemote, Code: rpcErr.Code, Message: rpcErr.Message, Err: rpcErr}
}

func validationError(code int, message string) *Error {
	return &Error{Kind: KindLocalValidation, Code: code, Message: message}
}

// classify maps errors from the lower layers onto provider errors. Context
// errors are returned unchanged so callers can test for them directly.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		return err
	}
	if errors.Is(err, rpcstream.ErrDisconnected) {
		return &Error{Kind: KindTransport, Code: jsonrpc.CodeDisconnected, Message: err.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var verr *jsonrpc.ValidationError
	if errors.As(err, &verr) {
		return &Error{Kind: KindLocalValidation, Code: jsonrpc.CodeInvalidRequest, Message: verr.Details, Err: err}
	}
	var perr *rpcstream.ProtocolError
	if errors.As(err, &perr) {
		return &Error{Kind: KindProtocol, Code: jsonrpc.CodeInternal, Message: perr.Reason, Err: err}
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return remoteError(rpcErr)
	}
	var muxErr *mux.Error
	if errors.As(err, &muxErr) {
		return &Error{Kind: KindTransport, Code: jsonrpc.CodeDisconnected, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindProtocol, Code: jsonrpc.CodeInternal, Message: err.Error(), Err: err}
}
