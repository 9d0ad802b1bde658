package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// Provider codes
const (
	CodeUserRejected       = 4001
	CodeUnauthorized       = 4100
	CodeUnsupportedMethod  = 4200
	CodeDisconnected       = 4900
	CodeChainDisconnected  = 4901
	CodeCloseInternalError = 1011
)

// Class groups error codes by how callers should treat them.
type Class int

const (
	ClassUnknown Class = iota
	ClassProtocol
	ClassInternal
	ClassUserRejected
	ClassUnauthorized
	ClassUnsupported
	ClassDisconnected
)

func (c Class) String() string {
	switch c {
	case ClassProtocol:
		return "protocol"
	case ClassInternal:
		return "internal"
	case ClassUserRejected:
		return "user_rejected"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassUnsupported:
		return "unsupported"
	case ClassDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// NewError creates an error object with a code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Class classifies the error code.
func (e *Error) Class() Class {
	switch e.Code {
	case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams:
		return ClassProtocol
	case CodeInternal:
		return ClassInternal
	case CodeUserRejected:
		return ClassUserRejected
	case CodeUnauthorized:
		return ClassUnauthorized
	case CodeUnsupportedMethod:
		return ClassUnsupported
	case CodeDisconnected, CodeChainDisconnected:
		return ClassDisconnected
	default:
		if e.Code <= -32000 && e.Code >= -32099 {
			return ClassInternal
		}
		return ClassUnknown
	}
}
