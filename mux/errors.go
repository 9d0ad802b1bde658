package mux

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a multiplexer that has shut down.
var ErrClosed = errors.New("mux: closed")

// Error represents errors from multiplexer and channel operations
type Error struct {
	Type    ErrorType
	Channel string
	Message string
	Err     error
}

type ErrorType int

const (
	ErrorTypeTransportClosed ErrorType = iota
	ErrorTypeTransportIO
	ErrorTypeLocalClosed
	ErrorTypeChannelEnded
	ErrorTypeRemote
	ErrorTypeDuplicateChannel
	ErrorTypeFrameTooLarge
)

func (e *Error) Error() string {
	switch e.Type {
	case ErrorTypeTransportClosed:
		return "mux: transport closed"
	case ErrorTypeTransportIO:
		return fmt.Sprintf("mux: transport I/O error: %v", e.Err)
	case ErrorTypeLocalClosed:
		if e.Channel != "" {
			return fmt.Sprintf("mux: channel %q closed locally", e.Channel)
		}
		return "mux: closed locally"
	case ErrorTypeChannelEnded:
		return fmt.Sprintf("mux: channel %q ended by remote", e.Channel)
	case ErrorTypeRemote:
		return fmt.Sprintf("mux: channel %q failed by remote: %s", e.Channel, e.Message)
	case ErrorTypeDuplicateChannel:
		return fmt.Sprintf("mux: channel %q already exists", e.Channel)
	case ErrorTypeFrameTooLarge:
		return fmt.Sprintf("mux: frame too large: %s", e.Message)
	default:
		return fmt.Sprintf("mux error: %s", e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports ErrClosed for every error that ends a channel because the
// whole multiplexer went away.
func (e *Error) Is(target error) bool {
	if target == ErrClosed {
		return e.Type == ErrorTypeTransportClosed || e.Type == ErrorTypeTransportIO ||
			(e.Type == ErrorTypeLocalClosed && e.Channel == "")
	}
	return false
}
