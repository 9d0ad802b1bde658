package mux

import (
	"fmt"
)

// Protocol version of the channel envelope.
const ProtocolVersion uint8 = 1

// Default maximum frame size (1 MB)
const DefaultMaxFrame int = 1_048_576

// Hard limit on frame size (16 MB) - prevents DoS
const MaxFrameHardLimit int = 16_777_216

// FrameType represents the type of envelope frame
type FrameType uint8

const (
	FrameTypeData FrameType = 1 // Payload for one logical channel
	FrameTypeEnd  FrameType = 4 // Remote ended one logical channel
	FrameTypeErr  FrameType = 6 // Remote failed one logical channel
)

// String returns the frame type name
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeData:
		return "DATA"
	case FrameTypeEnd:
		return "END"
	case FrameTypeErr:
		return "ERR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", ft)
	}
}

// Frame is one envelope on the transport: a payload tagged with the name of
// the logical channel it belongs to.
type Frame struct {
	Version   uint8                  // Envelope version (always 1)
	FrameType FrameType              // Frame type discriminator
	Channel   string                 // Logical channel name
	Payload   []byte                 // Channel payload (DATA frames)
	Meta      map[string]interface{} // Metadata map (ERR code/message)
}

func newFrame(frameType FrameType, channel string) *Frame {
	return &Frame{
		Version:   ProtocolVersion,
		FrameType: frameType,
		Channel:   channel,
	}
}

// NewData creates a DATA frame carrying payload for a channel
func NewData(channel string, payload []byte) *Frame {
	frame := newFrame(FrameTypeData, channel)
	frame.Payload = payload
	return frame
}

// NewEnd creates an END frame for a channel
func NewEnd(channel string) *Frame {
	return newFrame(FrameTypeEnd, channel)
}

// NewErr creates an ERR frame for a channel.
// code and message are stored in the Meta map
func NewErr(channel string, code string, message string) *Frame {
	frame := newFrame(FrameTypeErr, channel)
	frame.Meta = map[string]interface{}{
		"code":    code,
		"message": message,
	}
	return frame
}

// ErrorCode gets error code from ERR frame meta
func (f *Frame) ErrorCode() string {
	if f.FrameType != FrameTypeErr || f.Meta == nil {
		return ""
	}
	if code, ok := f.Meta["code"].(string); ok {
		return code
	}
	return ""
}

// ErrorMessage gets error message from ERR frame meta
func (f *Frame) ErrorMessage() string {
	if f.FrameType != FrameTypeErr || f.Meta == nil {
		return ""
	}
	if msg, ok := f.Meta["message"].(string); ok {
		return msg
	}
	return ""
}
