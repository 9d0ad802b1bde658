package mux

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys of the envelope
const (
	keyVersion   = 0 // version (u8, always 1)
	keyFrameType = 1 // frame_type (u8)
	keyChannel   = 2 // channel (tstr)
	keyMeta      = 5 // meta (map, optional)
	keyPayload   = 6 // payload (bstr, optional)
)

// EncodeFrame encodes a Frame to CBOR bytes using integer keys
func EncodeFrame(frame *Frame) ([]byte, error) {
	if frame.Channel == "" {
		return nil, errors.New("frame missing channel name")
	}

	m := make(map[int]interface{})
	m[keyVersion] = ProtocolVersion
	m[keyFrameType] = uint8(frame.FrameType)
	m[keyChannel] = frame.Channel

	if len(frame.Meta) > 0 {
		m[keyMeta] = frame.Meta
	}
	if frame.Payload != nil {
		m[keyPayload] = frame.Payload
	}

	return cbor.Marshal(m)
}

// DecodeFrame decodes CBOR bytes to a Frame using integer keys
func DecodeFrame(data []byte) (*Frame, error) {
	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	frame := &Frame{}

	// 0: version (required)
	verVal, ok := m[keyVersion]
	if !ok {
		return nil, errors.New("missing version (key 0)")
	}
	ver, ok := verVal.(uint64)
	if !ok {
		return nil, errors.New("version must be uint")
	}
	frame.Version = uint8(ver)
	if frame.Version != ProtocolVersion {
		return nil, fmt.Errorf("invalid version %d, expected %d", frame.Version, ProtocolVersion)
	}

	// 1: frame_type (required)
	ftVal, ok := m[keyFrameType]
	if !ok {
		return nil, errors.New("missing frame_type (key 1)")
	}
	ft, ok := ftVal.(uint64)
	if !ok {
		return nil, errors.New("frame_type must be uint")
	}
	frame.FrameType = FrameType(ft)
	switch frame.FrameType {
	case FrameTypeData, FrameTypeEnd, FrameTypeErr:
	default:
		return nil, fmt.Errorf("invalid frame_type %d", ft)
	}

	// 2: channel (required)
	chVal, ok := m[keyChannel]
	if !ok {
		return nil, errors.New("missing channel (key 2)")
	}
	channel, ok := chVal.(string)
	if !ok || channel == "" {
		return nil, errors.New("channel must be a non-empty string")
	}
	frame.Channel = channel

	// 5: meta (optional)
	if metaVal, ok := m[keyMeta]; ok {
		if meta, ok := metaVal.(map[interface{}]interface{}); ok {
			frame.Meta = make(map[string]interface{})
			for k, v := range meta {
				if ks, ok := k.(string); ok {
					frame.Meta[ks] = v
				}
			}
		}
	}

	// 6: payload (optional)
	if payloadVal, ok := m[keyPayload]; ok {
		if payload, ok := payloadVal.([]byte); ok {
			frame.Payload = payload
		}
	}

	return frame, nil
}
