// Package transport provides message-oriented carriers for the multiplexer:
// a length-prefixed byte stream, a websocket connection and an in-memory pipe.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// Stream carries length-prefixed messages over a byte stream.
// Each message is a 4-byte big-endian length followed by the message bytes.
type Stream struct {
	rwc      io.ReadWriteCloser
	maxFrame int

	readMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps rwc. Messages larger than maxFrame are rejected in both
// directions.
func NewStream(rwc io.ReadWriteCloser, maxFrame int) *Stream {
	return &Stream{
		rwc:      rwc,
		maxFrame: maxFrame,
	}
}

// ReadMessage reads a single message from the stream
func (s *Stream) ReadMessage() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	// Read 4-byte length prefix (big-endian)
	var lengthBuf [4]byte
	if _, err := io.ReadFull(s.rwc, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if int(length) > s.maxFrame {
		return nil, fmt.Errorf("message size %d exceeds max_frame limit %d", length, s.maxFrame)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(s.rwc, buf); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// WriteMessage writes a single message to the stream
func (s *Stream) WriteMessage(data []byte) error {
	if len(data) > s.maxFrame {
		return fmt.Errorf("message size %d exceeds max_frame limit %d", len(data), s.maxFrame)
	}

	// Prefix and body go out in one Write so concurrent writers never interleave.
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.rwc.Write(buf)
	return err
}

// Close closes the underlying stream once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}

// Pipe returns two connected in-memory Streams.
func Pipe(maxFrame int) (*Stream, *Stream) {
	a, b := net.Pipe()
	return NewStream(a, maxFrame), NewStream(b, maxFrame)
}
