package mux

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Transport is a duplex connection carrying discrete, ordered messages.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Option configures a Mux.
type Option func(*Mux)

// WithLogger sets the logger used for discarded frames and shutdown.
func WithLogger(log *zap.Logger) Option {
	return func(m *Mux) {
		if log != nil {
			m.log = log
		}
	}
}

// WithLimits sets the envelope size limits.
func WithLimits(limits Limits) Option {
	return func(m *Mux) {
		m.limits = limits
	}
}

// WithMetrics enables frame counters.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Mux) {
		m.metrics = metrics
	}
}

// Mux splits one Transport into independently named logical channels.
//
// Inbound frames are read by a single loop (Run) and appended to the queue of
// the channel they name, so a consumer that stops reading one channel never
// holds up another. Outbound frames are written in the order each channel
// sends them.
type Mux struct {
	transport Transport
	limits    Limits
	log       *zap.Logger
	metrics   *Metrics

	mu       sync.Mutex
	channels map[string]*Channel
	ignored  map[string]bool
	closed   bool
	closeErr error

	writeMu sync.Mutex
	done    chan struct{}
}

// New creates a multiplexer that owns t until it shuts down.
func New(t Transport, opts ...Option) *Mux {
	m := &Mux{
		transport: t,
		limits:    DefaultLimits(),
		log:       zap.NewNop(),
		channels:  make(map[string]*Channel),
		ignored:   make(map[string]bool),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateChannel registers a new logical channel.
func (m *Mux) CreateChannel(name string) (*Channel, error) {
	if name == "" {
		return nil, errors.New("mux: channel name must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, m.closeErr
	}
	if _, exists := m.channels[name]; exists {
		return nil, &Error{Type: ErrorTypeDuplicateChannel, Channel: name}
	}

	ch := newChannel(name, m)
	m.channels[name] = ch
	return ch, nil
}

// IgnoreChannel discards every inbound frame addressed to name.
func (m *Mux) IgnoreChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignored[name] = true
}

// Done is closed once the multiplexer has shut down.
func (m *Mux) Done() <-chan struct{} {
	return m.done
}

// Err returns the shutdown cause, or nil while running.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}

// Run reads frames from the transport and dispatches them until the
// transport fails or the multiplexer is closed. A clean end of the
// transport and a local Close both return nil.
func (m *Mux) Run() error {
	for {
		data, err := m.transport.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				m.shutdown(&Error{Type: ErrorTypeTransportClosed, Err: err})
				return nil
			}
			if m.isClosed() {
				return nil
			}
			cause := &Error{Type: ErrorTypeTransportIO, Err: err}
			m.shutdown(cause)
			return cause
		}
		m.dispatch(data)
	}
}

// Close shuts the multiplexer down and closes the transport.
func (m *Mux) Close() error {
	return m.shutdown(&Error{Type: ErrorTypeLocalClosed})
}

func (m *Mux) dispatch(data []byte) {
	if len(data) > m.limits.MaxFrame || len(data) > MaxFrameHardLimit {
		m.log.Warn("discarding oversize frame", zap.Int("size", len(data)), zap.Int("max_frame", m.limits.MaxFrame))
		m.metrics.discarded("oversize")
		return
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		m.log.Warn("discarding undecodable frame", zap.Error(err))
		m.metrics.discarded("malformed")
		return
	}

	m.mu.Lock()
	ignored := m.ignored[frame.Channel]
	ch := m.channels[frame.Channel]
	m.mu.Unlock()

	if ignored {
		m.metrics.discarded("ignored")
		return
	}
	if ch == nil {
		m.log.Debug("discarding frame for unknown channel", zap.String("channel", frame.Channel), zap.Stringer("type", frame.FrameType))
		m.metrics.discarded("unknown")
		return
	}

	switch frame.FrameType {
	case FrameTypeData:
		if !ch.push(frame.Payload) {
			m.metrics.discarded("ended")
			return
		}
		m.metrics.frameIn(frame.Channel)

	case FrameTypeEnd:
		m.log.Debug("channel ended by remote", zap.String("channel", frame.Channel))
		ch.end(&Error{Type: ErrorTypeChannelEnded, Channel: frame.Channel})

	case FrameTypeErr:
		msg := fmt.Sprintf("[%s] %s", frame.ErrorCode(), frame.ErrorMessage())
		m.log.Warn("channel failed by remote", zap.String("channel", frame.Channel), zap.String("error", msg))
		ch.end(&Error{Type: ErrorTypeRemote, Channel: frame.Channel, Message: msg})
	}
}

// writeFrame encodes and writes one frame. A write failure is a transport
// failure and shuts the whole multiplexer down.
func (m *Mux) writeFrame(frame *Frame) error {
	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if len(data) > m.limits.MaxFrame || len(data) > MaxFrameHardLimit {
		return &Error{
			Type:    ErrorTypeFrameTooLarge,
			Channel: frame.Channel,
			Message: fmt.Sprintf("encoded size %d exceeds max_frame %d", len(data), m.limits.MaxFrame),
		}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.isClosed() {
		return m.Err()
	}
	if err := m.transport.WriteMessage(data); err != nil {
		cause := &Error{Type: ErrorTypeTransportIO, Err: err}
		m.shutdown(cause)
		return cause
	}
	m.metrics.frameOut(frame.Channel)
	return nil
}

func (m *Mux) removeChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

func (m *Mux) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// shutdown ends every open channel with cause exactly once.
func (m *Mux) shutdown(cause error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.closeErr = cause
	channels := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	m.log.Debug("multiplexer shutting down", zap.Error(cause), zap.Int("channels", len(channels)))
	for _, ch := range channels {
		ch.end(cause)
	}
	close(m.done)

	return m.transport.Close()
}
