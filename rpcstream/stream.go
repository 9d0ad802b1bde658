// Package rpcstream carries JSON-RPC traffic over one logical channel. It
// keeps the table of requests awaiting a response, routes responses to their
// callers by id and hands everything else to notification or protocol error
// handlers.
package rpcstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/filegrind/inpage-go/jsonrpc"
)

// ErrDisconnected rejects requests whose channel ended before a response arrived.
var ErrDisconnected = errors.New("rpcstream: disconnected")

// MessageChannel is the logical channel the stream runs over.
type MessageChannel interface {
	Send(payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Done() <-chan struct{}
	Err() error
}

// ProtocolError reports inbound traffic that could not be matched or decoded.
type ProtocolError struct {
	Reason  string
	Payload []byte
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rpcstream: protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("rpcstream: protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

type outcome struct {
	resp *jsonrpc.Response
	err  error
}

// call is one entry of the pending table.
type call struct {
	method string
	wait   chan outcome
}

// Stream is the RPC side of a message channel.
type Stream struct {
	ch  MessageChannel
	log *zap.Logger

	mu       sync.Mutex
	pending  map[string]*call
	closed   bool
	closeErr error

	handlersMu    sync.Mutex
	nextHandlerID int
	notifyFns     map[int]func(*jsonrpc.Notification)
	protoFns      map[int]func(error)
	respFns       map[int]func(method string, resp *jsonrpc.Response)
}

// New creates a stream over ch. Nothing is read until Run is called.
func New(ch MessageChannel, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		ch:        ch,
		log:       log,
		pending:   make(map[string]*call),
		notifyFns: make(map[int]func(*jsonrpc.Notification)),
		protoFns:  make(map[int]func(error)),
		respFns:   make(map[int]func(string, *jsonrpc.Response)),
	}
}

// Handle sends req and waits for the response carrying the same id, the end
// of the channel, or ctx. Cancelling ctx withdraws only this request.
func (s *Stream) Handle(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if jsonrpc.IsNullID(req.ID) {
		return nil, &jsonrpc.ValidationError{Details: "request id is required"}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, &jsonrpc.ValidationError{Details: err.Error()}
	}

	key := jsonrpc.IDKey(req.ID)
	wait := make(chan outcome, 1)

	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return nil, err
	}
	if _, dup := s.pending[key]; dup {
		s.mu.Unlock()
		return nil, &jsonrpc.ValidationError{Details: "request id " + key + " is already pending"}
	}
	s.pending[key] = &call{method: req.Method, wait: wait}
	s.mu.Unlock()

	if err := s.ch.Send(data); err != nil {
		s.withdraw(key)
		return nil, fmt.Errorf("%w: %w", ErrDisconnected, err)
	}

	select {
	case out := <-wait:
		return out.resp, out.err
	case <-ctx.Done():
		s.withdraw(key)
		return nil, ctx.Err()
	}
}

// Notify sends a message that expects no response.
func (s *Stream) Notify(req *jsonrpc.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return &jsonrpc.ValidationError{Details: err.Error()}
	}
	if err := s.ch.Send(data); err != nil {
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return nil
}

// Run reads the channel until it ends or ctx is cancelled, then rejects every
// pending request and returns the cause.
func (s *Stream) Run(ctx context.Context) error {
	for {
		payload, err := s.ch.Recv(ctx)
		if err != nil {
			s.fail(err)
			return err
		}
		s.dispatch(payload)
	}
}

// OnNotification registers fn for inbound notifications. The returned func
// removes it.
func (s *Stream) OnNotification(fn func(*jsonrpc.Notification)) func() {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.notifyFns[id] = fn
	return func() {
		s.handlersMu.Lock()
		delete(s.notifyFns, id)
		s.handlersMu.Unlock()
	}
}

// OnProtocolError registers fn for traffic that cannot be routed.
func (s *Stream) OnProtocolError(fn func(error)) func() {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.protoFns[id] = fn
	return func() {
		s.handlersMu.Lock()
		delete(s.protoFns, id)
		s.handlersMu.Unlock()
	}
}

// OnResponse registers fn for every matched response. fn runs on the reading
// goroutine before the caller is resumed, so it observes responses in wire
// order relative to notifications. It must not block.
func (s *Stream) OnResponse(fn func(method string, resp *jsonrpc.Response)) func() {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.respFns[id] = fn
	return func() {
		s.handlersMu.Lock()
		delete(s.respFns, id)
		s.handlersMu.Unlock()
	}
}

// Pending reports how many requests await a response.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Stream) dispatch(payload []byte) {
	var msg jsonrpc.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.protocolError(&ProtocolError{Reason: "malformed message", Payload: payload, Err: err})
		return
	}

	if msg.HasID() {
		if c, ok := s.take(jsonrpc.IDKey(msg.ID)); ok {
			if !msg.IsResponse() {
				perr := &ProtocolError{Reason: "response has neither result nor error", Payload: payload}
				s.log.Warn("invalid response", zap.ByteString("id", msg.ID))
				c.wait <- outcome{err: perr}
				return
			}
			resp := msg.Response()
			s.respond(c.method, resp)
			c.wait <- outcome{resp: resp}
			return
		}
	}

	if msg.Method != "" {
		s.notify(msg.Notification())
		return
	}

	if msg.HasID() {
		s.protocolError(&ProtocolError{Reason: "response id " + string(msg.ID) + " matches no pending request", Payload: payload})
		return
	}
	s.protocolError(&ProtocolError{Reason: "message has neither id nor method", Payload: payload})
}

func (s *Stream) take(key string) (*call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	return c, ok
}

func (s *Stream) withdraw(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

func (s *Stream) notify(n *jsonrpc.Notification) {
	s.handlersMu.Lock()
	fns := make([]func(*jsonrpc.Notification), 0, len(s.notifyFns))
	for _, fn := range s.notifyFns {
		fns = append(fns, fn)
	}
	s.handlersMu.Unlock()

	if len(fns) == 0 {
		s.log.Debug("notification without handler", zap.String("method", n.Method))
	}
	for _, fn := range fns {
		fn(n)
	}
}

func (s *Stream) respond(method string, resp *jsonrpc.Response) {
	s.handlersMu.Lock()
	fns := make([]func(string, *jsonrpc.Response), 0, len(s.respFns))
	for _, fn := range s.respFns {
		fns = append(fns, fn)
	}
	s.handlersMu.Unlock()

	for _, fn := range fns {
		fn(method, resp)
	}
}

func (s *Stream) protocolError(err *ProtocolError) {
	s.log.Warn("rpc protocol error", zap.String("reason", err.Reason), zap.Error(err.Err))

	s.handlersMu.Lock()
	fns := make([]func(error), 0, len(s.protoFns))
	for _, fn := range s.protoFns {
		fns = append(fns, fn)
	}
	s.handlersMu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

// fail marks the stream closed and rejects everything still pending.
func (s *Stream) fail(cause error) {
	err := fmt.Errorf("%w: %w", ErrDisconnected, cause)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = err
	pending := s.pending
	s.pending = make(map[string]*call)
	s.mu.Unlock()

	if len(pending) > 0 {
		s.log.Debug("rejecting pending requests", zap.Int("count", len(pending)), zap.Error(cause))
	}
	for _, c := range pending {
		c.wait <- outcome{err: err}
	}
}
