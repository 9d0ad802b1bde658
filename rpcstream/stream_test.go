package rpcstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegrind/inpage-go/jsonrpc"
)

// fakeChannel is an in-memory MessageChannel. Sent payloads appear on out;
// deliver feeds inbound payloads.
type fakeChannel struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}

	mu      sync.Mutex
	err     error
	sendErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:   make(chan []byte, 64),
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (c *fakeChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.out <- payload
	return nil
}

func (c *fakeChannel) Recv(ctx context.Context) ([]byte, error) {
	select {
	case p := <-c.in:
		return p, nil
	default:
	}
	select {
	case p := <-c.in:
		return p, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeChannel) Done() <-chan struct{} { return c.done }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) end(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
}

func (c *fakeChannel) deliver(s string) { c.in <- []byte(s) }

func (c *fakeChannel) nextOut(t *testing.T) *jsonrpc.Request {
	t.Helper()
	select {
	case p := <-c.out:
		var req jsonrpc.Request
		require.NoError(t, json.Unmarshal(p, &req))
		return &req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func startStream(t *testing.T) (*Stream, *fakeChannel, chan error) {
	t.Helper()
	ch := newFakeChannel()
	s := New(ch, nil)
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()
	return s, ch, runErr
}

type handled struct {
	resp *jsonrpc.Response
	err  error
}

func handleAsync(s *Stream, req *jsonrpc.Request) chan handled {
	result := make(chan handled, 1)
	go func() {
		resp, err := s.Handle(context.Background(), req)
		result <- handled{resp, err}
	}()
	return result
}

func waitHandled(t *testing.T, c chan handled) handled {
	t.Helper()
	select {
	case h := <-c:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Handle")
		return handled{}
	}
}

// TEST1001: Responses resolve the caller with the matching id, in any arrival order
func TestResponsesMatchedByID(t *testing.T) {
	s, ch, _ := startStream(t)

	first := handleAsync(s, &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: json.RawMessage(`1`), Method: "a"})
	ch.nextOut(t)
	second := handleAsync(s, &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: json.RawMessage(`2`), Method: "b"})
	ch.nextOut(t)

	ch.deliver(`{"jsonrpc":"2.0","id":2,"result":"two"}`)
	ch.deliver(`{"jsonrpc":"2.0","id":1,"result":"one"}`)

	h2 := waitHandled(t, second)
	require.NoError(t, h2.err)
	assert.JSONEq(t, `"two"`, string(h2.resp.Result))
	h1 := waitHandled(t, first)
	require.NoError(t, h1.err)
	assert.JSONEq(t, `"one"`, string(h1.resp.Result))
	assert.Equal(t, 0, s.Pending())
}

// TEST1002: Channel end rejects every in-flight request and later requests
func TestDisconnectRejectsPending(t *testing.T) {
	s, ch, runErr := startStream(t)

	var waits []chan handled
	for i := 0; i < 3; i++ {
		id, _ := json.Marshal(i + 1)
		waits = append(waits, handleAsync(s, &jsonrpc.Request{ID: id, Method: "m"}))
		ch.nextOut(t)
	}
	require.Equal(t, 3, s.Pending())

	ch.end(io.EOF)

	for _, w := range waits {
		h := waitHandled(t, w)
		assert.Nil(t, h.resp)
		assert.ErrorIs(t, h.err, ErrDisconnected)
		assert.ErrorIs(t, h.err, io.EOF)
	}
	assert.ErrorIs(t, <-runErr, io.EOF)

	_, err := s.Handle(context.Background(), &jsonrpc.Request{ID: json.RawMessage(`9`), Method: "m"})
	assert.ErrorIs(t, err, ErrDisconnected)
}

// TEST1003: Messages with a method and no pending id are delivered as notifications
func TestNotifications(t *testing.T) {
	s, ch, _ := startStream(t)

	got := make(chan *jsonrpc.Notification, 2)
	unsubscribe := s.OnNotification(func(n *jsonrpc.Notification) { got <- n })

	ch.deliver(`{"jsonrpc":"2.0","method":"wallet_accountsChanged","params":["0xA"]}`)
	select {
	case n := <-got:
		assert.Equal(t, "wallet_accountsChanged", n.Method)
		assert.JSONEq(t, `["0xA"]`, string(n.Payload()))
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	unsubscribe()
	ch.deliver(`{"jsonrpc":"2.0","method":"eth_subscription","params":{}}`)
	ch.deliver(`{"jsonrpc":"2.0","method":"sync"}`)
	require.Eventually(t, func() bool { return len(ch.in) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, got, 0)
}

// TEST1004: Unmatched and malformed inbound traffic is reported, never silently dropped
func TestProtocolErrorsReported(t *testing.T) {
	s, ch, _ := startStream(t)

	errs := make(chan error, 4)
	s.OnProtocolError(func(err error) { errs <- err })

	ch.deliver(`{"jsonrpc":"2.0","id":77,"result":true}`)
	ch.deliver(`{not json`)
	ch.deliver(`{"jsonrpc":"2.0"}`)

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			var perr *ProtocolError
			assert.ErrorAs(t, err, &perr)
		case <-time.After(2 * time.Second):
			t.Fatalf("protocol error %d not reported", i)
		}
	}
}

// TEST1005: A matched response with neither result nor error rejects only that caller
func TestEmptyResponseRejectsCaller(t *testing.T) {
	s, ch, _ := startStream(t)

	w := handleAsync(s, &jsonrpc.Request{ID: json.RawMessage(`"x"`), Method: "m"})
	ch.nextOut(t)
	ch.deliver(`{"jsonrpc":"2.0","id":"x"}`)

	h := waitHandled(t, w)
	var perr *ProtocolError
	assert.ErrorAs(t, h.err, &perr)
	assert.Equal(t, 0, s.Pending())
}

// TEST1006: Cancelling a caller's context withdraws only its own entry
func TestContextCancelWithdrawsEntry(t *testing.T) {
	s, ch, _ := startStream(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := s.Handle(ctx, &jsonrpc.Request{ID: json.RawMessage(`1`), Method: "slow"})
		cancelled <- err
	}()
	ch.nextOut(t)
	other := handleAsync(s, &jsonrpc.Request{ID: json.RawMessage(`2`), Method: "fast"})
	ch.nextOut(t)

	cancel()
	assert.ErrorIs(t, <-cancelled, context.Canceled)
	require.Eventually(t, func() bool { return s.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	ch.deliver(`{"jsonrpc":"2.0","id":2,"result":1}`)
	h := waitHandled(t, other)
	require.NoError(t, h.err)
}

// TEST1007: Requests need a unique id and a send failure surfaces as disconnected
func TestHandleValidation(t *testing.T) {
	ch := newFakeChannel()
	s := New(ch, nil)

	_, err := s.Handle(context.Background(), &jsonrpc.Request{Method: "m"})
	var verr *jsonrpc.ValidationError
	assert.ErrorAs(t, err, &verr)

	go func() { _, _ = s.Handle(context.Background(), &jsonrpc.Request{ID: json.RawMessage(`1`), Method: "m"}) }()
	<-ch.out
	_, err = s.Handle(context.Background(), &jsonrpc.Request{ID: json.RawMessage(` 1`), Method: "m"})
	assert.ErrorAs(t, err, &verr, "duplicate id")

	ch.mu.Lock()
	ch.sendErr = errors.New("write failed")
	ch.mu.Unlock()
	_, err = s.Handle(context.Background(), &jsonrpc.Request{ID: json.RawMessage(`2`), Method: "m"})
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, 1, s.Pending())
}

// TEST1008: Response hooks see the request method and run before the caller resumes, in wire order with notifications
func TestResponseHookOrdering(t *testing.T) {
	s, ch, _ := startStream(t)

	var mu sync.Mutex
	var seen []string
	s.OnResponse(func(method string, resp *jsonrpc.Response) {
		mu.Lock()
		seen = append(seen, method+"="+string(resp.Result))
		mu.Unlock()
	})
	s.OnNotification(func(n *jsonrpc.Notification) {
		mu.Lock()
		seen = append(seen, n.Method+"="+string(n.Payload()))
		mu.Unlock()
	})

	call := handleAsync(s, &jsonrpc.Request{ID: json.RawMessage(`7`), Method: "eth_accounts"})
	ch.nextOut(t)
	ch.deliver(`{"jsonrpc":"2.0","id":7,"result":["0xA"]}`)
	ch.deliver(`{"jsonrpc":"2.0","method":"wallet_accountsChanged","params":["0xB"]}`)

	h := waitHandled(t, call)
	require.NoError(t, h.err)
	mu.Lock()
	assert.Equal(t, []string{`eth_accounts=["0xA"]`}, seen[:1], "hook ran before the caller resumed")
	mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, `wallet_accountsChanged=["0xB"]`, seen[1])
}
