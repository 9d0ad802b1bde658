package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/filegrind/inpage-go/jsonrpc"
)

func echoResult(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return jsonrpc.NewResult(req.ID, json.RawMessage(`"`+req.Method+`"`)), nil
}

func sequentialIDs() IDGenerator {
	var n int64
	return func() json.RawMessage {
		return json.RawMessage(fmt.Sprintf("%d", atomic.AddInt64(&n, 1)+1000))
	}
}

// TEST901: Steps run outbound in order and inbound in reverse
func TestChainOrder(t *testing.T) {
	var trace []string
	step := func(name string) Middleware {
		return func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
			trace = append(trace, name+">")
			resp, err := next(ctx, req)
			trace = append(trace, "<"+name)
			return resp, err
		}
	}
	terminal := func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		trace = append(trace, "terminal")
		return echoResult(ctx, req)
	}

	e := New(terminal, step("a"), step("b"))
	_, err := e.Handle(context.Background(), &jsonrpc.Request{Method: "m"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a>", "b>", "terminal", "<b", "<a"}, trace)
}

// TEST902: A step that does not call next short-circuits the chain
func TestChainShortCircuit(t *testing.T) {
	called := false
	terminal := func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		called = true
		return nil, nil
	}
	cached := func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
		return jsonrpc.NewResult(req.ID, json.RawMessage(`"cached"`)), nil
	}

	resp, err := New(terminal, cached).Handle(context.Background(), &jsonrpc.Request{Method: "m"})
	require.NoError(t, err)
	assert.False(t, called)
	assert.JSONEq(t, `"cached"`, string(resp.Result))
}

// TEST903: Concurrent requests with the same caller id get distinct wire ids and their own responses
func TestIDRemapColliding(t *testing.T) {
	remap := NewIDRemapper(sequentialIDs())

	var mu sync.Mutex
	seen := map[string]bool{}
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	terminal := func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		mu.Lock()
		seen[jsonrpc.IDKey(req.ID)] = true
		mu.Unlock()
		arrived <- struct{}{}
		<-release
		return jsonrpc.NewResult(req.ID, req.Params), nil
	}
	e := New(terminal, remap.Middleware())

	callerID := json.RawMessage(`1`)
	results := make([]*jsonrpc.Response, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := jsonrpc.NewRequest(callerID, "m", []int{i})
			resp, err := e.Handle(context.Background(), req)
			assert.NoError(t, err)
			results[i] = resp
		}(i)
	}

	<-arrived
	<-arrived
	assert.Equal(t, 2, remap.InFlight())
	close(release)
	wg.Wait()

	assert.Len(t, seen, 2, "wire ids must be distinct")
	assert.False(t, seen[jsonrpc.IDKey(callerID)], "caller id never reaches the wire")
	for i, resp := range results {
		require.NotNil(t, resp)
		assert.Equal(t, "1", string(resp.ID), "original id restored")
		assert.JSONEq(t, fmt.Sprintf("[%d]", i), string(resp.Result))
	}
	assert.Equal(t, 0, remap.InFlight())
}

// TEST904: Mappings are removed when the rest of the chain fails
func TestIDRemapCleansUpOnError(t *testing.T) {
	remap := NewIDRemapper(nil)
	boom := errors.New("boom")
	e := New(func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		return nil, boom
	}, remap.Middleware())

	_, err := e.Handle(context.Background(), &jsonrpc.Request{ID: json.RawMessage(`5`), Method: "m"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, remap.InFlight())
}

// TEST905: The caller's request is not modified by remapping
func TestIDRemapDoesNotMutateCaller(t *testing.T) {
	e := New(echoResult, IDRemap(nil))
	req := &jsonrpc.Request{ID: json.RawMessage(`"mine"`), Method: "m"}
	resp, err := e.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `"mine"`, string(req.ID))
	assert.Equal(t, `"mine"`, string(resp.ID))
}

// TEST906: Unauthorized eth_accounts becomes an empty list while other errors pass through
func TestErrorNormalization(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	unauthorized := func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeUnauthorized, "unauthorized")), nil
	}
	e := New(unauthorized, ErrorNormalization(zap.New(core)))

	resp, err := e.Handle(context.Background(), &jsonrpc.Request{ID: json.RawMessage(`1`), Method: "eth_accounts"})
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `[]`, string(resp.Result))

	resp, err = e.Handle(context.Background(), &jsonrpc.Request{ID: json.RawMessage(`2`), Method: "eth_sendTransaction"})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeUnauthorized, resp.Error.Code)

	assert.Equal(t, 2, logs.FilterMessage("remote returned error").Len())
}

// TEST907: A request without a method is rejected before reaching the terminal handler
func TestErrorNormalizationRejectsMissingMethod(t *testing.T) {
	called := false
	e := New(func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		called = true
		return nil, nil
	}, ErrorNormalization(nil))

	_, err := e.Handle(context.Background(), &jsonrpc.Request{ID: json.RawMessage(`1`)})
	var verr *jsonrpc.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.False(t, called)
}

// TEST908: Recovery turns a panic into an error
func TestRecovery(t *testing.T) {
	e := New(func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		panic("kaboom")
	}, Recovery(nil))

	resp, err := e.Handle(context.Background(), &jsonrpc.Request{Method: "m"})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

// TEST909: Metrics count requests by method and status
func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "test")
	require.NoError(t, err)
	e := New(func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		if req.Method == "fail" {
			return nil, errors.New("down")
		}
		return echoResult(ctx, req)
	}, m.Middleware())

	_, _ = e.Handle(context.Background(), &jsonrpc.Request{Method: "ok"})
	_, _ = e.Handle(context.Background(), &jsonrpc.Request{Method: "ok"})
	_, _ = e.Handle(context.Background(), &jsonrpc.Request{Method: "fail"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.calls.WithLabelValues("ok", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("fail", "error")))
}

// TEST910: Logging records outcomes without altering them
func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := New(echoResult, Logging(zap.New(core)))

	resp, err := e.Handle(context.Background(), &jsonrpc.Request{ID: json.RawMessage(`1`), Method: "eth_chainId"})
	require.NoError(t, err)
	assert.JSONEq(t, `"eth_chainId"`, string(resp.Result))
	assert.Equal(t, 1, logs.FilterMessage("rpc request").Len())
	assert.Equal(t, 1, logs.FilterMessage("rpc response").Len())
}

// TEST911: Method labels are capped and a second Metrics on the same registry shares the collectors
func TestMetricsLabelCapAndSharing(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "test")
	require.NoError(t, err)
	e := New(echoResult, m.Middleware())

	for i := 0; i < methodLabelLimit+10; i++ {
		_, _ = e.Handle(context.Background(), &jsonrpc.Request{Method: fmt.Sprintf("opaque_%d", i)})
	}
	_, _ = e.Handle(context.Background(), &jsonrpc.Request{Method: "opaque_0"})

	assert.Equal(t, methodLabelLimit+1, testutil.CollectAndCount(m.calls))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.calls.WithLabelValues(otherMethod, "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.calls.WithLabelValues("opaque_0", "success")))

	again, err := NewMetrics(reg, "test")
	require.NoError(t, err)
	assert.Same(t, m.calls, again.calls)
}
