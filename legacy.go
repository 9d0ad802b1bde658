package inpage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/filegrind/inpage-go/jsonrpc"
)

// SendSync answers the few methods that can be served from cached state
// without a round trip. eth_uninstallFilter is forwarded without waiting and
// reports true. Every other method fails with code 4200.
func (p *Provider) SendSync(req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req == nil {
		return nil, validationError(jsonrpc.CodeInvalidRequest, "request is nil")
	}

	var result interface{}
	switch req.Method {
	case "eth_accounts":
		result = p.state.Accounts()
	case "eth_coinbase":
		if addr, ok := p.state.SelectedAddress(); ok {
			result = addr
		}
	case "net_version":
		if version, ok := p.state.NetworkVersion(); ok {
			result = version
		}
	case "eth_uninstallFilter":
		forwarded := req.Clone()
		forwarded.ID = nil
		go func() {
			if _, err := p.Send(context.Background(), forwarded); err != nil {
				p.log.Debug("eth_uninstallFilter failed", zap.Error(err))
			}
		}()
		result = true
	default:
		return nil, validationError(jsonrpc.CodeUnsupportedMethod,
			fmt.Sprintf("method %q is not supported synchronously; use Request", req.Method))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, validationError(jsonrpc.CodeInternal, err.Error())
	}
	return jsonrpc.NewResult(req.ID, raw), nil
}

// LegacyResult is a request in flight. Value reads it without blocking;
// Await waits for it.
type LegacyResult struct {
	done chan struct{}
	resp *jsonrpc.Response
	err  error
}

// SendLegacy starts a request and returns immediately.
func (p *Provider) SendLegacy(ctx context.Context, method string, params interface{}) *LegacyResult {
	r := &LegacyResult{done: make(chan struct{})}
	req, err := jsonrpc.NewRequest(p.newID(), method, params)
	if err != nil {
		r.err = validationError(jsonrpc.CodeInvalidParams, err.Error())
		close(r.done)
		return r
	}
	go func() {
		defer close(r.done)
		r.resp, r.err = p.Send(ctx, req)
	}()
	return r
}

// Value returns the response if it has arrived. The bool is false while the
// request is still in flight or when it failed without a response.
func (r *LegacyResult) Value() (*jsonrpc.Response, bool) {
	select {
	case <-r.done:
		return r.resp, r.resp != nil
	default:
		return nil, false
	}
}

// Done is closed once the request has completed.
func (r *LegacyResult) Done() <-chan struct{} {
	return r.done
}

// Await waits for the response or ctx.
func (r *LegacyResult) Await(ctx context.Context) (*jsonrpc.Response, error) {
	select {
	case <-r.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
