// Package engine runs outbound JSON-RPC requests through an ordered chain of
// middleware steps before they reach the RPC channel.
//
// Each step sees the request on the way out and the response on the way back,
// in reverse order. A step can answer without calling next.
package engine

import (
	"context"

	"github.com/filegrind/inpage-go/jsonrpc"
)

// Handler answers a single request.
type Handler func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)

// Middleware wraps the rest of the chain.
type Middleware func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error)

// Engine is a fixed middleware chain in front of a terminal handler.
type Engine struct {
	handler Handler
}

// New builds the chain. The first middleware is outermost.
func New(terminal Handler, middleware ...Middleware) *Engine {
	h := terminal
	for i := len(middleware) - 1; i >= 0; i-- {
		next := h
		mw := middleware[i]
		h = func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
			return mw(ctx, req, next)
		}
	}
	return &Engine{handler: h}
}

// Handle sends req through the chain.
func (e *Engine) Handle(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return e.handler(ctx, req)
}
