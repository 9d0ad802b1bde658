package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/filegrind/inpage-go/jsonrpc"
)

// IDGenerator returns a fresh request id that is unique for the life of the
// provider.
type IDGenerator func() json.RawMessage

// UUIDGenerator produces random string ids.
func UUIDGenerator() json.RawMessage {
	return jsonrpc.StringID(uuid.NewString())
}

// IDRemapper replaces each caller id with an internal one so that callers
// reusing ids never collide on the wire.
type IDRemapper struct {
	gen IDGenerator

	mu       sync.Mutex
	original map[string]json.RawMessage
}

// NewIDRemapper creates a remapper. A nil gen uses UUIDGenerator.
func NewIDRemapper(gen IDGenerator) *IDRemapper {
	if gen == nil {
		gen = UUIDGenerator
	}
	return &IDRemapper{
		gen:      gen,
		original: make(map[string]json.RawMessage),
	}
}

// Middleware returns the remapping step.
func (r *IDRemapper) Middleware() Middleware {
	return func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
		internal := r.gen()
		key := jsonrpc.IDKey(internal)

		r.mu.Lock()
		if _, taken := r.original[key]; taken {
			r.mu.Unlock()
			return nil, &jsonrpc.ValidationError{Details: "internal id generator repeated id " + key}
		}
		r.original[key] = req.ID
		r.mu.Unlock()

		defer func() {
			r.mu.Lock()
			delete(r.original, key)
			r.mu.Unlock()
		}()

		out := req.Clone()
		out.ID = internal
		resp, err := next(ctx, out)
		if resp != nil {
			resp.ID = req.ID
		}
		return resp, err
	}
}

// InFlight reports how many remapped requests are awaiting a response.
func (r *IDRemapper) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.original)
}

// IDRemap is shorthand for NewIDRemapper(gen).Middleware().
func IDRemap(gen IDGenerator) Middleware {
	return NewIDRemapper(gen).Middleware()
}
