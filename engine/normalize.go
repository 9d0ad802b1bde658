package engine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/filegrind/inpage-go/jsonrpc"
)

var emptyAccounts = json.RawMessage(`[]`)

// ErrorNormalization rejects requests without a method, logs remote errors
// and turns an unauthorized eth_accounts into an empty account list.
func ErrorNormalization(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
		if req.Method == "" {
			return nil, &jsonrpc.ValidationError{Details: "request has no method"}
		}

		resp, err := next(ctx, req)
		if err != nil || resp == nil || resp.Error == nil {
			return resp, err
		}

		log.Debug("remote returned error",
			zap.String("method", req.Method),
			zap.Int("code", resp.Error.Code),
			zap.String("message", resp.Error.Message))

		if req.Method == "eth_accounts" && resp.Error.Code == jsonrpc.CodeUnauthorized {
			resp.Error = nil
			resp.Result = emptyAccounts
		}
		return resp, nil
	}
}
