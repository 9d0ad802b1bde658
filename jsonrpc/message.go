// Package jsonrpc defines the JSON-RPC 2.0 messages exchanged with the
// remote process, their error codes and schema validation of raw input.
package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// Request is an outbound call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request, marshalling params when they are not already raw JSON.
func NewRequest(id json.RawMessage, method string, params interface{}) (*Request, error) {
	req := &Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		raw, ok := params.(json.RawMessage)
		if !ok {
			var err error
			raw, err = json.Marshal(params)
			if err != nil {
				return nil, err
			}
		}
		req.Params = raw
	}
	return req, nil
}

// Clone returns a shallow copy safe for id substitution.
func (r *Request) Clone() *Request {
	c := *r
	return &c
}

// Response answers one Request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResult builds a successful response.
func NewResult(id json.RawMessage, result json.RawMessage) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

// Notification is an unsolicited message pushed by the remote side.
// Some remotes put the payload in result instead of params.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Payload returns params, falling back to result.
func (n *Notification) Payload() json.RawMessage {
	if len(n.Params) > 0 {
		return n.Params
	}
	return n.Result
}

// Message is the union of everything that can arrive on the RPC channel.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	return !IsNullID(m.ID)
}

// IsResponse reports whether the message carries a result or an error.
func (m *Message) IsResponse() bool {
	return len(m.Result) > 0 || m.Error != nil
}

// Response converts the message into a Response.
func (m *Message) Response() *Response {
	return &Response{JSONRPC: m.JSONRPC, ID: m.ID, Result: m.Result, Error: m.Error}
}

// Notification converts the message into a Notification.
func (m *Message) Notification() *Notification {
	return &Notification{JSONRPC: m.JSONRPC, Method: m.Method, Params: m.Params, Result: m.Result}
}

// IsNullID reports whether id is absent or JSON null.
func IsNullID(id json.RawMessage) bool {
	trimmed := bytes.TrimSpace(id)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// IDKey returns a map key for id that is stable across formatting.
func IDKey(id json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(id, &v); err != nil {
		return string(bytes.TrimSpace(id))
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return string(bytes.TrimSpace(id))
	}
	return string(canonical)
}

// StringID encodes s as a JSON string id.
func StringID(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}
