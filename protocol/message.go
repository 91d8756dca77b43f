package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

// Version is the CKP protocol version implemented by this runtime.
const Version = "0.2.0"

// JSONRPCVersion is the only accepted value of the "jsonrpc" envelope field.
const JSONRPCVersion = "2.0"

// SupportedVersions lists the protocol versions reported to a peer whose
// major version does not match.
var SupportedVersions = []string{Version}

// Request is a JSON-RPC 2.0 request or notification. Notifications carry
// no ID (or an explicit null ID).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, nullJSON)
}

// IDString renders the request ID as a plain string. String IDs are
// unquoted, numeric IDs keep their literal form and notifications yield "".
func (r *Request) IDString() string {
	if r.IsNotification() {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	return string(r.ID)
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a one-way message sent by the agent, such as a heartbeat.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Handler processes one dispatched request. The returned value becomes the
// response result. Returning an *Error reports that error verbatim; any
// other error is reported as an internal error. Returning ErrNoResponse
// suppresses the response even when the request carries an ID.
type Handler func(ctx context.Context, req *Request) (any, error)

// ErrNoResponse marks a handler that never answers, such as
// claw.swarm.broadcast.
var ErrNoResponse = errors.New("no response")

var nullJSON = []byte("null")

// NewResult builds a success response. A nil result is encoded as JSON null
// so the "result" member is always present.
func NewResult(id json.RawMessage, result any) *Response {
	if result == nil {
		result = json.RawMessage(nullJSON)
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Error: err}
}

// NewNotification builds an outgoing notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

// Decode parses one frame into a Request, validating the JSON-RPC envelope
// and the shape of params.
//
// On failure it returns the *Error to report together with the ID salvaged
// from the frame (nil when none could be recovered). The returned Request is
// non-nil whenever the envelope itself was valid, so callers can tell a
// notification with bad params apart from a request with bad params.
func Decode(frame []byte) (*Request, json.RawMessage, *Error) {
	if !json.Valid(frame) {
		return nil, nil, ParseError()
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil || fields == nil {
		return nil, nil, InvalidRequest("Invalid request")
	}

	id := salvageID(fields["id"])
	if raw, ok := fields["id"]; ok && id == nil && !bytes.Equal(bytes.TrimSpace(raw), nullJSON) {
		return nil, nil, InvalidRequest("Invalid request")
	}

	var marker string
	if err := json.Unmarshal(fields["jsonrpc"], &marker); err != nil || marker != JSONRPCVersion {
		return nil, id, InvalidRequest("Invalid request")
	}

	var method string
	if err := json.Unmarshal(fields["method"], &method); err != nil {
		return nil, id, InvalidRequest("Invalid request")
	}

	req := &Request{JSONRPC: marker, ID: id, Method: method}

	if params, ok := fields["params"]; ok {
		params = bytes.TrimSpace(params)
		switch {
		case bytes.Equal(params, nullJSON):
		case len(params) > 0 && params[0] == '{':
			req.Params = params
		default:
			return req, id, InvalidParams("Invalid params: params must be an object")
		}
	}

	return req, id, nil
}

// salvageID returns raw when it is a JSON string or number, nil otherwise.
func salvageID(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch c := raw[0]; {
	case c == '"':
		return raw
	case c == '-' || (c >= '0' && c <= '9'):
		return raw
	}
	return nil
}
