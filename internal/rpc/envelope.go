// Package rpc implements the JSON-RPC 2.0 envelope and tool dispatcher.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only accepted jsonrpc value.
const Version = "2.0"

// Standard and server error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Request is an inbound envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the id member is absent. An explicit
// "id": null is a request and is answered with a null id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is an outbound envelope. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error member of a response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

var nullID = json.RawMessage("null")

func responseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

// NewResult builds a success response.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: responseID(id), Result: result}
}

// NewError builds an error response.
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: responseID(id), Error: &Error{Code: code, Message: message}}
}

// ParseError is the response for bytes that are not a valid envelope.
func ParseError(err error) *Response {
	msg := "Parse error"
	if err != nil {
		msg = "Parse error: " + err.Error()
	}
	return NewError(nil, CodeParseError, msg)
}

// Decode parses one envelope. On failure it returns the response to send
// instead, without reaching the dispatcher.
func Decode(data []byte) (*Request, *Response) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ParseError(fmt.Errorf("empty body"))
	}
	if data[0] != '{' {
		return nil, ParseError(fmt.Errorf("envelope must be a JSON object"))
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, ParseError(err)
	}
	if req.JSONRPC != Version {
		return nil, NewError(req.ID, CodeInvalidRequest, `Invalid Request: jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return nil, NewError(req.ID, CodeInvalidRequest, "Invalid Request: method is required")
	}
	return &req, nil
}
