// Package protocol defines the wire shapes exchanged between gateway clients
// and the server: request/response/event frames, the closed error-code set,
// and the dotted method/event name vocabulary.
package protocol

import "encoding/json"

// FrameKind discriminates the three wire shapes that flow over a connection.
type FrameKind string

const (
	KindRequest  FrameKind = "req"
	KindResponse FrameKind = "res"
	KindEvent    FrameKind = "evt"
)

// Request is a client→server call.
type Request struct {
	Kind   FrameKind       `json:"kind"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is a server→client reply, always addressed to a Request.ID.
type Response struct {
	Kind   FrameKind   `json:"kind"`
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

// Event is a server→client push, unaddressed to any particular request.
type Event struct {
	Kind    FrameKind   `json:"kind"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	TS      int64       `json:"ts"`
}

// ErrorCode is one of the closed, wire-stable error codes. Never extend this
// set from call sites; add a new named constant here instead.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrToolNotFound   ErrorCode = "TOOL_NOT_FOUND"
	ErrStaleHash      ErrorCode = "STALE_HASH"
	ErrUnavailable    ErrorCode = "UNAVAILABLE"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrInternal       ErrorCode = "INTERNAL"
)

// Error is the frame-level error shape; Details carries structured extras
// such as fieldErrors without widening the closed Code set.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// NewError builds an *Error, the idiomatic constructor used at every call
// site that needs to fail a request.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails attaches structured details (e.g. fieldErrors) to an error.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// FieldError is the per-field validation shape referenced throughout the
// config and MCP provider apply paths.
type FieldError struct {
	ProviderID string `json:"providerId,omitempty"`
	Field      string `json:"field"`
	Message    string `json:"message"`
}

// NewResponse builds a successful response frame.
func NewResponse(id string, result interface{}) *Response {
	return &Response{Kind: KindResponse, ID: id, OK: true, Result: result}
}

// NewErrorResponse builds a failed response frame.
func NewErrorResponse(id string, err *Error) *Response {
	return &Response{Kind: KindResponse, ID: id, OK: false, Error: err}
}

// NewEvent builds an event frame; ts is supplied by the caller (a Unix
// millisecond timestamp) so the package stays free of hidden clock reads.
func NewEvent(name string, payload interface{}, ts int64) *Event {
	return &Event{Kind: KindEvent, Event: name, Payload: payload, TS: ts}
}
