package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the static version tag copied into every envelope.
const ProtocolVersion = "2.0"

// Kind discriminates the three envelope shapes.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Envelope is the single wire entity exchanged over a connection. Which of
// the optional fields are present decides its Kind:
//
//	Request:      id, method, params
//	Response:     id, method, result | error
//	Notification: method, result
type Envelope struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	ID             *RequestID      `json:"id,omitempty"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object carried by a failed Response.
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an Error, marshaling data when non-nil.
func NewError(code ErrorCode, message string, data any) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			e.Data = b
		}
	}
	return e
}

// Kind classifies the envelope. The presence of an id is the primary
// discriminator; method is never used to tell Responses from Notifications.
func (e *Envelope) Kind() Kind {
	hasResult := len(e.Result) > 0
	hasError := e.Error != nil
	if e.ID != nil {
		switch {
		case hasResult && hasError:
			return KindInvalid
		case hasResult || hasError:
			return KindResponse
		case e.Method != "":
			return KindRequest
		default:
			return KindInvalid
		}
	}
	if e.Method != "" && !hasError {
		return KindNotification
	}
	return KindInvalid
}

// Decode parses one frame. Any frame that does not parse, carries a foreign
// version tag, or matches none of the three shapes yields ErrMalformedFrame.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	if env.JSONRPCVersion != "" && env.JSONRPCVersion != ProtocolVersion {
		return nil, malformed("unsupported version %q", env.JSONRPCVersion)
	}
	if env.Kind() == KindInvalid {
		return nil, malformed("unrecognized envelope shape")
	}
	return &env, nil
}

// Encode marshals the envelope for the wire.
func Encode(env *Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b, nil
}

// NewRequest builds a Request envelope. Nil params are sent as an empty object.
func NewRequest(id int64, method string, params any) (*Envelope, error) {
	raw := json.RawMessage(`{}`)
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		raw = b
	}
	return &Envelope{
		JSONRPCVersion: ProtocolVersion,
		ID:             NewRequestID(id),
		Method:         method,
		Params:         raw,
	}, nil
}

// NewResultResponse builds a successful Response to the given request.
func NewResultResponse(id *RequestID, method string, result any) (*Envelope, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Envelope{
		JSONRPCVersion: ProtocolVersion,
		ID:             id,
		Method:         method,
		Result:         resultBytes,
	}, nil
}

// NewErrorResponse builds a failed Response to the given request.
func NewErrorResponse(id *RequestID, method string, rpcErr *Error) *Envelope {
	return &Envelope{
		JSONRPCVersion: ProtocolVersion,
		ID:             id,
		Method:         method,
		Error:          rpcErr,
	}
}

// NewNotification builds an id-less Notification for topic.
func NewNotification(topic string, result any) (*Envelope, error) {
	var resultBytes json.RawMessage
	if raw, ok := result.(json.RawMessage); ok && len(raw) > 0 {
		resultBytes = raw
	} else {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		resultBytes = b
	}
	return &Envelope{
		JSONRPCVersion: ProtocolVersion,
		Method:         topic,
		Result:         resultBytes,
	}, nil
}
