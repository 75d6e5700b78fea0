package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode_Kinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  Kind
	}{
		{"request", `{"jsonrpc":"2.0","id":0,"method":"get-selector","params":{}}`, KindRequest},
		{"request without params", `{"jsonrpc":"2.0","id":3,"method":"get-selector"}`, KindRequest},
		{"response", `{"jsonrpc":"2.0","id":0,"method":"get-selector","result":{"selectedIndex":1}}`, KindResponse},
		{"response without method", `{"jsonrpc":"2.0","id":7,"result":true}`, KindResponse},
		{"response with null result", `{"jsonrpc":"2.0","id":7,"result":null}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":2,"method":"x","error":{"code":-32601,"message":"nope"}}`, KindResponse},
		{"notification", `{"jsonrpc":"2.0","method":"selection-changed","result":{"index":2}}`, KindNotification},
		{"notification without version", `{"method":"selection-changed","result":1}`, KindNotification},
		{"null id is a notification", `{"jsonrpc":"2.0","id":null,"method":"t","result":1}`, KindNotification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := env.Kind(); got != tt.want {
				t.Fatalf("Kind() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	frames := map[string]string{
		"not json":             `{"id":`,
		"array":                `[1,2,3]`,
		"empty object":         `{}`,
		"id only":              `{"jsonrpc":"2.0","id":4}`,
		"result and error":     `{"jsonrpc":"2.0","id":4,"result":1,"error":{"code":1,"message":"x"}}`,
		"string id":            `{"jsonrpc":"2.0","id":"abc","result":1}`,
		"fractional id":        `{"jsonrpc":"2.0","id":1.5,"result":1}`,
		"foreign version":      `{"jsonrpc":"1.0","id":1,"result":1}`,
		"error without id":     `{"jsonrpc":"2.0","method":"x","error":{"code":1,"message":"x"}}`,
		"result without route": `{"jsonrpc":"2.0","result":1}`,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			if !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestNewRequest_WireShape(t *testing.T) {
	t.Parallel()

	env, err := NewRequest(0, "get-selector", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	b, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["id"]) != "0" {
		t.Fatalf("expected id 0 on the wire, got %s", raw["id"])
	}
	if string(raw["jsonrpc"]) != `"2.0"` {
		t.Fatalf("expected version tag, got %s", raw["jsonrpc"])
	}
	if string(raw["params"]) != `{}` {
		t.Fatalf("expected empty params object, got %s", raw["params"])
	}
	if _, ok := raw["result"]; ok {
		t.Fatalf("request must not carry result")
	}
}

func TestNewErrorResponse_Decodes(t *testing.T) {
	t.Parallel()

	env := NewErrorResponse(NewRequestID(9), "boom", NewError(ErrorCodeInternalError, "failed", map[string]string{"why": "x"}))
	b, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind() != KindResponse {
		t.Fatalf("expected response, got %s", got.Kind())
	}
	if got.ID.Int64() != 9 {
		t.Fatalf("expected id 9, got %s", got.ID)
	}
	if got.Error == nil || got.Error.Code != ErrorCodeInternalError {
		t.Fatalf("unexpected error payload: %+v", got.Error)
	}
	if string(got.Error.Data) != `{"why":"x"}` {
		t.Fatalf("unexpected error data: %s", got.Error.Data)
	}
}

func TestNewNotification_PassesRawThrough(t *testing.T) {
	t.Parallel()

	env, err := NewNotification("selection-changed", json.RawMessage(`{"index":2}`))
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	if env.ID != nil {
		t.Fatalf("notification must not carry an id")
	}
	if string(env.Result) != `{"index":2}` {
		t.Fatalf("unexpected result: %s", env.Result)
	}
	if env.Kind() != KindNotification {
		t.Fatalf("expected notification, got %s", env.Kind())
	}
}
