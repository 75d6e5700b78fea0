package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID is the integer call identifier correlating a Request with its
// Response. Envelopes carry it by pointer so that absence is observable.
type RequestID int64

// NewRequestID returns a pointer to the given id.
func NewRequestID(n int64) *RequestID {
	id := RequestID(n)
	return &id
}

// String returns the decimal form of the id, or "" for a nil id.
func (id *RequestID) String() string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(int64(*id), 10)
}

// Int64 returns the id value. A nil id yields -1.
func (id *RequestID) Int64() int64 {
	if id == nil {
		return -1
	}
	return int64(*id)
}

// UnmarshalJSON accepts integral JSON numbers only.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	num, ok := v.(json.Number)
	if !ok {
		return fmt.Errorf("id must be an integer, got: %s", string(data))
	}
	n, err := num.Int64()
	if err != nil {
		return fmt.Errorf("id must be an integer, got: %s", string(data))
	}
	*id = RequestID(n)
	return nil
}
