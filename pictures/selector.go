package pictures

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/wsrpc/client"
	"github.com/ggoodman/wsrpc/topics"
)

// Conn is the part of client.Client a Selector needs.
type Conn interface {
	Send(ctx context.Context, method string, params any) (*client.Call, error)
	Subscribe(topic string) *topics.Subscription
}

// Selector is the client-side API of the picture selector.
type Selector struct {
	conn Conn
}

// NewSelector wraps conn.
func NewSelector(conn Conn) *Selector {
	return &Selector{conn: conn}
}

// GetSelector fetches the current state.
func (s *Selector) GetSelector(ctx context.Context) (DropDownData, error) {
	return s.call(ctx, MethodGetSelector, nil)
}

// UpdatePicture advances the backend's selection by one.
func (s *Selector) UpdatePicture(ctx context.Context) (DropDownData, error) {
	return s.call(ctx, MethodUpdatePicture, nil)
}

// Select selects the picture at index.
func (s *Selector) Select(ctx context.Context, index int) (DropDownData, error) {
	return s.call(ctx, MethodSelect, SelectParams{Index: index})
}

// Updates subscribes to selector changes pushed by the backend. Every call
// returns an independent stream over the same topic.
func (s *Selector) Updates() *Updates {
	return &Updates{sub: s.conn.Subscribe(TopicSelector)}
}

// Initialize subscribes to updates and then fetches the current state, so no
// change between the two is missed.
func (s *Selector) Initialize(ctx context.Context) (DropDownData, *Updates, error) {
	u := s.Updates()
	data, err := s.GetSelector(ctx)
	if err != nil {
		u.Close()
		return DropDownData{}, nil, err
	}
	return data, u, nil
}

func (s *Selector) call(ctx context.Context, method string, params any) (DropDownData, error) {
	call, err := s.conn.Send(ctx, method, params)
	if err != nil {
		return DropDownData{}, err
	}
	var data DropDownData
	if err := call.Decode(ctx, &data); err != nil {
		return DropDownData{}, err
	}
	return data, nil
}

// Updates is a stream of pushed selector states.
type Updates struct {
	sub *topics.Subscription
}

// Next blocks for the next state. It returns io.EOF once the stream or its
// connection closes.
func (u *Updates) Next(ctx context.Context) (DropDownData, error) {
	raw, err := u.sub.Next(ctx)
	if err != nil {
		return DropDownData{}, err
	}
	var data DropDownData
	if err := json.Unmarshal(raw, &data); err != nil {
		return DropDownData{}, fmt.Errorf("failed to decode selector update: %w", err)
	}
	return data, nil
}

// Close stops this stream. Other streams on the topic are unaffected.
func (u *Updates) Close() { _ = u.sub.Close() }

var _ Conn = (*client.Client)(nil)
