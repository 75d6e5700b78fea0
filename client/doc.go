// Package client implements the client side of a wsrpc connection: one
// long-lived duplex connection carrying id-correlated calls to the backend
// and topic notifications pushed back from it.
//
// A Client is created with New (any transport.DialFunc) or Dial (WebSocket).
// The handshake runs in the background; calls issued before it completes wait
// for the connection to open or fail, never on a timer.
//
//	c := client.Dial("ws://localhost:3000/")
//	defer c.Close()
//
//	raw, err := c.Call(ctx, "pictures:getSelector", nil)
//
//	sub := c.Subscribe("pictures:getSelector")
//	for {
//		v, err := sub.Next(ctx)
//		if err != nil {
//			break
//		}
//		// handle v
//	}
//
// Every call that is still pending when the connection goes away fails with
// ErrConnectionClosed. Every subscription ends with io.EOF.
package client
