// Package server implements the backend side of a wsrpc connection.
//
// A Supervisor owns the Processors, one per accepted connection.
// Each Processor reads Requests sequentially, dispatches them into its
// Session and writes back a Response or an error Response carrying the same
// id. Events published on the configured broker.Broker are pushed to every
// connection as Notifications named after their topic.
//
// Processors that lose interest (their connection closed or their Session
// reports it no longer cares) are pruned whenever a new connection is
// attached, after each dispatch, and periodically while Supervisor.Run is
// active. Pruning only drops a Processor from the active set; its connection
// is served until it closes.
//
//	router := server.NewRouter()
//	server.Register(router, "echo", "Echo the params back", func(ctx context.Context, p Params) (Params, error) {
//		return p, nil
//	})
//	sup := server.NewSupervisor(server.StaticSession(router), server.WithBroker(b))
//	go sup.Run(ctx)
//	http.Handle("/", server.Handler(sup))
package server
