// Package pictures is the picture selector served over wsrpc.
//
// The backend side is a Service: it owns the list of pictures (a Catalog),
// the persisted selection (a storage.Storage) and publishes every change on a
// broker.Broker under TopicSelector. Each connection gets a Session from
// Service.NewSession.
//
// The client side is a Selector wrapping a client.Client.
package pictures
