// Package topics implements client-side fan-out of pushed notifications.
//
// A Channel is created lazily the first time a topic is subscribed to and
// multicasts every value published for that topic to all subscribers attached
// at the time of the publish. Late subscribers see only future values; there is
// no replay buffer.
//
// Channels live until the Broadcaster is closed, even when their last
// subscriber detaches. A session subscribes to a handful of fixed topics, so
// keeping them avoids re-registering upstream interest every time a consumer
// comes and goes.
//
// Example:
//
//	b := topics.NewBroadcaster(topics.WithOnCreate(func(topic string) {
//	    log.Printf("interested in %s", topic)
//	}))
//	sub := b.Subscribe("selection-changed")
//	defer sub.Close()
//	for v := range sub.C() {
//	    fmt.Println(string(v))
//	}
package topics
