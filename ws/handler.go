package ws

import "encoding/json"

// ChannelHandler consumes traffic for one channel. OnSubscribe runs once with
// the initial data returned when the subscription is confirmed; OnData runs
// for every later publication on the channel. Handlers registered on the same
// channel run in registration order; a handler that panics does not stop its
// siblings.
//
// Register a handler before subscribing, otherwise early publications can be
// missed.
type ChannelHandler interface {
	OnSubscribe(data json.RawMessage)
	OnData(data json.RawMessage)
}
