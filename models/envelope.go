package models

import "encoding/json"

// Heartbeat is the literal frame the venue sends as a ping. The correct
// reply is the same frame, echoed on the same connection.
var Heartbeat = []byte("{}")

// Request represents a correlated client-to-server frame. Exactly one of
// Connect or Subscribe is set; the id is stamped by the correlator right
// before the frame is sent.
type Request struct {
	ID        uint64           `json:"id,omitempty"`
	Connect   *ConnectParams   `json:"connect,omitempty"`
	Subscribe *SubscribeParams `json:"subscribe,omitempty"`
}

// ConnectParams carries the session token for the authenticate request.
type ConnectParams struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// SubscribeParams names the channel a subscribe request asks for.
type SubscribeParams struct {
	Channel string `json:"channel"`
}

// Envelope is a decoded server-to-client frame. A non-zero ID marks a
// correlation response; a Push marks a channel publication; a Subscribe with
// a channel name marks a server-initiated subscribe acknowledgement.
type Envelope struct {
	ID        uint64           `json:"id,omitempty"`
	Connect   json.RawMessage  `json:"connect,omitempty"`
	Subscribe *SubscribeResult `json:"subscribe,omitempty"`
	Push      *Push            `json:"push,omitempty"`
	Error     *Error           `json:"error,omitempty"`
}

// SubscribeResult carries the channel-specific initial data returned when a
// subscription is confirmed.
type SubscribeResult struct {
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Push is an incremental update published on a subscribed channel.
type Push struct {
	Channel string       `json:"channel"`
	Pub     *Publication `json:"pub,omitempty"`
}

// Publication wraps the payload of a push frame.
type Publication struct {
	Data json.RawMessage `json:"data"`
}

// Error is the error body the venue attaches to a failed request.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
