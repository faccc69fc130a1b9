// Package hub fans published messages out to websocket subscribers grouped
// by topic, using the channel-based register/unregister/publish loop.
package hub

// MessageType indicates the websocket frame type used for a message.
type MessageType int

const (
	// JSONMessage is sent as a text frame.
	JSONMessage MessageType = iota
	// BinaryMessage is sent as a binary frame.
	BinaryMessage
)

// Message is a payload queued for delivery.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// envelope is a message addressed to one topic.
type envelope struct {
	topic string
	msg   Message
}
