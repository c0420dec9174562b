// Package relay fans chat events out to every connected client in real
// time. Delivery is global: each event reaches all live sessions, the
// sender included, and receivers decide what is relevant to them. The
// relay never touches storage; persistence happens over the REST API.
package relay

import "time"

// EventSendMessage is the only event name clients may emit.
const EventSendMessage = "send_message"

// Sources for broadcast metrics: events from a local session versus events
// arriving over the cross-instance bridge.
const (
	SourceLocal  = "local"
	SourceBridge = "bridge"
)

// MessagePayload is the body of a send_message event. Field names match
// the REST message representation so clients reuse one decoder.
type MessagePayload struct {
	UserID    string    `json:"user_id"`
	ChatID    string    `json:"chat_id"`
	Message   string    `json:"message"`
	ImageID   string    `json:"imageId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Envelope is the wire frame exchanged over a relay session.
type Envelope struct {
	Event string         `json:"event"`
	Data  MessagePayload `json:"data"`
}
