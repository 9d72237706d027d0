package domain

import "time"

// EventKind names a server-pushed realtime event, plus the transport's own
// lifecycle notifications.
type EventKind string

const (
	EventIncomingCall  EventKind = "incoming_call"
	EventCallCancelled EventKind = "call_cancelled"
	EventFriendRequest EventKind = "friend_request"
	EventFriendEvent   EventKind = "friend_event"
	EventMessage       EventKind = "message"
	EventTyping        EventKind = "typing"
	EventRead          EventKind = "read"

	EventConnect      EventKind = "connect"
	EventDisconnect   EventKind = "disconnect"
	EventConnectError EventKind = "connect_error"
)

// Outbound event names.
const (
	EmitTyping       = "typing"
	EmitCallRejected = "call_rejected"
)

// Event is the unit of fan-out. Payload holds the decoded struct for Kind.
type Event struct {
	Kind       EventKind `json:"type"`
	Payload    any       `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type FriendRequest struct {
	ID       string `json:"id,omitempty"`
	FromUser *User  `json:"from_user,omitempty"`
	ToUserID UserID `json:"to_user_id,omitempty"`
}

const FriendAccepted = "accepted"

type FriendEvent struct {
	Type string `json:"type"`
	Peer *User  `json:"peer,omitempty"`
}

type MessageEvent struct {
	ThreadID ThreadID `json:"threadId,omitempty"`
	Message  *Message `json:"message"`
}

// Thread resolves the thread the message belongs to.
func (e MessageEvent) Thread() ThreadID {
	if e.ThreadID != "" {
		return e.ThreadID
	}
	if e.Message != nil {
		return e.Message.ThreadID
	}
	return ""
}

type TypingEvent struct {
	ThreadID ThreadID `json:"threadId"`
	UserID   UserID   `json:"userId,omitempty"`
}

type ReadReceipt struct {
	ThreadID  ThreadID  `json:"threadId"`
	MessageID MessageID `json:"messageId,omitempty"`
	UserID    UserID    `json:"userId,omitempty"`
}

// ConnStatus is the payload of connect/disconnect/connect_error events.
type ConnStatus struct {
	State ConnState `json:"state"`
	Err   string    `json:"error,omitempty"`
}
