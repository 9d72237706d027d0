package domain

import "time"

type Thread struct {
	ID     ThreadID `json:"id"`
	PeerID UserID   `json:"peerUserId,omitempty"`
	Peer   *User    `json:"peer,omitempty"`
}

type Message struct {
	ID        MessageID `json:"id"`
	ThreadID  ThreadID  `json:"threadId"`
	SenderID  UserID    `json:"senderId"`
	Sender    *User     `json:"sender,omitempty"`
	Text      string    `json:"text,omitempty"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Preview is the notification body for a message.
func (m Message) Preview() string {
	if m.Text == "" {
		return "Sent a photo"
	}
	return m.Text
}

func ValidateOutgoing(text, mediaURL string) error {
	if text == "" && mediaURL == "" {
		return ErrEmptyMessage
	}
	return nil
}
