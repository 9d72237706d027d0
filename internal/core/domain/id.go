package domain

import (
	"github.com/google/uuid"
)

// Identifiers issued by the backend are opaque strings.
type UserID string
type CallID string
type ThreadID string
type MessageID string

// ClientID identifies one local bridge connection.
type ClientID string

func NewClientID() ClientID {
	return ClientID(uuid.New().String())
}

func (id UserID) String() string {
	return string(id)
}

func (id CallID) String() string {
	return string(id)
}

func (id ThreadID) String() string {
	return string(id)
}

func (id MessageID) String() string {
	return string(id)
}

func (id ClientID) String() string {
	return string(id)
}
