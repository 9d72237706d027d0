package port

import (
	"context"
	"encoding/json"

	"github.com/Wyydra/loopync/internal/core/domain"
)

// InboundEvent is one named event as delivered by the realtime transport.
// Lifecycle events (connect, disconnect, connect_error) use the same shape.
type InboundEvent struct {
	Name string
	Data json.RawMessage
}

// RealTimeDialer opens the single realtime connection of a session.
type RealTimeDialer interface {
	Dial(ctx context.Context, endpoint, token string) (RealTimeConn, error)
}

// RealTimeConn is a live connection. Events is closed once the connection
// is closed and no more events will arrive.
type RealTimeConn interface {
	Events() <-chan InboundEvent
	Emit(event string, payload any) error
	State() domain.ConnState
	Close() error
}
