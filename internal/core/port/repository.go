package port

import (
	"context"

	"github.com/Wyydra/loopync/internal/core/domain"
)

// ThreadRepository keeps the last fetched snapshot of each thread.
type ThreadRepository interface {
	ReplaceThread(ctx context.Context, threadID domain.ThreadID, msgs []domain.Message) error
	Thread(ctx context.Context, threadID domain.ThreadID) ([]domain.Message, error)
	// Clear forgets every thread.
	Clear(ctx context.Context) error
}

// SessionStore persists the session under domain.TokenKey/domain.UserKey.
// Load returns domain.ErrNoSession when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context) (domain.Session, error)
	Save(ctx context.Context, s domain.Session) error
	Clear(ctx context.Context) error
}

// SessionWatcher reports sessions written or removed by another process.
// A nil session means logged out.
type SessionWatcher interface {
	Watch(ctx context.Context, fn func(*domain.Session)) error
}

type PresenceStore interface {
	SetState(ctx context.Context, userID domain.UserID, state domain.ConnState) error
	State(ctx context.Context, userID domain.UserID) (domain.ConnState, error)
}
