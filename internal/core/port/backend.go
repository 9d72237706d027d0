package port

import (
	"context"

	"github.com/Wyydra/loopync/internal/core/domain"
)

type UserDirectory interface {
	SearchUsers(ctx context.Context, query string) ([]domain.UserSummary, error)
}

type ChatBackend interface {
	OpenThread(ctx context.Context, userID, peerID domain.UserID) (domain.Thread, error)
	ThreadMessages(ctx context.Context, threadID domain.ThreadID) ([]domain.Message, error)
	SendMessage(ctx context.Context, threadID domain.ThreadID, senderID domain.UserID, text, mediaURL string) (domain.Message, error)
}

type FriendBackend interface {
	AcceptFriend(ctx context.Context, userID, friendID domain.UserID) error
	RejectFriend(ctx context.Context, userID, friendID domain.UserID) error
}

type AuthBackend interface {
	Login(ctx context.Context, email, password string) (domain.Session, error)
}
