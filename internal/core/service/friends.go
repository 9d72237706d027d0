package service

import (
	"context"
	"fmt"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
)

type FriendService struct {
	backend port.FriendBackend
	socket  *SocketService
}

func NewFriendService(backend port.FriendBackend, socket *SocketService) *FriendService {
	return &FriendService{backend: backend, socket: socket}
}

func (s *FriendService) Accept(ctx context.Context, userID, friendID domain.UserID) error {
	if err := s.backend.AcceptFriend(ctx, userID, friendID); err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	s.socket.DropFriendRequest(friendID)
	return nil
}

func (s *FriendService) Reject(ctx context.Context, userID, friendID domain.UserID) error {
	if err := s.backend.RejectFriend(ctx, userID, friendID); err != nil {
		return fmt.Errorf("reject friend request: %w", err)
	}
	s.socket.DropFriendRequest(friendID)
	return nil
}
