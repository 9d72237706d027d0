package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/rs/zerolog/log"
)

// ChatService keeps thread snapshots. Every change re-fetches the whole
// thread; only the most recently issued fetch of a thread is stored.
type ChatService struct {
	repo    port.ThreadRepository
	backend port.ChatBackend

	mu       sync.Mutex
	gen      map[domain.ThreadID]uint64
	epoch    uint64
	onUpdate func(domain.ThreadID, []domain.Message)
}

func NewChatService(repo port.ThreadRepository, backend port.ChatBackend) *ChatService {
	return &ChatService{
		repo:    repo,
		backend: backend,
		gen:     make(map[domain.ThreadID]uint64),
	}
}

func (s *ChatService) OnUpdate(fn func(domain.ThreadID, []domain.Message)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// ThreadWith opens (or creates) the direct thread between userID and peerID.
func (s *ChatService) ThreadWith(ctx context.Context, userID, peerID domain.UserID) (domain.Thread, error) {
	th, err := s.backend.OpenThread(ctx, userID, peerID)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("open thread: %w", err)
	}
	return th, nil
}

func (s *ChatService) Refresh(ctx context.Context, threadID domain.ThreadID) ([]domain.Message, error) {
	s.mu.Lock()
	s.gen[threadID]++
	gen, epoch := s.gen[threadID], s.epoch
	s.mu.Unlock()

	msgs, err := s.backend.ThreadMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("fetch thread %s: %w", threadID, err)
	}

	s.mu.Lock()
	if s.gen[threadID] != gen || s.epoch != epoch {
		s.mu.Unlock()
		log.Debug().Str("thread_id", threadID.String()).Msg("Discarding superseded thread fetch")
		return msgs, nil
	}
	err = s.repo.ReplaceThread(ctx, threadID, msgs)
	fn := s.onUpdate
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store thread %s: %w", threadID, err)
	}

	if fn != nil {
		fn(threadID, msgs)
	}
	return msgs, nil
}

func (s *ChatService) Messages(ctx context.Context, threadID domain.ThreadID) ([]domain.Message, error) {
	return s.repo.Thread(ctx, threadID)
}

func (s *ChatService) Send(ctx context.Context, threadID domain.ThreadID, senderID domain.UserID, text, mediaURL string) (domain.Message, error) {
	if err := domain.ValidateOutgoing(text, mediaURL); err != nil {
		return domain.Message{}, err
	}
	msg, err := s.backend.SendMessage(ctx, threadID, senderID, text, mediaURL)
	if err != nil {
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	if _, err := s.Refresh(ctx, threadID); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID.String()).Msg("Message sent but thread refresh failed")
	}
	return msg, nil
}

// Clear drops every stored thread. Fetches still in flight are discarded
// when they return.
func (s *ChatService) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	if err := s.repo.Clear(ctx); err != nil {
		return fmt.Errorf("clear threads: %w", err)
	}
	return nil
}

// Run re-fetches a thread whenever a message for it is pushed.
func (s *ChatService) Run(ctx context.Context, events EventSource) {
	ch, cancel := events.Subscribe(domain.EventMessage)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			me, ok := ev.Payload.(domain.MessageEvent)
			if !ok || me.Thread() == "" {
				continue
			}
			go func(id domain.ThreadID) {
				if _, err := s.Refresh(ctx, id); err != nil {
					log.Warn().Err(err).Str("thread_id", id.String()).Msg("Thread refresh failed")
				}
			}(me.Thread())
		}
	}
}
