package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/loopync/internal/core/domain"
)

type ThreadRepository struct {
	mu      sync.RWMutex
	threads map[domain.ThreadID][]domain.Message
}

func NewThreadRepository() *ThreadRepository {
	return &ThreadRepository{
		threads: make(map[domain.ThreadID][]domain.Message),
	}
}

func (r *ThreadRepository) ReplaceThread(ctx context.Context, threadID domain.ThreadID, msgs []domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[threadID] = append([]domain.Message(nil), msgs...)
	return nil
}

func (r *ThreadRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = make(map[domain.ThreadID][]domain.Message)
	return nil
}

func (r *ThreadRepository) Thread(ctx context.Context, threadID domain.ThreadID) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Message{}, r.threads[threadID]...), nil
}
