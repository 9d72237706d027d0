package service

import (
	"context"
	"sync"
	"testing"

	"github.com/Wyydra/loopync/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/loopync/internal/core/domain"
)

// gatedChat answers each ThreadMessages call only once its gate is released.
type gatedChat struct {
	mu    sync.Mutex
	calls int
	gates []chan []domain.Message
	sent  []string
}

func (c *gatedChat) OpenThread(ctx context.Context, userID, peerID domain.UserID) (domain.Thread, error) {
	return domain.Thread{ID: "t-" + domain.ThreadID(peerID), PeerID: peerID}, nil
}

func (c *gatedChat) ThreadMessages(ctx context.Context, threadID domain.ThreadID) ([]domain.Message, error) {
	c.mu.Lock()
	gate := c.gates[c.calls]
	c.calls++
	c.mu.Unlock()
	return <-gate, nil
}

func (c *gatedChat) SendMessage(ctx context.Context, threadID domain.ThreadID, senderID domain.UserID, text, mediaURL string) (domain.Message, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return domain.Message{ID: "m-new", ThreadID: threadID, SenderID: senderID, Text: text}, nil
}

func (c *gatedChat) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestChatServiceLastFetchWins(t *testing.T) {
	ctx := context.Background()
	backend := &gatedChat{gates: []chan []domain.Message{make(chan []domain.Message), make(chan []domain.Message)}}
	repo := memory.NewThreadRepository()
	svc := NewChatService(repo, backend)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Refresh(ctx, "t1")
	}()
	waitFor(t, "first fetch", func() bool { return backend.Calls() == 1 })

	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Refresh(ctx, "t1")
	}()
	waitFor(t, "second fetch", func() bool { return backend.Calls() == 2 })

	// The newer fetch answers first; the older answer must not overwrite it.
	backend.gates[1] <- []domain.Message{{ID: "m1"}, {ID: "m2"}}
	backend.gates[0] <- []domain.Message{{ID: "m1"}}
	wg.Wait()

	got, _ := svc.Messages(ctx, "t1")
	if len(got) != 2 {
		t.Errorf("stored %d messages, want the newest snapshot of 2", len(got))
	}
}

func TestChatServiceSendRefreshes(t *testing.T) {
	ctx := context.Background()
	gate := make(chan []domain.Message, 1)
	gate <- []domain.Message{{ID: "m-new", Text: "hello"}}
	backend := &gatedChat{gates: []chan []domain.Message{gate}}
	svc := NewChatService(memory.NewThreadRepository(), backend)

	updates := 0
	svc.OnUpdate(func(domain.ThreadID, []domain.Message) { updates++ })

	msg, err := svc.Send(ctx, "t1", "u1", "hello", "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.ID != "m-new" {
		t.Errorf("Send() = %+v", msg)
	}
	if updates != 1 {
		t.Errorf("updates = %d, want 1", updates)
	}

	if _, err := svc.Send(ctx, "t1", "u1", "", ""); err == nil {
		t.Error("Send() of empty message succeeded")
	}
}

func TestChatServiceThreadWith(t *testing.T) {
	svc := NewChatService(memory.NewThreadRepository(), &gatedChat{})
	th, err := svc.ThreadWith(context.Background(), "u1", "u2")
	if err != nil || th.ID != "t-u2" {
		t.Errorf("ThreadWith() = %+v, %v", th, err)
	}
}

func TestChatServiceClearDiscardsInFlightFetch(t *testing.T) {
	ctx := context.Background()
	backend := &gatedChat{gates: []chan []domain.Message{make(chan []domain.Message)}}
	svc := NewChatService(memory.NewThreadRepository(), backend)

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Refresh(ctx, "t1")
	}()
	waitFor(t, "fetch", func() bool { return backend.Calls() == 1 })

	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	backend.gates[0] <- []domain.Message{{ID: "m1"}}
	<-done

	if got, _ := svc.Messages(ctx, "t1"); len(got) != 0 {
		t.Errorf("stored %+v after Clear, want nothing", got)
	}
}
