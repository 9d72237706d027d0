package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeCallBackend struct {
	mu         sync.Mutex
	invitation domain.CallInvitation
	initErr    error
	endErr     error
	ended      []domain.CallID
	initiated  []domain.UserID
}

func (b *fakeCallBackend) InitiateCall(ctx context.Context, callerID, recipientID domain.UserID, callType domain.CallType) (domain.CallInvitation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initiated = append(b.initiated, recipientID)
	if b.initErr != nil {
		return domain.CallInvitation{}, b.initErr
	}
	return b.invitation, nil
}

func (b *fakeCallBackend) EndCall(ctx context.Context, callID domain.CallID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = append(b.ended, callID)
	return b.endErr
}

func (b *fakeCallBackend) Ended() []domain.CallID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.CallID(nil), b.ended...)
}

type emitted struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu   sync.Mutex
	sent []emitted
	err  error
}

func (e *fakeEmitter) Emit(event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, emitted{event, payload})
	return nil
}

func (e *fakeEmitter) Sent() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.sent...)
}

var errBoom = errors.New("boom")

func testOffer(id string, callType domain.CallType) domain.IncomingCallOffer {
	return domain.IncomingCallOffer{
		CallID:      domain.CallID(id),
		ChannelName: "ch-" + id,
		AppID:       "a1",
		Token:       "tok-callee",
		CalleeUID:   42,
		CallerID:    "u9",
		CallerName:  "Arjun",
		CallType:    callType,
	}
}
