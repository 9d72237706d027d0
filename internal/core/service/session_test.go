package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Wyydra/loopync/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/loopync/internal/core/domain"
)

type fakeAuth struct {
	sess domain.Session
	err  error
}

func (a *fakeAuth) Login(ctx context.Context, email, password string) (domain.Session, error) {
	return a.sess, a.err
}

func TestSessionServiceRestoreWithoutSession(t *testing.T) {
	socket, dialer, _, _ := newTestSocket(t, "http://backend")
	svc := NewSessionService(memory.NewSessionStore(), &fakeAuth{}, socket, nil, nil)

	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if svc.Current() != nil {
		t.Error("Current() should be nil when logged out")
	}
	if dialer.Dials() != 0 {
		t.Errorf("dialed %d times while logged out", dialer.Dials())
	}
}

func TestSessionServiceLoginLogout(t *testing.T) {
	ctx := context.Background()
	socket, dialer, _, _ := newTestSocket(t, "http://backend")
	store := memory.NewSessionStore()
	calls, _, _, _ := newTestManager(CallConfig{})
	svc := NewSessionService(store, &fakeAuth{sess: testSession}, socket, calls, nil)

	var seen []*domain.Session
	svc.OnChange(func(s *domain.Session) { seen = append(seen, s) })

	if _, err := svc.Login(ctx, "priya@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if dialer.Dials() != 1 || dialer.tokens[0] != "tok-1" {
		t.Errorf("dial tokens = %v, want [tok-1]", dialer.tokens)
	}
	if svc.UserID() != "u1" {
		t.Errorf("UserID() = %q, want u1", svc.UserID())
	}
	if _, err := store.Load(ctx); err != nil {
		t.Errorf("session not persisted: %v", err)
	}

	if err := svc.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if got := dialer.Last().Closes(); got != 1 {
		t.Errorf("connection closed %d times, want 1", got)
	}
	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrNoSession) {
		t.Errorf("Load() after logout error = %v", err)
	}
	if len(seen) != 2 || seen[0] == nil || seen[1] != nil {
		t.Errorf("observers saw %v, want login then logout", seen)
	}
}

func TestSessionServiceLoginFailure(t *testing.T) {
	socket, dialer, _, _ := newTestSocket(t, "http://backend")
	svc := NewSessionService(memory.NewSessionStore(), &fakeAuth{err: errBoom}, socket, nil, nil)

	if _, err := svc.Login(context.Background(), "a", "b"); !errors.Is(err, errBoom) {
		t.Errorf("Login() error = %v, want %v", err, errBoom)
	}
	if dialer.Dials() != 0 {
		t.Error("dialed after failed login")
	}
}

func TestSessionServiceApplyExternalChange(t *testing.T) {
	ctx := context.Background()
	socket, dialer, _, _ := newTestSocket(t, "http://backend")
	svc := NewSessionService(memory.NewSessionStore(), &fakeAuth{}, socket, nil, nil)

	svc.Apply(ctx, &testSession)
	svc.Apply(ctx, &testSession)
	if dialer.Dials() != 1 {
		t.Errorf("dialed %d times for the same token, want 1", dialer.Dials())
	}

	other := domain.NewSession("tok-2", &domain.User{ID: "u2"})
	svc.Apply(ctx, &other)
	if dialer.Dials() != 2 || dialer.conns[0].Closes() != 1 {
		t.Errorf("switching token: dials=%d, first closes=%d", dialer.Dials(), dialer.conns[0].Closes())
	}

	svc.Apply(ctx, nil)
	if svc.Current() != nil || socket.Connected() {
		t.Error("external logout left the session active")
	}
}

func TestSessionServiceLogoutClearsThreads(t *testing.T) {
	ctx := context.Background()
	socket, _, _, _ := newTestSocket(t, "http://backend")
	repo := memory.NewThreadRepository()
	gate := make(chan []domain.Message, 1)
	gate <- []domain.Message{{ID: "m1", Text: "private"}}
	chat := NewChatService(repo, &gatedChat{gates: []chan []domain.Message{gate}})
	svc := NewSessionService(memory.NewSessionStore(), &fakeAuth{sess: testSession}, socket, nil, chat)

	if _, err := svc.Login(ctx, "priya@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	if _, err := chat.Refresh(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := chat.Messages(ctx, "t1"); len(got) != 1 {
		t.Fatalf("cached %d messages before logout, want 1", len(got))
	}

	if err := svc.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if got, _ := chat.Messages(ctx, "t1"); len(got) != 0 {
		t.Errorf("thread cache survived logout: %+v", got)
	}
}
