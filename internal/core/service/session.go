package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/rs/zerolog/log"
)

// SessionService ties the stored session to the realtime connection: a
// session present means the socket context is running.
type SessionService struct {
	store  port.SessionStore
	auth   port.AuthBackend
	socket *SocketService
	calls  *CallManager
	chat   *ChatService

	mu        sync.Mutex
	current   *domain.Session
	observers []func(*domain.Session)
}

// NewSessionService wires the session to its dependents; calls and chat may
// be nil.
func NewSessionService(store port.SessionStore, auth port.AuthBackend, socket *SocketService, calls *CallManager, chat *ChatService) *SessionService {
	return &SessionService{store: store, auth: auth, socket: socket, calls: calls, chat: chat}
}

// OnChange registers fn to be called with the new session (nil on logout)
// before the socket is started.
func (s *SessionService) OnChange(fn func(*domain.Session)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Restore starts from whatever session was persisted. No stored token is not
// an error: the client simply stays logged out.
func (s *SessionService) Restore(ctx context.Context) error {
	sess, err := s.store.Load(ctx)
	if errors.Is(err, domain.ErrNoSession) {
		log.Info().Msg("No stored session, staying logged out")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	return s.activate(ctx, sess)
}

func (s *SessionService) Login(ctx context.Context, email, password string) (domain.Session, error) {
	sess, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return domain.Session{}, fmt.Errorf("login: %w", err)
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	if err := s.activate(ctx, sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

func (s *SessionService) Logout(ctx context.Context) error {
	s.deactivate(ctx)
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	log.Info().Msg("Logged out")
	return nil
}

// Apply reacts to a session changed outside this process.
func (s *SessionService) Apply(ctx context.Context, sess *domain.Session) {
	if sess == nil || !sess.Valid() {
		if s.Current() != nil {
			log.Info().Msg("Session removed externally")
			s.deactivate(ctx)
		}
		return
	}
	if cur := s.Current(); cur != nil && cur.Token == sess.Token {
		return
	}
	log.Info().Str("user_id", sess.UserID.String()).Msg("Session changed externally")
	s.deactivate(ctx)
	if err := s.activate(ctx, *sess); err != nil {
		log.Error().Err(err).Msg("Failed to start externally provided session")
	}
}

func (s *SessionService) Current() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// UserID is the signed-in user, or empty.
func (s *SessionService) UserID() domain.UserID {
	if cur := s.Current(); cur != nil {
		return cur.UserID
	}
	return ""
}

func (s *SessionService) activate(ctx context.Context, sess domain.Session) error {
	s.set(&sess)
	if _, err := s.socket.Start(ctx, sess); err != nil && !errors.Is(err, domain.ErrAlreadyStarted) {
		return fmt.Errorf("start realtime: %w", err)
	}
	log.Info().Str("user_id", sess.UserID.String()).Msg("Session active")
	return nil
}

func (s *SessionService) deactivate(ctx context.Context) {
	if s.calls != nil {
		if err := s.calls.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Call teardown on logout reported errors")
		}
	}
	if err := s.socket.Stop(); err != nil {
		log.Warn().Err(err).Msg("Realtime close reported an error")
	}
	s.socket.ClearFriendRequests()
	s.socket.ClearMessages()
	if s.chat != nil {
		if err := s.chat.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to clear cached threads")
		}
	}
	s.set(nil)
}

func (s *SessionService) set(sess *domain.Session) {
	s.mu.Lock()
	s.current = sess
	observers := make([]func(*domain.Session), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(sess)
	}
}
