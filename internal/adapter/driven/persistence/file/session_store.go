package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// SessionStore keeps the session in a small JSON file using the same keys
// the web client puts in local storage.
type SessionStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path, now: time.Now}
}

func (s *SessionStore) Path() string {
	return s.path
}

func (s *SessionStore) Load(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *SessionStore) load() (domain.Session, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Session{}, domain.ErrNoSession
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("read session file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return domain.Session{}, fmt.Errorf("decode session file: %w", err)
	}
	var token string
	if v, ok := raw[domain.TokenKey]; ok {
		if err := json.Unmarshal(v, &token); err != nil {
			return domain.Session{}, fmt.Errorf("decode %s: %w", domain.TokenKey, err)
		}
	}
	if token == "" {
		return domain.Session{}, domain.ErrNoSession
	}
	if s.expired(token) {
		log.Info().Str("path", s.path).Msg("Stored token has expired, ignoring it")
		return domain.Session{}, domain.ErrNoSession
	}

	var user *domain.User
	if v, ok := raw[domain.UserKey]; ok && string(v) != "null" {
		user = &domain.User{}
		if err := json.Unmarshal(v, user); err != nil {
			return domain.Session{}, fmt.Errorf("decode %s: %w", domain.UserKey, err)
		}
	}
	return domain.NewSession(token, user), nil
}

// expired reports whether token is a JWT whose exp lies in the past. The
// signature is not checked; opaque tokens never expire here.
func (s *SessionStore) expired(token string) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(s.now())
}

func (s *SessionStore) Save(ctx context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := map[string]any{
		domain.TokenKey: sess.Token,
		domain.UserKey:  sess.User,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
